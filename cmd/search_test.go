package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalahq/leadscout/internal/model"
	"github.com/zalahq/leadscout/internal/search"
)

func TestRunSearch_PrintsResponse(t *testing.T) {
	fs := &fakeSearcher{resp: &search.Response{
		AggregatedLeads: []model.LeadRecord{},
		Errors:          map[model.DataSource]string{model.SourceDB: "Geocoding failed"},
	}}
	var buf bytes.Buffer

	require.NoError(t, runSearch(context.Background(), fs, "Nowhere, ZZ", &buf))

	require.Len(t, fs.calls, 1)
	assert.Equal(t, "Nowhere, ZZ", fs.calls[0].LocationText)

	var body map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &body))
	assert.Equal(t, []any{}, body["aggregated_leads"])
	assert.Equal(t, "Geocoding failed", body["errors"].(map[string]any)["db"])
	assert.NotContains(t, body, "external_persistence")
}

func TestRunSearch_BlankLocation(t *testing.T) {
	fs := &fakeSearcher{}
	err := runSearch(context.Background(), fs, "  ", &bytes.Buffer{})
	assert.Error(t, err)
	assert.Empty(t, fs.calls)
}
