package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataSource_IsLLM(t *testing.T) {
	assert.True(t, SourceGPT.IsLLM())
	assert.False(t, SourceRapidAPI.IsLLM())
	assert.False(t, SourceGooglePlaces.IsLLM())
	assert.False(t, SourceDB.IsLLM())
}

func TestDataSource_Valid(t *testing.T) {
	for _, s := range ExternalSources {
		assert.True(t, s.Valid(), s)
	}
	assert.True(t, SourceDB.Valid())
	assert.False(t, DataSource("bing").Valid())
}

func TestCandidateContact_HasData(t *testing.T) {
	assert.False(t, CandidateContact{}.HasData())
	assert.False(t, CandidateContact{FirstName: "  ", Email: "\t"}.HasData())
	assert.True(t, CandidateContact{Phone: "305-555-0100"}.HasData())
	assert.True(t, CandidateContact{LastName: "Diaz"}.HasData())
}

func TestCandidateAddress_OneLine(t *testing.T) {
	tests := []struct {
		name string
		addr *CandidateAddress
		want string
	}{
		{"nil", nil, ""},
		{"structured", &CandidateAddress{Street1: "1 Main St", City: "Miami", State: "FL", Zipcode: "33101"}, "1 Main St, Miami, FL, 33101"},
		{"skips blanks", &CandidateAddress{Street1: " ", City: "Austin", State: "TX"}, "Austin, TX"},
		{"text fallback", &CandidateAddress{Text: " 200 Congress Ave, Austin TX "}, "200 Congress Ave, Austin TX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.addr.OneLine())
		})
	}
}

func TestCandidateAddress_IsEmpty(t *testing.T) {
	lat, lng := 25.76, -80.19
	var nilAddr *CandidateAddress
	assert.True(t, nilAddr.IsEmpty())
	assert.True(t, (&CandidateAddress{}).IsEmpty())
	assert.False(t, (&CandidateAddress{Text: "Miami"}).IsEmpty())
	assert.False(t, (&CandidateAddress{Lat: &lat, Long: &lng}).IsEmpty())
	assert.True(t, (&CandidateAddress{Lat: &lat}).IsEmpty())
}

func TestLeadRecord_JSONShape(t *testing.T) {
	d := 1.25
	email := "ana@example.com"
	rec := LeadRecord{
		Lead:          Lead{ID: 7},
		Contact:       &Contact{ID: 3, FirstName: "Ana", Email: &email},
		DistanceMiles: &d,
	}
	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.EqualValues(t, 7, m["lead_id"])
	assert.EqualValues(t, 1.25, m["distance_miles"])
	assert.Nil(t, m["address"])
	contact := m["contact"].(map[string]any)
	assert.Equal(t, "ana@example.com", contact["email"])
}

func TestPersistStats_Add(t *testing.T) {
	s := PersistStats{Inserted: 1}
	s.Add(PersistStats{Inserted: 2, Duplicates: 1, Failed: 3})
	assert.Equal(t, PersistStats{Inserted: 3, Duplicates: 1, Failed: 3}, s)
}
