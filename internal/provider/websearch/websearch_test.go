package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalahq/leadscout/internal/model"
	"github.com/zalahq/leadscout/internal/provider"
	"github.com/zalahq/leadscout/internal/quota"
	"github.com/zalahq/leadscout/pkg/anthropic"
	"github.com/zalahq/leadscout/pkg/brave"
)

const answer = `[{"firstName":"Ana","lastName":"Lopez","email":"ana@x.com"},{"firstName":"Bo","lastName":"Diaz","email":"bo@x.com"}]`

// scriptedLLM asks for a search on every turn until maxToolTurns is hit or
// tools are disabled, then answers.
type scriptedLLM struct {
	maxToolTurns int
	answer       string
	err          error
	requests     []anthropic.MessageRequest
}

func (s *scriptedLLM) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	usage := anthropic.TokenUsage{InputTokens: 100, OutputTokens: 10}
	if req.DisableTools || len(s.requests) > s.maxToolTurns {
		return &anthropic.MessageResponse{
			Content:    []anthropic.ContentBlock{{Type: anthropic.BlockText, Text: s.answer}},
			StopReason: anthropic.StopEndTurn,
			Usage:      usage,
		}, nil
	}
	input, _ := json.Marshal(map[string]any{"query": "agents miami"})
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{
			Type:  anthropic.BlockToolUse,
			ID:    "tu_" + string(rune('a'+len(s.requests))),
			Name:  toolName,
			Input: input,
		}},
		StopReason: anthropic.StopToolUse,
		Usage:      usage,
	}, nil
}

type fakeBrave struct {
	queries []string
	counts  []int
	err     error
}

func (f *fakeBrave) Search(_ context.Context, query string, count int) ([]brave.Result, error) {
	f.queries = append(f.queries, query)
	f.counts = append(f.counts, count)
	if f.err != nil {
		return nil, f.err
	}
	return []brave.Result{{Title: "Sunrise Realty", Description: "Agents in Miami", URL: "https://sunrise.example"}}, nil
}

type keyedQuota struct {
	mu     sync.Mutex
	limits map[string]int
	counts map[string]int
}

func newKeyedQuota(limits map[string]int) *keyedQuota {
	return &keyedQuota{limits: limits, counts: map[string]int{}}
}

func (q *keyedQuota) Reserve(_ context.Context, provider string, max int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.limits[provider]; ok {
		max = l
	}
	if q.counts[provider] >= max {
		return q.counts[provider], &quota.ExceededError{Provider: provider, Max: max}
	}
	q.counts[provider]++
	return q.counts[provider], nil
}

func lastUserText(req anthropic.MessageRequest) string {
	msg := req.Messages[len(req.Messages)-1]
	for _, c := range msg.Content {
		if c.Type == anthropic.BlockText {
			return c.Text
		}
	}
	return ""
}

func TestSearch_DirectAnswer(t *testing.T) {
	llm := &scriptedLLM{answer: answer}
	search := &fakeBrave{}
	a := New(llm, search, newKeyedQuota(nil), Config{})

	leads, err := a.Search(context.Background(), provider.Query{Location: "Miami, FL", DynamicFilter: "luxury"})
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, model.SourceGPT, leads[0].Source)
	assert.Empty(t, search.queries)

	require.Len(t, llm.requests, 1)
	req := llm.requests[0]
	assert.Equal(t, DefaultModel, req.Model)
	require.Len(t, req.System, 1)
	assert.NotNil(t, req.System[0].CacheControl)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "web_search", req.Tools[0].Name)
	assert.Contains(t, lastUserText(req), "criteria: luxury")
}

func TestSearch_ToolLoop(t *testing.T) {
	llm := &scriptedLLM{maxToolTurns: 2, answer: answer}
	search := &fakeBrave{}
	q := newKeyedQuota(nil)
	a := New(llm, search, q, Config{MaxSearches: 5})

	leads, err := a.Search(context.Background(), provider.Query{Location: "Miami, FL"})
	require.NoError(t, err)
	assert.Len(t, leads, 2)

	assert.Equal(t, []string{"agents miami", "agents miami"}, search.queries)
	assert.Equal(t, []int{10, 10}, search.counts)
	require.Len(t, llm.requests, 3)
	assert.False(t, llm.requests[2].DisableTools)

	// user, assistant, tool results, assistant, tool results
	msgs := llm.requests[2].Messages
	require.Len(t, msgs, 5)
	result := msgs[2].Content[0]
	assert.Equal(t, anthropic.BlockToolResult, result.Type)
	assert.Equal(t, "tu_b", result.ToolUseID)
	assert.Contains(t, result.Text, "Sunrise Realty\nAgents in Miami\nhttps://sunrise.example")
	assert.False(t, result.IsError)

	assert.Equal(t, 2, q.counts[BraveQuotaKey])
	assert.Equal(t, 3, q.counts[AnthropicQuotaKey])
}

func TestSearch_BudgetForcesFinalAnswer(t *testing.T) {
	llm := &scriptedLLM{maxToolTurns: 100, answer: answer}
	search := &fakeBrave{}
	a := New(llm, search, newKeyedQuota(nil), Config{MaxSearches: 2})

	leads, err := a.Search(context.Background(), provider.Query{Location: "Miami, FL"})
	require.NoError(t, err)
	assert.Len(t, leads, 2)
	assert.Len(t, search.queries, 2)

	require.Len(t, llm.requests, 4)
	final := llm.requests[3]
	assert.True(t, final.DisableTools)
	assert.Equal(t, SearchLimitMessage, lastUserText(final))
	assert.Contains(t, final.System[0].Text, "maximum of 2 searches")
}

func TestSearch_BraveQuotaEndsSearching(t *testing.T) {
	llm := &scriptedLLM{maxToolTurns: 100, answer: answer}
	search := &fakeBrave{}
	a := New(llm, search, newKeyedQuota(map[string]int{BraveQuotaKey: 1}), Config{MaxSearches: 10})

	leads, err := a.Search(context.Background(), provider.Query{Location: "Miami, FL"})
	require.NoError(t, err)
	assert.Len(t, leads, 2)
	assert.Len(t, search.queries, 1)

	// search, refused search, forced answer
	require.Len(t, llm.requests, 4)
	assert.True(t, llm.requests[3].DisableTools)
	refused := llm.requests[2].Messages[4].Content[0]
	assert.True(t, refused.IsError)
	assert.Equal(t, "brave monthly quota exceeded (1 calls).", refused.Text)
}

func TestSearch_SearchErrorGoesBackToModel(t *testing.T) {
	llm := &scriptedLLM{maxToolTurns: 1, answer: answer}
	search := &fakeBrave{err: errors.New("brave: status 503")}
	a := New(llm, search, newKeyedQuota(nil), Config{})

	leads, err := a.Search(context.Background(), provider.Query{Location: "Miami, FL"})
	require.NoError(t, err)
	assert.Len(t, leads, 2)

	result := llm.requests[1].Messages[2].Content[0]
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text, "Search failed")
}

func TestSearch_ModelQuotaExceeded(t *testing.T) {
	llm := &scriptedLLM{answer: answer}
	a := New(llm, &fakeBrave{}, newKeyedQuota(map[string]int{AnthropicQuotaKey: 0}), Config{})

	_, err := a.Search(context.Background(), provider.Query{Location: "Miami, FL"})
	var epe *provider.ExternalProviderError
	require.ErrorAs(t, err, &epe)
	assert.Equal(t, "anthropic monthly quota exceeded (0 calls).", epe.Message)
	assert.Empty(t, llm.requests)
}

func TestSearch_ModelError(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("overloaded")}
	a := New(llm, &fakeBrave{}, newKeyedQuota(nil), Config{})

	_, err := a.Search(context.Background(), provider.Query{Location: "Miami, FL"})
	var epe *provider.ExternalProviderError
	require.ErrorAs(t, err, &epe)
	assert.Contains(t, epe.Message, "overloaded")
}

func TestSearch_UnparseableAnswer(t *testing.T) {
	llm := &scriptedLLM{answer: "Sorry, I found nothing."}
	a := New(llm, &fakeBrave{}, newKeyedQuota(nil), Config{})

	_, err := a.Search(context.Background(), provider.Query{Location: "Miami, FL"})
	var epe *provider.ExternalProviderError
	require.ErrorAs(t, err, &epe)
	assert.Equal(t, model.SourceGPT, epe.Source)
}

func TestSearch_CapsResults(t *testing.T) {
	llm := &scriptedLLM{answer: answer}
	a := New(llm, &fakeBrave{}, newKeyedQuota(nil), Config{})

	leads, err := a.Search(context.Background(), provider.Query{Location: "Miami, FL", MaxResults: 1})
	require.NoError(t, err)
	assert.Len(t, leads, 1)
}
