// Package websearch finds agents by letting an LLM drive a bounded number
// of Brave web searches and answer with a JSON array of leads.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zalahq/leadscout/internal/model"
	"github.com/zalahq/leadscout/internal/provider"
	"github.com/zalahq/leadscout/internal/quota"
	"github.com/zalahq/leadscout/pkg/anthropic"
	"github.com/zalahq/leadscout/pkg/brave"
)

// Quota keys.
const (
	AnthropicQuotaKey = "anthropic"
	BraveQuotaKey     = "brave"
)

// Defaults.
const (
	DefaultModel                 = "claude-haiku-4-5-20251001"
	DefaultMaxTokens             = 4096
	DefaultMaxSearches           = 10
	DefaultAnthropicMonthlyLimit = 1000
	DefaultBraveMonthlyLimit     = 2000

	toolName = "web_search"
)

// Config tunes the tool loop.
type Config struct {
	Model                 string
	MaxTokens             int64
	MaxSearches           int
	AnthropicMonthlyLimit int
	BraveMonthlyLimit     int
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxSearches <= 0 {
		c.MaxSearches = DefaultMaxSearches
	}
	if c.AnthropicMonthlyLimit <= 0 {
		c.AnthropicMonthlyLimit = DefaultAnthropicMonthlyLimit
	}
	if c.BraveMonthlyLimit <= 0 {
		c.BraveMonthlyLimit = DefaultBraveMonthlyLimit
	}
	return c
}

var webSearchTool = anthropic.Tool{
	Name:        toolName,
	Description: "Search the web for up-to-date information using a web search API.",
	Properties: map[string]any{
		"query": map[string]any{"type": "string", "description": "Search query to look up."},
		"count": map[string]any{"type": "integer", "description": "Number of results to return", "default": brave.DefaultCount},
	},
	Required: []string{"query"},
}

type searchArgs struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// Adapter implements provider.Provider over Anthropic and Brave.
type Adapter struct {
	llm    anthropic.Client
	search brave.Client
	quota  quota.Reserver
	cfg    Config
	log    *zap.Logger
}

// New creates the web-search adapter.
func New(llm anthropic.Client, search brave.Client, q quota.Reserver, cfg Config) *Adapter {
	return &Adapter{
		llm:    llm,
		search: search,
		quota:  q,
		cfg:    cfg.withDefaults(),
		log:    zap.L().With(zap.String("provider", string(model.SourceGPT))),
	}
}

// Name implements provider.Provider.
func (a *Adapter) Name() model.DataSource { return model.SourceGPT }

// loop is the state of one conversation.
type loop struct {
	messages  []anthropic.Message
	searches  int
	exhausted bool
	usage     anthropic.TokenUsage
}

// Search runs the tool loop for q.Location and parses the final answer.
func (a *Adapter) Search(ctx context.Context, q provider.Query) ([]model.CandidateLead, error) {
	location := strings.TrimSpace(q.Location)
	if location == "" {
		return nil, provider.Failf(model.SourceGPT, "Web search requires a location.")
	}

	text, err := a.converse(ctx, BuildPrompt(location, q.DynamicFilter))
	if err != nil {
		return nil, provider.Fail(model.SourceGPT, err)
	}

	leads, skips, err := ParseLeads(text)
	if err != nil {
		a.log.Warn("websearch: unparseable answer",
			zap.Error(err), zap.Int("answer_len", len(text)))
		return nil, provider.Fail(model.SourceGPT, err)
	}
	for _, s := range skips {
		a.log.Debug("websearch: skipped record", zap.Int("index", s.Index), zap.String("reason", s.Reason))
	}
	a.log.Info("websearch: answer parsed",
		zap.String("location", location),
		zap.Int("leads", len(leads)),
		zap.Int("skipped", len(skips)),
	)
	return provider.Cap(leads, q.MaxResults), nil
}

// converse drives the model until it answers without asking for a tool.
// Once the budget is spent any further tool request gets the search-limit
// message and one last call with tools disabled.
func (a *Adapter) converse(ctx context.Context, prompt string) (string, error) {
	l := &loop{messages: []anthropic.Message{anthropic.UserText(prompt)}}
	defer func() { l.usage.LogCost(a.cfg.Model, "websearch") }()

	for turn := 1; ; turn++ {
		resp, err := a.call(ctx, l, false)
		if err != nil {
			return "", err
		}
		uses := resp.ToolUses()
		if len(uses) == 0 {
			return resp.Text(), nil
		}

		l.messages = append(l.messages, resp.AsAssistant())
		if l.exhausted || l.searches >= a.cfg.MaxSearches || turn > a.cfg.MaxSearches {
			return a.finish(ctx, l, uses)
		}
		results := make([]anthropic.ContentBlock, 0, len(uses))
		for _, use := range uses {
			results = append(results, a.runTool(ctx, l, use))
		}
		l.messages = append(l.messages, anthropic.Message{Role: "user", Content: results})
	}
}

// finish answers the pending tool requests with the limit notice and asks
// for the final answer.
func (a *Adapter) finish(ctx context.Context, l *loop, pending []anthropic.ContentBlock) (string, error) {
	a.log.Debug("websearch: search limit reached", zap.Int("searches", l.searches))
	content := make([]anthropic.ContentBlock, 0, len(pending)+1)
	for _, use := range pending {
		content = append(content, anthropic.ToolResult(use.ID, "Search limit reached.", true))
	}
	content = append(content, anthropic.ContentBlock{Type: anthropic.BlockText, Text: SearchLimitMessage})
	l.messages = append(l.messages, anthropic.Message{Role: "user", Content: content})

	resp, err := a.call(ctx, l, true)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (a *Adapter) call(ctx context.Context, l *loop, final bool) (*anthropic.MessageResponse, error) {
	if _, err := a.quota.Reserve(ctx, AnthropicQuotaKey, a.cfg.AnthropicMonthlyLimit); err != nil {
		return nil, eris.Wrap(err, "websearch: reserve model call")
	}
	resp, err := a.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:        a.cfg.Model,
		MaxTokens:    a.cfg.MaxTokens,
		System:       anthropic.CachedSystem(SystemPrompt(a.cfg.MaxSearches)),
		Messages:     l.messages,
		Tools:        []anthropic.Tool{webSearchTool},
		DisableTools: final,
	})
	if err != nil {
		return nil, eris.Wrap(err, "websearch: create message")
	}
	l.usage.Add(resp.Usage)
	return resp, nil
}

// runTool executes one tool_use block. Failures go back to the model as
// error results; the conversation continues.
func (a *Adapter) runTool(ctx context.Context, l *loop, use anthropic.ContentBlock) anthropic.ContentBlock {
	if use.Name != toolName {
		return anthropic.ToolResult(use.ID, "Unknown tool: "+use.Name, true)
	}
	if l.exhausted || l.searches >= a.cfg.MaxSearches {
		return anthropic.ToolResult(use.ID, "Search limit reached.", true)
	}

	var args searchArgs
	if err := json.Unmarshal(use.Input, &args); err != nil || strings.TrimSpace(args.Query) == "" {
		return anthropic.ToolResult(use.ID, "Invalid arguments: query is required.", true)
	}
	if args.Count == 0 {
		args.Count = brave.DefaultCount
	}

	l.searches++
	if _, err := a.quota.Reserve(ctx, BraveQuotaKey, a.cfg.BraveMonthlyLimit); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			l.exhausted = true
		}
		a.log.Warn("websearch: search not reserved", zap.Error(err))
		return anthropic.ToolResult(use.ID, err.Error(), true)
	}

	a.log.Debug("websearch: searching",
		zap.Int("search", l.searches),
		zap.Int("max_searches", a.cfg.MaxSearches),
		zap.String("query", args.Query),
	)
	results, err := a.search.Search(ctx, args.Query, brave.ClampCount(args.Count))
	if err != nil {
		a.log.Warn("websearch: search failed", zap.String("query", args.Query), zap.Error(err))
		return anthropic.ToolResult(use.ID, "Search failed: "+err.Error(), true)
	}
	return anthropic.ToolResult(use.ID, brave.Format(results), false)
}
