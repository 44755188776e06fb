// Package directory adapts the RapidAPI Zillow agent directory into
// candidate leads.
package directory

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zalahq/leadscout/internal/model"
	"github.com/zalahq/leadscout/internal/provider"
	"github.com/zalahq/leadscout/internal/quota"
	"github.com/zalahq/leadscout/pkg/rapidapi"
)

const (
	// QuotaKey is the usage counter charged once per page request.
	QuotaKey = "rapidapi"

	DefaultMonthlyLimit = 95
	DefaultMaxPages     = 10
	DefaultConcurrency  = 3

	personType = "agent"
)

// Config tunes paging and quota.
type Config struct {
	MonthlyLimit int
	PageSize     int
	MaxPages     int
	Concurrency  int
}

func (c Config) withDefaults() Config {
	if c.MonthlyLimit <= 0 {
		c.MonthlyLimit = DefaultMonthlyLimit
	}
	if c.PageSize <= 0 || c.PageSize > rapidapi.MaxPageSize {
		c.PageSize = rapidapi.MaxPageSize
	}
	if c.MaxPages <= 0 || c.MaxPages > DefaultMaxPages {
		c.MaxPages = DefaultMaxPages
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// Adapter implements provider.Provider for the agent directory.
type Adapter struct {
	client rapidapi.Client
	quota  quota.Reserver
	cfg    Config
	log    *zap.Logger
}

// New creates a directory adapter.
func New(client rapidapi.Client, q quota.Reserver, cfg Config) *Adapter {
	return &Adapter{
		client: client,
		quota:  q,
		cfg:    cfg.withDefaults(),
		log:    zap.L().With(zap.String("provider", string(model.SourceRapidAPI))),
	}
}

// Name implements provider.Provider.
func (a *Adapter) Name() model.DataSource { return model.SourceRapidAPI }

type pageResult struct {
	items []rapidapi.Professional
	err   error
}

// Search pages through the directory. Page 1 must succeed; later pages are
// fetched in waves and merged in page order until a page is empty, brings
// nothing new, fails, or the result cap is met.
func (a *Adapter) Search(ctx context.Context, q provider.Query) ([]model.CandidateLead, error) {
	location := strings.TrimSpace(q.Location)
	if location == "" {
		return nil, provider.Failf(model.SourceRapidAPI, "RapidAPI search requires a location.")
	}

	first, err := a.fetchPage(ctx, location, 1)
	if err != nil {
		return nil, provider.Fail(model.SourceRapidAPI, err)
	}
	if len(first) == 0 {
		return nil, provider.Failf(model.SourceRapidAPI, "RapidAPI response did not include any professionals.")
	}

	seen := make(map[string]struct{})
	var merged []rapidapi.Professional
	merge := func(items []rapidapi.Professional) int {
		added := 0
		for _, p := range items {
			k := p.Key()
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			merged = append(merged, p)
			added++
		}
		return added
	}
	merge(first)

	done := len(first) < a.cfg.PageSize || a.full(len(merged), q.MaxResults)
	for next := 2; !done && next <= a.cfg.MaxPages; next += a.cfg.Concurrency {
		last := min(next+a.cfg.Concurrency-1, a.cfg.MaxPages)
		wave := a.fetchWave(ctx, location, next, last)

		for i, res := range wave {
			page := next + i
			if res.err != nil {
				a.log.Warn("directory: page failed, keeping earlier pages",
					zap.Int("page", page), zap.Error(res.err))
				done = true
				break
			}
			if len(res.items) == 0 || merge(res.items) == 0 {
				done = true
				break
			}
			if len(res.items) < a.cfg.PageSize || a.full(len(merged), q.MaxResults) {
				done = true
				break
			}
		}
	}

	leads := make([]model.CandidateLead, 0, len(merged))
	for _, p := range merged {
		leads = append(leads, toCandidate(p))
	}
	a.log.Debug("directory: search complete",
		zap.String("location", location), zap.Int("leads", len(leads)))
	return provider.Cap(leads, q.MaxResults), nil
}

func (a *Adapter) full(n, max int) bool {
	return max > 0 && n >= max
}

// fetchWave fetches pages first..last concurrently. Results are indexed by
// page so merging keeps page order.
func (a *Adapter) fetchWave(ctx context.Context, location string, first, last int) []pageResult {
	results := make([]pageResult, last-first+1)
	var g errgroup.Group
	g.SetLimit(a.cfg.Concurrency)
	for page := first; page <= last; page++ {
		idx := page - first
		g.Go(func() error {
			items, err := a.fetchPage(ctx, location, page)
			results[idx] = pageResult{items: items, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *Adapter) fetchPage(ctx context.Context, location string, page int) ([]rapidapi.Professional, error) {
	if _, err := a.quota.Reserve(ctx, QuotaKey, a.cfg.MonthlyLimit); err != nil {
		return nil, eris.Wrapf(err, "directory: reserve page %d", page)
	}
	resp, err := a.client.SearchAgents(ctx, rapidapi.SearchRequest{
		Location: location,
		Page:     page,
		PageSize: a.cfg.PageSize,
	})
	if err != nil {
		return nil, err
	}
	return resp.Professionals, nil
}

func toCandidate(p rapidapi.Professional) model.CandidateLead {
	first, last := provider.SplitName(p.FullName)
	lead := model.CandidateLead{
		PersonType: personType,
		Business:   strings.TrimSpace(p.BusinessName),
		Website:    strings.TrimSpace(p.ProfileLink),
		Contact: model.CandidateContact{
			FirstName: first,
			LastName:  last,
			Phone:     strings.TrimSpace(p.PhoneNumber),
		},
		Source: model.SourceRapidAPI,
	}
	if loc := strings.TrimSpace(p.Location); loc != "" {
		lead.Address = &model.CandidateAddress{Text: loc}
	}
	return lead
}
