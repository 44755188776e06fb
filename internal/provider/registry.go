package provider

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/zalahq/leadscout/internal/model"
	"github.com/zalahq/leadscout/internal/quota"
	"github.com/zalahq/leadscout/internal/resilience"
)

// Registry holds the enabled providers, each behind its own breaker.
type Registry struct {
	mu        sync.RWMutex
	providers map[model.DataSource]Provider
	breakers  *resilience.Breakers
}

// NewRegistry creates an empty registry. Quota exhaustion and caller
// cancellation never count as breaker failures.
func NewRegistry(cfg resilience.BreakerConfig) *Registry {
	cfg.ShouldTrip = func(err error) bool {
		return err != nil &&
			!errors.Is(err, quota.ErrQuotaExceeded) &&
			!errors.Is(err, context.Canceled)
	}
	cfg.OnStateChange = func(name string, from, to resilience.State) {
		zap.L().Warn("provider: circuit state changed",
			zap.String("provider", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return &Registry{
		providers: make(map[model.DataSource]Provider),
		breakers:  resilience.NewBreakers(cfg),
	}
}

// Register adds p, replacing any provider with the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider for src, or nil.
func (r *Registry) Get(src model.DataSource) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[src]
}

// Enabled returns registered sources in dispatch order.
func (r *Registry) Enabled() []model.DataSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.DataSource, 0, len(r.providers))
	for _, src := range model.ExternalSources {
		if _, ok := r.providers[src]; ok {
			out = append(out, src)
		}
	}
	// Sources outside the known list go last, by name.
	var extra []model.DataSource
	for src := range r.providers {
		if !contains(model.ExternalSources, src) {
			extra = append(extra, src)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// Search runs the named provider through its breaker. Every failure comes
// back as an *ExternalProviderError.
func (r *Registry) Search(ctx context.Context, src model.DataSource, q Query) ([]model.CandidateLead, error) {
	p := r.Get(src)
	if p == nil {
		return nil, Failf(src, "%s provider is not configured", src)
	}
	leads, err := resilience.Call(ctx, r.breakers.Get(string(src)), func(ctx context.Context) ([]model.CandidateLead, error) {
		return p.Search(ctx, q)
	})
	if err != nil {
		return nil, Fail(src, err)
	}
	return Cap(leads, q.MaxResults), nil
}

// Breakers snapshots breaker states by provider name.
func (r *Registry) Breakers() map[string]resilience.State {
	return r.breakers.States()
}

func contains(list []model.DataSource, s model.DataSource) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
