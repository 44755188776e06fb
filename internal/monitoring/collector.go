// Package monitoring watches provider quotas and circuit breakers and
// raises alerts when a provider is close to, or already, unusable.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/zalahq/leadscout/internal/model"
	"github.com/zalahq/leadscout/internal/resilience"
)

// QuotaStatus is one provider's monthly usage against its limit.
type QuotaStatus struct {
	Provider string  `json:"provider"`
	Period   string  `json:"period"`
	Count    int     `json:"count"`
	Limit    int     `json:"limit"`
	Used     float64 `json:"used"`
}

// MetricsSnapshot holds a point-in-time view of provider health.
type MetricsSnapshot struct {
	Quotas []QuotaStatus `json:"quotas"`
	// OpenBreakers lists providers whose breaker is not closed, by state.
	OpenBreakers map[string]string `json:"open_breakers,omitempty"`
	CollectedAt  time.Time         `json:"collected_at"`
}

// UsageLister is satisfied by *quota.Governor.
type UsageLister interface {
	Usage(ctx context.Context) ([]model.ProviderUsage, error)
}

// BreakerLister snapshots breaker states by provider name.
type BreakerLister func() map[string]resilience.State

// Collector gathers quota usage and breaker states.
type Collector struct {
	usage    UsageLister
	breakers BreakerLister
	limits   map[string]int
}

// NewCollector creates a collector. limits maps quota keys to monthly
// limits; counters without a limit are reported with Used=0.
func NewCollector(usage UsageLister, breakers BreakerLister, limits map[string]int) *Collector {
	return &Collector{usage: usage, breakers: breakers, limits: limits}
}

// Collect gathers a snapshot.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{CollectedAt: time.Now().UTC()}

	rows, err := c.usage.Usage(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list usage")
	}
	for _, r := range rows {
		qs := QuotaStatus{Provider: r.Provider, Period: r.Period, Count: r.Count, Limit: c.limits[r.Provider]}
		if qs.Limit > 0 {
			qs.Used = float64(qs.Count) / float64(qs.Limit)
		}
		snap.Quotas = append(snap.Quotas, qs)
	}
	sort.Slice(snap.Quotas, func(i, j int) bool { return snap.Quotas[i].Provider < snap.Quotas[j].Provider })

	if c.breakers != nil {
		for name, st := range c.breakers() {
			if st == resilience.Closed {
				continue
			}
			if snap.OpenBreakers == nil {
				snap.OpenBreakers = make(map[string]string)
			}
			snap.OpenBreakers[name] = st.String()
		}
	}

	return snap, nil
}
