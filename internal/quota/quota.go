// Package quota enforces hard monthly call ceilings per external provider.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zalahq/leadscout/internal/model"
)

// ErrQuotaExceeded matches any ExceededError via errors.Is.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ExceededError reports that a provider hit its ceiling for the period.
type ExceededError struct {
	Provider string
	Max      int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s monthly quota exceeded (%d calls).", e.Provider, e.Max)
}

// Is makes errors.Is(err, ErrQuotaExceeded) true.
func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Usage is the stored counter of one provider.
type Usage struct {
	Period string `json:"period"`
	Count  int    `json:"count"`
}

// Store persists usage counters. Update must apply fn atomically with respect
// to other callers of the same store, and must not persist anything when fn
// returns an error.
type Store interface {
	Update(ctx context.Context, provider string, fn func(Usage) (Usage, error)) error
	List(ctx context.Context) (map[string]Usage, error)
	Delete(ctx context.Context, provider string) error
}

// Reserver is what provider adapters depend on.
type Reserver interface {
	Reserve(ctx context.Context, provider string, maxPerPeriod int) (int, error)
}

// Period returns the UTC calendar month of t as YYYY-MM.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Governor reserves calls against a Store.
type Governor struct {
	store Store
	now   func() time.Time
	mu    sync.Mutex
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		g.now = now
	}
}

// NewGovernor creates a Governor over store.
func NewGovernor(store Store, opts ...Option) *Governor {
	g := &Governor{store: store, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Reserve records one call for provider in the current period and returns
// the new count. When the stored count already equals maxPerPeriod it
// returns an ExceededError and leaves the count unchanged.
func (g *Governor) Reserve(ctx context.Context, provider string, maxPerPeriod int) (int, error) {
	if maxPerPeriod <= 0 {
		return 0, eris.Errorf("quota: max per period must be positive, got %d", maxPerPeriod)
	}
	key := strings.TrimSpace(provider)
	if key == "" {
		return 0, eris.New("quota: empty provider key")
	}
	period := Period(g.now())

	g.mu.Lock()
	defer g.mu.Unlock()

	var count int
	err := g.store.Update(ctx, key, func(u Usage) (Usage, error) {
		if u.Period != period {
			u = Usage{Period: period}
		}
		if u.Count < 0 {
			u.Count = 0
		}
		if u.Count >= maxPerPeriod {
			return u, &ExceededError{Provider: key, Max: maxPerPeriod}
		}
		u.Count++
		count = u.Count
		return u, nil
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			zap.L().Warn("quota: exceeded",
				zap.String("provider", key),
				zap.Int("max", maxPerPeriod),
				zap.String("period", period),
			)
			return 0, err
		}
		return 0, eris.Wrapf(err, "quota: reserve %s", key)
	}
	return count, nil
}

// Usage lists stored counters sorted by provider. Counters from an older
// period are reported as zero for the current one.
func (g *Governor) Usage(ctx context.Context) ([]model.ProviderUsage, error) {
	rows, err := g.store.List(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "quota: list usage")
	}
	period := Period(g.now())
	out := make([]model.ProviderUsage, 0, len(rows))
	for p, u := range rows {
		if u.Period != period {
			u = Usage{Period: period}
		}
		out = append(out, model.ProviderUsage{Provider: p, Period: u.Period, Count: u.Count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

// Reset clears the counter of provider.
func (g *Governor) Reset(ctx context.Context, provider string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return eris.Wrapf(g.store.Delete(ctx, strings.TrimSpace(provider)), "quota: reset %s", provider)
}
