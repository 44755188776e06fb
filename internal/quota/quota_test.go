package quota

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	data     map[string]Usage
	writeErr error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]Usage)}
}

func (m *memStore) Update(_ context.Context, provider string, fn func(Usage) (Usage, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := fn(m.data[provider])
	if err != nil {
		return err
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.data[provider] = next
	return nil
}

func (m *memStore) List(_ context.Context) (map[string]Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Usage, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, provider)
	return nil
}

func fixedClock(s string) func() time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return func() time.Time { return t }
}

func TestPeriod_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	// 2026-01-31 22:00 local is already February in UTC.
	ts := time.Date(2026, 1, 31, 22, 0, 0, 0, loc)
	assert.Equal(t, "2026-02", Period(ts))
}

func TestGovernor_FourthReservationFails(t *testing.T) {
	store := newMemStore()
	g := NewGovernor(store, WithClock(fixedClock("2026-03-10T12:00:00Z")))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := g.Reserve(ctx, "rapidapi", 3)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	_, err := g.Reserve(ctx, "rapidapi", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	var qe *ExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "rapidapi monthly quota exceeded (3 calls).", qe.Error())

	assert.Equal(t, Usage{Period: "2026-03", Count: 3}, store.data["rapidapi"])
}

func TestGovernor_PeriodRollover(t *testing.T) {
	store := newMemStore()
	store.data["rapidapi"] = Usage{Period: "2026-02", Count: 95}
	g := NewGovernor(store, WithClock(fixedClock("2026-03-01T00:00:01Z")))

	n, err := g.Reserve(context.Background(), "rapidapi", 95)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, Usage{Period: "2026-03", Count: 1}, store.data["rapidapi"])
}

func TestGovernor_ProvidersIndependent(t *testing.T) {
	store := newMemStore()
	g := NewGovernor(store, WithClock(fixedClock("2026-03-10T12:00:00Z")))
	ctx := context.Background()

	_, err := g.Reserve(ctx, "rapidapi", 1)
	require.NoError(t, err)
	n, err := g.Reserve(ctx, "brave", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGovernor_InvalidArguments(t *testing.T) {
	g := NewGovernor(newMemStore())
	_, err := g.Reserve(context.Background(), "rapidapi", 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQuotaExceeded)

	_, err = g.Reserve(context.Background(), "  ", 5)
	require.Error(t, err)
}

func TestGovernor_WriteFailureIsError(t *testing.T) {
	store := newMemStore()
	store.writeErr = errors.New("disk full")
	g := NewGovernor(store)

	_, err := g.Reserve(context.Background(), "rapidapi", 5)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQuotaExceeded)
	assert.Contains(t, err.Error(), "disk full")
}

func TestGovernor_ConcurrentReservationsNeverExceed(t *testing.T) {
	g := NewGovernor(NewFileStore(filepath.Join(t.TempDir(), "usage.json")))
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Reserve(ctx, "google_places", 10); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, granted)
}

func TestGovernor_UsageAndReset(t *testing.T) {
	store := newMemStore()
	store.data["old"] = Usage{Period: "2025-12", Count: 40}
	g := NewGovernor(store, WithClock(fixedClock("2026-03-10T12:00:00Z")))
	ctx := context.Background()

	_, err := g.Reserve(ctx, "brave", 10)
	require.NoError(t, err)

	rows, err := g.Usage(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "brave", rows[0].Provider)
	assert.Equal(t, 1, rows[0].Count)
	assert.Equal(t, "old", rows[1].Provider)
	assert.Equal(t, 0, rows[1].Count)
	assert.Equal(t, "2026-03", rows[1].Period)

	require.NoError(t, g.Reset(ctx, "brave"))
	_, ok := store.data["brave"]
	assert.False(t, ok)
}
