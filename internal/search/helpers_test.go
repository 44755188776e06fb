package search

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zalahq/leadscout/internal/dedup"
	"github.com/zalahq/leadscout/internal/jobs"
	"github.com/zalahq/leadscout/internal/model"
	"github.com/zalahq/leadscout/internal/provider"
	"github.com/zalahq/leadscout/internal/resilience"
	"github.com/zalahq/leadscout/internal/store"
	"github.com/zalahq/leadscout/pkg/geocode"
)

type point struct {
	lat, lng         float64
	city, state, zip string
}

// mapGeocoder answers from a fixed table and records every call.
type mapGeocoder struct {
	mu       sync.Mutex
	places   map[string]point
	texts    []string
	zips     []string
	reverses int
}

func (m *mapGeocoder) answer(q string) *geocode.Result {
	p, ok := m.places[q]
	if !ok {
		return &geocode.Result{Status: "ZERO_RESULTS"}
	}
	return &geocode.Result{
		Latitude: p.lat, Longitude: p.lng,
		City: p.city, State: p.state, ZipCode: p.zip,
		Status: "OK", Matched: true,
	}
}

func (m *mapGeocoder) Geocode(_ context.Context, address string) (*geocode.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, address)
	return m.answer(address), nil
}

func (m *mapGeocoder) GeocodeZip(_ context.Context, zip string) (*geocode.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zips = append(m.zips, zip)
	return m.answer(zip), nil
}

func (m *mapGeocoder) Reverse(_ context.Context, lat, lng float64) (*geocode.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reverses++
	return &geocode.Result{Latitude: lat, Longitude: lng, City: "Miami", State: "FL", ZipCode: "33130", Status: "OK", Matched: true}, nil
}

func newGeocoder() *mapGeocoder {
	return &mapGeocoder{places: map[string]point{
		"33101":            {25.7743, -80.1867, "Miami", "FL", "33101"},
		"Miami, FL":        {25.7617, -80.1918, "Miami", "FL", ""},
		"Coral Gables, FL": {25.7215, -80.2684, "Coral Gables", "FL", "33134"},
	}}
}

// stubProvider returns fixed leads and records the queries it received.
type stubProvider struct {
	name    model.DataSource
	leads   []model.CandidateLead
	err     error
	mu      sync.Mutex
	queries []provider.Query
}

func (s *stubProvider) Name() model.DataSource { return s.name }

func (s *stubProvider) Search(_ context.Context, q provider.Query) ([]model.CandidateLead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	out := make([]model.CandidateLead, len(s.leads))
	copy(out, s.leads)
	return out, nil
}

func (s *stubProvider) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

// recordingQueue keeps enqueued jobs instead of running them.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Close(context.Context) error { return nil }

func (q *recordingQueue) sources() []model.DataSource {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.DataSource, len(q.jobs))
	for i, j := range q.jobs {
		out[i] = j.Source
	}
	return out
}

type fixture struct {
	store    *store.SQLiteStore
	geocoder *mapGeocoder
	queue    *recordingQueue
	registry *provider.Registry
	runner   *Runner
	orch     *Orchestrator
}

func newFixture(t *testing.T, providers ...provider.Provider) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	reg := provider.NewRegistry(resilience.DefaultBreakerConfig())
	for _, p := range providers {
		reg.Register(p)
	}

	f := &fixture{store: st, geocoder: newGeocoder(), queue: &recordingQueue{}, registry: reg}
	f.runner = NewRunner(reg, dedup.NewEngine(st), f.geocoder, Config{})
	f.orch = NewOrchestrator(st, reg, f.runner, f.queue, f.geocoder, Config{})
	return f
}

func f64(v float64) *float64 { return &v }

func candidate(first, email, business string, addr *model.CandidateAddress) model.CandidateLead {
	return model.CandidateLead{
		PersonType: "agent",
		Business:   business,
		Contact:    model.CandidateContact{FirstName: first, LastName: "Agent", Email: email},
		Address:    addr,
	}
}

func at(lat, lng float64) *model.CandidateAddress {
	return &model.CandidateAddress{Street1: "1 Test St", City: "Miami", State: "FL", Zipcode: "33101", Lat: f64(lat), Long: f64(lng)}
}
