// Package search answers lead searches from the local store and fans out
// to external providers, persisting what they find.
package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zalahq/leadscout/internal/geo"
	"github.com/zalahq/leadscout/internal/jobs"
	"github.com/zalahq/leadscout/internal/model"
	"github.com/zalahq/leadscout/internal/provider"
	"github.com/zalahq/leadscout/internal/store"
	"github.com/zalahq/leadscout/pkg/geocode"
)

// Defaults.
const (
	DefaultRadiusMiles = 50
	DefaultMaxResults  = 50
)

// Persistence statuses.
const (
	StatusCompleted = "completed"
	StatusQueued    = "queued"
)

// Error message prefixes.
const (
	providerErrorPrefix   = "External provider request failed: "
	unexpectedErrorPrefix = "Unexpected error: "
)

// Config tunes a search.
type Config struct {
	RadiusMiles float64
	MaxResults  int
	// SyncTimeout bounds the synchronous provider fan-out. Zero means the
	// caller's context alone.
	SyncTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RadiusMiles <= 0 {
		c.RadiusMiles = DefaultRadiusMiles
	}
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	return c
}

// LocationFilter is the search request.
type LocationFilter struct {
	LocationText string `json:"location_text"`
}

// Persistence reports what happened to one external source's results.
type Persistence struct {
	Status string `json:"status"`
	*model.PersistStats
}

// Response is the search result.
type Response struct {
	AggregatedLeads     []model.LeadRecord               `json:"aggregated_leads"`
	Errors              map[model.DataSource]string      `json:"errors,omitempty"`
	ExternalPersistence map[model.DataSource]Persistence `json:"external_persistence,omitempty"`
}

type collector struct {
	mu   sync.Mutex
	resp *Response
}

func (c *collector) fail(src model.DataSource, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resp.Errors == nil {
		c.resp.Errors = make(map[model.DataSource]string)
	}
	c.resp.Errors[src] = msg
}

func (c *collector) persisted(src model.DataSource, p Persistence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resp.ExternalPersistence == nil {
		c.resp.ExternalPersistence = make(map[model.DataSource]Persistence)
	}
	c.resp.ExternalPersistence[src] = p
}

// Orchestrator runs searches.
type Orchestrator struct {
	store    store.Store
	registry *provider.Registry
	runner   *Runner
	queue    jobs.Queue
	geocoder geocode.Client
	cfg      Config
	log      *zap.Logger
}

// NewOrchestrator wires an orchestrator. queue receives background work.
func NewOrchestrator(st store.Store, registry *provider.Registry, runner *Runner, queue jobs.Queue, geocoder geocode.Client, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:    st,
		registry: registry,
		runner:   runner,
		queue:    queue,
		geocoder: geocoder,
		cfg:      cfg.withDefaults(),
		log:      zap.L().With(zap.String("component", "search")),
	}
}

// Search resolves the location once, reads the local store and decides per
// source whether to search now or in the background. It never fails:
// per-source problems are reported in Response.Errors.
func (o *Orchestrator) Search(ctx context.Context, filter LocationFilter) *Response {
	resp := &Response{AggregatedLeads: []model.LeadRecord{}}
	out := &collector{resp: resp}
	sources := o.registry.Enabled()

	dynamicFilter, location := geo.SplitFreeform(strings.TrimSpace(filter.LocationText))
	loc := geo.NewResolver(o.geocoder)
	center, err := loc.Resolve(ctx, location)
	if err != nil {
		msg := errorMessage(err)
		out.fail(model.SourceDB, msg)
		for _, src := range sources {
			out.fail(src, msg)
		}
		o.log.Info("search: location not resolved", zap.String("location", location), zap.String("error", msg))
		return resp
	}

	leads, err := o.store.SearchNearby(ctx, center.Latitude, center.Longitude, o.cfg.RadiusMiles)
	if err != nil {
		o.log.Error("search: local store query failed", zap.Error(err))
		out.fail(model.SourceDB, errorMessage(err))
		leads = nil
	}

	var foreground, background []model.DataSource
	for _, src := range sources {
		if len(leads) > 0 || src.IsLLM() {
			background = append(background, src)
		} else {
			foreground = append(foreground, src)
		}
	}

	for _, src := range background {
		job := jobs.NewJob(src, location, dynamicFilter)
		if err := o.queue.Enqueue(ctx, job); err != nil {
			o.log.Warn("search: enqueue failed", zap.String("source", string(src)), zap.Error(err))
			out.fail(src, errorMessage(err))
			continue
		}
		out.persisted(src, Persistence{Status: StatusQueued})
	}

	if len(foreground) > 0 {
		o.runSync(ctx, loc, foreground, provider.Query{
			Location:      location,
			Center:        *center,
			DynamicFilter: dynamicFilter,
			RadiusMiles:   o.cfg.RadiusMiles,
			MaxResults:    o.cfg.MaxResults,
		}, out)

		leads, err = o.store.SearchNearby(ctx, center.Latitude, center.Longitude, o.cfg.RadiusMiles)
		if err != nil {
			o.log.Error("search: local store re-query failed", zap.Error(err))
			out.fail(model.SourceDB, errorMessage(err))
			leads = nil
		}
	}

	sort.SliceStable(leads, func(i, j int) bool {
		return lessDistance(leads[i].DistanceMiles, leads[j].DistanceMiles)
	})
	if len(leads) > o.cfg.MaxResults {
		leads = leads[:o.cfg.MaxResults]
	}
	if leads != nil {
		resp.AggregatedLeads = leads
	}

	o.log.Info("search: done",
		zap.String("location", location),
		zap.Int("leads", len(resp.AggregatedLeads)),
		zap.Int("sync_sources", len(foreground)),
		zap.Int("background_sources", len(background)),
		zap.Int("errors", len(resp.Errors)),
	)
	return resp
}

// runSync searches every source at once. A failing source never cancels
// the others.
func (o *Orchestrator) runSync(ctx context.Context, loc *geo.Resolver, sources []model.DataSource, q provider.Query, out *collector) {
	if o.cfg.SyncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.SyncTimeout)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(len(sources))
	for _, src := range sources {
		g.Go(func() error {
			stats, err := o.runner.RunSource(ctx, loc, src, q)
			if err != nil {
				o.log.Warn("search: source failed", zap.String("source", string(src)), zap.Error(err))
				out.fail(src, errorMessage(err))
				return nil
			}
			out.persisted(src, Persistence{Status: StatusCompleted, PersistStats: &stats})
			return nil
		})
	}
	_ = g.Wait()
}

// errorMessage renders err the way API callers see it.
func errorMessage(err error) string {
	var locErr *geo.LocationResolutionError
	if errors.As(err, &locErr) {
		return locErr.Message
	}
	var provErr *provider.ExternalProviderError
	if errors.As(err, &provErr) {
		return providerErrorPrefix + provErr.Message
	}
	return unexpectedErrorPrefix + err.Error()
}
