package search

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zalahq/leadscout/internal/dedup"
	"github.com/zalahq/leadscout/internal/geo"
	"github.com/zalahq/leadscout/internal/jobs"
	"github.com/zalahq/leadscout/internal/model"
	"github.com/zalahq/leadscout/internal/provider"
	"github.com/zalahq/leadscout/pkg/geocode"
)

// Runner searches one provider, normalizes its candidates and persists
// them. The orchestrator uses it for synchronous sources and the job queue
// uses it for background ones.
type Runner struct {
	registry *provider.Registry
	engine   *dedup.Engine
	geocoder geocode.Client
	cfg      Config
	log      *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(registry *provider.Registry, engine *dedup.Engine, geocoder geocode.Client, cfg Config) *Runner {
	return &Runner{
		registry: registry,
		engine:   engine,
		geocoder: geocoder,
		cfg:      cfg.withDefaults(),
		log:      zap.L().With(zap.String("component", "search.runner")),
	}
}

// RunSource searches src for q and persists what it finds. loc is the
// request's resolver so address lookups share its memo.
func (r *Runner) RunSource(ctx context.Context, loc *geo.Resolver, src model.DataSource, q provider.Query) (model.PersistStats, error) {
	candidates, err := r.registry.Search(ctx, src, q)
	if err != nil {
		return model.PersistStats{}, err
	}
	found := len(candidates)
	candidates = normalizeCandidates(ctx, loc, q.Center, q.RadiusMiles, q.MaxResults, candidates)
	stats := r.engine.Persist(ctx, candidates)

	r.log.Info("search: source persisted",
		zap.String("source", string(src)),
		zap.Int("found", found),
		zap.Int("in_radius", len(candidates)),
		zap.Int("inserted", stats.Inserted),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

// Handle implements jobs.Handler for background searches. Each job gets
// its own resolver.
func (r *Runner) Handle(ctx context.Context, job jobs.Job) error {
	loc := geo.NewResolver(r.geocoder)
	center, err := loc.Resolve(ctx, job.Location)
	if err != nil {
		return eris.Wrapf(err, "search: resolve %q for %s", job.Location, job.Source)
	}
	_, err = r.RunSource(ctx, loc, job.Source, r.query(job.Location, job.DynamicFilter, *center))
	return err
}

func (r *Runner) query(location, dynamicFilter string, center model.NormalizedLocation) provider.Query {
	return provider.Query{
		Location:      location,
		Center:        center,
		DynamicFilter: dynamicFilter,
		RadiusMiles:   r.cfg.RadiusMiles,
		MaxResults:    r.cfg.MaxResults,
	}
}
