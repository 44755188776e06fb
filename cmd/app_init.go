package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zalahq/leadscout/internal/dedup"
	"github.com/zalahq/leadscout/internal/jobs"
	"github.com/zalahq/leadscout/internal/monitoring"
	"github.com/zalahq/leadscout/internal/provider"
	"github.com/zalahq/leadscout/internal/provider/directory"
	"github.com/zalahq/leadscout/internal/provider/places"
	"github.com/zalahq/leadscout/internal/provider/websearch"
	"github.com/zalahq/leadscout/internal/quota"
	"github.com/zalahq/leadscout/internal/resilience"
	"github.com/zalahq/leadscout/internal/search"
	"github.com/zalahq/leadscout/internal/store"
	anthropicpkg "github.com/zalahq/leadscout/pkg/anthropic"
	"github.com/zalahq/leadscout/pkg/brave"
	"github.com/zalahq/leadscout/pkg/geocode"
	"github.com/zalahq/leadscout/pkg/google"
	"github.com/zalahq/leadscout/pkg/rapidapi"
)

// appEnv holds everything the serve/search/worker/mcp commands share.
type appEnv struct {
	Store        store.Store
	Quota        *quota.Governor
	Geocoder     geocode.Client
	Registry     *provider.Registry
	Runner       *search.Runner
	Orchestrator *search.Orchestrator
	Queue        jobs.Queue // nil for the worker

	redis redis.UniversalClient
}

// Close drains the queue and releases connections. ctx bounds the drain.
func (e *appEnv) Close(ctx context.Context) {
	if e.Queue != nil {
		if err := e.Queue.Close(ctx); err != nil {
			zap.L().Warn("close queue", zap.Error(err))
		}
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp sets up the store, quota governor, provider clients and the
// search orchestrator for mode. withQueue is false for the worker, which
// consumes jobs instead of producing them. Callers should defer env.Close().
func initApp(ctx context.Context, mode string, withQueue bool) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &appEnv{Store: st}

	gov, rdb, err := initQuota()
	if err != nil {
		env.Close(ctx)
		return nil, err
	}
	env.Quota = gov
	env.redis = rdb

	geoOpts := []geocode.Option{geocode.WithBaseURL(cfg.Google.GeocodeURL)}
	if cfg.Google.GeocodeRPS > 0 {
		geoOpts = append(geoOpts, geocode.WithRateLimit(cfg.Google.GeocodeRPS))
	}
	env.Geocoder = geocode.NewClient(cfg.Google.APIKey, geoOpts...)

	env.Registry = initRegistry(gov, env.Geocoder)
	zap.L().Info("providers enabled", zap.Any("sources", env.Registry.Enabled()))

	searchCfg := search.Config{
		RadiusMiles: cfg.Search.RadiusMiles,
		MaxResults:  cfg.Search.MaxResults,
		SyncTimeout: time.Duration(cfg.Search.TimeoutSecs) * time.Second,
	}
	env.Runner = search.NewRunner(env.Registry, dedup.NewEngine(st), env.Geocoder, searchCfg)

	if withQueue {
		q, err := initQueue(env.Runner)
		if err != nil {
			env.Close(ctx)
			return nil, err
		}
		env.Queue = q
		env.Orchestrator = search.NewOrchestrator(st, env.Registry, env.Runner, q, env.Geocoder, searchCfg)
	}

	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initQuota returns the governor and, for the redis driver, the client the
// caller must close.
func initQuota() (*quota.Governor, redis.UniversalClient, error) {
	switch cfg.Quota.Driver {
	case "redis":
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, eris.Wrap(err, "parse redis url")
		}
		rdb := redis.NewClient(opt)
		return quota.NewGovernor(quota.NewRedisStore(rdb, "")), rdb, nil
	case "file", "":
		return quota.NewGovernor(quota.NewFileStore(cfg.Quota.FilePath)), nil, nil
	default:
		return nil, nil, eris.Errorf("unsupported quota driver: %s", cfg.Quota.Driver)
	}
}

// initRegistry registers every provider whose credentials are configured.
func initRegistry(gov *quota.Governor, geocoder geocode.Client) *provider.Registry {
	retryFor := func(name string) resilience.RetryConfig {
		rc := resilience.RetryFromConfig(cfg.Resilience.MaxAttempts, cfg.Resilience.InitialBackoffMs)
		rc.OnRetry = resilience.RetryLogger(name, "request")
		return rc
	}
	reg := provider.NewRegistry(resilience.BreakerFromConfig(cfg.Resilience.FailureThreshold, cfg.Resilience.CooldownSecs))

	if cfg.RapidAPI.Key != "" {
		opts := []rapidapi.Option{rapidapi.WithHost(cfg.RapidAPI.Host), rapidapi.WithRetry(retryFor("rapidapi"))}
		if cfg.RapidAPI.BaseURL != "" {
			opts = append(opts, rapidapi.WithBaseURL(cfg.RapidAPI.BaseURL))
		}
		reg.Register(directory.New(rapidapi.NewClient(cfg.RapidAPI.Key, opts...), gov, directory.Config{
			MonthlyLimit: cfg.RapidAPI.MonthlyLimit,
			PageSize:     cfg.RapidAPI.PageSize,
			MaxPages:     cfg.RapidAPI.MaxPages,
		}))
	} else {
		zap.L().Debug("LEADSCOUT_RAPIDAPI_KEY not set, agent directory disabled")
	}

	if cfg.Google.APIKey != "" {
		opts := []google.Option{
			google.WithBaseURL(cfg.Google.PlacesBaseURL),
			google.WithRetry(retryFor("google_places")),
		}
		if cfg.Google.PlacesRPS > 0 {
			opts = append(opts, google.WithRateLimit(cfg.Google.PlacesRPS))
		}
		client := google.NewClient(cfg.Google.APIKey, opts...)
		reg.Register(places.New(client, geocoder, gov, places.Config{
			MonthlyLimit:        cfg.Places.MonthlyLimit,
			DetailsMonthlyLimit: cfg.Places.DetailsMonthlyLimit,
			MaxPages:            cfg.Places.MaxPages,
			PageTokenDelay:      time.Duration(cfg.Places.PageTokenDelayMs) * time.Millisecond,
		}))
	} else {
		zap.L().Debug("LEADSCOUT_GOOGLE_API_KEY not set, google places disabled")
	}

	if cfg.Anthropic.Key != "" && cfg.Brave.Key != "" {
		var llmOpts []anthropicpkg.Option
		if cfg.Resilience.MaxAttempts > 0 {
			llmOpts = append(llmOpts, anthropicpkg.WithMaxRetries(cfg.Resilience.MaxAttempts-1))
		}
		llm := anthropicpkg.NewClient(cfg.Anthropic.Key, llmOpts...)
		web := brave.NewClient(cfg.Brave.Key,
			brave.WithBaseURL(cfg.Brave.BaseURL),
			brave.WithMinInterval(time.Duration(cfg.Brave.MinIntervalMs)*time.Millisecond),
			brave.WithRetry(retryFor("brave")),
		)
		reg.Register(websearch.New(llm, web, gov, websearch.Config{
			Model:                 cfg.Anthropic.Model,
			MaxTokens:             int64(cfg.Anthropic.MaxTokens),
			MaxSearches:           cfg.Search.MaxSearches,
			AnthropicMonthlyLimit: cfg.Anthropic.MonthlyLimit,
			BraveMonthlyLimit:     cfg.Brave.MonthlyLimit,
		}))
	} else {
		zap.L().Debug("anthropic or brave key not set, web search provider disabled")
	}

	return reg
}

func initQueue(h jobs.Handler) (jobs.Queue, error) {
	timeout := time.Duration(cfg.Search.BackgroundTimeoutSecs) * time.Second
	switch cfg.Queue.Driver {
	case "asynq":
		opt, err := jobs.RedisOpt(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		return jobs.NewAsynqQueue(opt, jobs.AsynqConfig{
			Queue:    cfg.Queue.QueueName,
			Timeout:  timeout,
			MaxRetry: cfg.Queue.MaxRetry,
		}), nil
	case "memory", "":
		return jobs.NewMemoryQueue(h, jobs.MemoryConfig{
			Workers:  cfg.Queue.Workers,
			Capacity: cfg.Queue.Capacity,
			Timeout:  timeout,
		}), nil
	default:
		return nil, eris.Errorf("unsupported queue driver: %s", cfg.Queue.Driver)
	}
}

// newChecker builds the quota and breaker alert loop for env.
func newChecker(env *appEnv) *monitoring.Checker {
	collector := monitoring.NewCollector(env.Quota, env.Registry.Breakers, quotaLimits())
	return monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
}
