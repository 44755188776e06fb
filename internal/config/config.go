package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	RapidAPI   RapidAPIConfig   `yaml:"rapidapi" mapstructure:"rapidapi"`
	Brave      BraveConfig      `yaml:"brave" mapstructure:"brave"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Quota      QuotaConfig      `yaml:"quota" mapstructure:"quota"`
	Places     PlacesConfig     `yaml:"places" mapstructure:"places"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig locates the Redis server shared by the asynq queue and the
// redis quota store.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// QueueConfig selects the background job queue.
type QueueConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	Workers   int    `yaml:"workers" mapstructure:"workers"`
	Capacity  int    `yaml:"capacity" mapstructure:"capacity"`
	QueueName string `yaml:"queue_name" mapstructure:"queue_name"`
	MaxRetry  int    `yaml:"max_retry" mapstructure:"max_retry"`
}

// GoogleConfig holds the key shared by Places and Geocoding.
type GoogleConfig struct {
	APIKey        string  `yaml:"api_key" mapstructure:"api_key"`
	PlacesBaseURL string  `yaml:"places_base_url" mapstructure:"places_base_url"`
	GeocodeURL    string  `yaml:"geocode_url" mapstructure:"geocode_url"`
	GeocodeRPS    float64 `yaml:"geocode_rps" mapstructure:"geocode_rps"`
	PlacesRPS     float64 `yaml:"places_rps" mapstructure:"places_rps"`
}

// RapidAPIConfig configures the agent directory.
type RapidAPIConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	Host         string `yaml:"host" mapstructure:"host"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	MonthlyLimit int    `yaml:"monthly_limit" mapstructure:"monthly_limit"`
	PageSize     int    `yaml:"page_size" mapstructure:"page_size"`
	MaxPages     int    `yaml:"max_pages" mapstructure:"max_pages"`
}

// BraveConfig configures the web search tool backing the LLM provider.
type BraveConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	MonthlyLimit  int    `yaml:"monthly_limit" mapstructure:"monthly_limit"`
	MinIntervalMs int    `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
}

// AnthropicConfig configures the LLM provider.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	Model        string `yaml:"model" mapstructure:"model"`
	MaxTokens    int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	MonthlyLimit int    `yaml:"monthly_limit" mapstructure:"monthly_limit"`
}

// SearchConfig configures the orchestrator.
type SearchConfig struct {
	RadiusMiles           float64 `yaml:"radius_miles" mapstructure:"radius_miles"`
	MaxResults            int     `yaml:"max_results" mapstructure:"max_results"`
	MaxSearches           int     `yaml:"max_searches" mapstructure:"max_searches"`
	TimeoutSecs           int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BackgroundTimeoutSecs int     `yaml:"background_timeout_secs" mapstructure:"background_timeout_secs"`
}

// QuotaConfig selects where monthly call counters live.
type QuotaConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	FilePath string `yaml:"file_path" mapstructure:"file_path"`
}

// PlacesConfig configures the Google Places provider.
type PlacesConfig struct {
	MonthlyLimit        int `yaml:"monthly_limit" mapstructure:"monthly_limit"`
	DetailsMonthlyLimit int `yaml:"details_monthly_limit" mapstructure:"details_monthly_limit"`
	MaxPages            int `yaml:"max_pages" mapstructure:"max_pages"`
	PageTokenDelayMs    int `yaml:"page_token_delay_ms" mapstructure:"page_token_delay_ms"`
}

// ResilienceConfig tunes outbound retries and per-provider circuit breakers.
type ResilienceConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// MonitoringConfig configures the background quota and breaker checks.
type MonitoringConfig struct {
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	QuotaWarnFraction float64 `yaml:"quota_warn_fraction" mapstructure:"quota_warn_fraction"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys without a useful default are still registered so
	// Unmarshal picks them up from the environment.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.capacity", 64)
	v.SetDefault("queue.queue_name", "leadscout")
	v.SetDefault("queue.max_retry", 3)
	v.SetDefault("google.api_key", "")
	v.SetDefault("google.places_base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.geocode_url", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("google.geocode_rps", 10)
	v.SetDefault("google.places_rps", 10)
	v.SetDefault("rapidapi.key", "")
	v.SetDefault("rapidapi.host", "zillow-com4.p.rapidapi.com")
	v.SetDefault("rapidapi.base_url", "")
	v.SetDefault("rapidapi.monthly_limit", 95)
	v.SetDefault("rapidapi.page_size", 50)
	v.SetDefault("rapidapi.max_pages", 10)
	v.SetDefault("brave.key", "")
	v.SetDefault("brave.base_url", "https://api.search.brave.com/res/v1")
	v.SetDefault("brave.monthly_limit", 2000)
	v.SetDefault("brave.min_interval_ms", 1100)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.monthly_limit", 1000)
	v.SetDefault("search.radius_miles", 50)
	v.SetDefault("search.max_results", 50)
	v.SetDefault("search.max_searches", 10)
	v.SetDefault("search.timeout_secs", 120)
	v.SetDefault("search.background_timeout_secs", 300)
	v.SetDefault("quota.driver", "file")
	v.SetDefault("quota.file_path", "api_usage.json")
	v.SetDefault("places.monthly_limit", 1000)
	v.SetDefault("places.details_monthly_limit", 5000)
	v.SetDefault("places.max_pages", 3)
	v.SetDefault("places.page_token_delay_ms", 2000)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.cooldown_secs", 30)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.quota_warn_fraction", 0.8)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string
	need := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	checkStore := func() {
		switch c.Store.Driver {
		case "postgres", "sqlite":
			need(c.Store.DatabaseURL != "", "store.database_url is required")
		default:
			errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
		}
	}
	checkSearch := func() {
		need(c.Search.RadiusMiles > 0, "search.radius_miles must be > 0")
		need(c.Search.MaxResults >= 1, "search.max_results must be >= 1")
		need(c.Search.MaxSearches >= 1, "search.max_searches must be >= 1")
		need(c.Google.APIKey != "", "google.api_key is required")
	}
	checkQuota := func() {
		switch c.Quota.Driver {
		case "file":
			need(c.Quota.FilePath != "", "quota.file_path is required")
		case "redis":
			need(c.Redis.URL != "", "redis.url is required for quota.driver=redis")
		default:
			errs = append(errs, fmt.Sprintf("quota.driver must be file or redis, got %q", c.Quota.Driver))
		}
	}
	checkQueue := func() {
		switch c.Queue.Driver {
		case "memory":
			need(c.Queue.Workers >= 1, "queue.workers must be >= 1")
			need(c.Queue.Capacity >= 1, "queue.capacity must be >= 1")
		case "asynq":
			need(c.Redis.URL != "", "redis.url is required for queue.driver=asynq")
		default:
			errs = append(errs, fmt.Sprintf("queue.driver must be memory or asynq, got %q", c.Queue.Driver))
		}
	}

	switch mode {
	case "serve":
		need(c.Server.Port > 0, "server.port must be > 0")
		need(c.Monitoring.QuotaWarnFraction >= 0 && c.Monitoring.QuotaWarnFraction <= 1,
			"monitoring.quota_warn_fraction must be between 0 and 1")
		checkStore()
		checkSearch()
		checkQuota()
		checkQueue()
	case "search", "mcp":
		checkStore()
		checkSearch()
		checkQuota()
		checkQueue()
	case "worker":
		checkStore()
		checkSearch()
		checkQuota()
		need(c.Redis.URL != "", "redis.url is required")
	case "migrate":
		checkStore()
	case "quota":
		checkQuota()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
