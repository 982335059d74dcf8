package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Aggregate AggregateConfig `yaml:"aggregate" mapstructure:"aggregate"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer" mapstructure:"analyzer"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Lock      LockConfig      `yaml:"lock" mapstructure:"lock"`
	Archive   ArchiveConfig   `yaml:"archive" mapstructure:"archive"`
	Geocode   GeocodeConfig   `yaml:"geocode" mapstructure:"geocode"`
	Watch     WatchConfig     `yaml:"watch" mapstructure:"watch"`
}

// StoreConfig configures the staging database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// FetchConfig configures page and image downloads.
type FetchConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxBodyMB   int     `yaml:"max_body_mb" mapstructure:"max_body_mb"`
	Retries     int     `yaml:"retries" mapstructure:"retries"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	HostRate    float64 `yaml:"host_rate" mapstructure:"host_rate"`
	HostBurst   int     `yaml:"host_burst" mapstructure:"host_burst"`
}

// DiscoveryConfig holds the defaults a run request may override.
type DiscoveryConfig struct {
	MaxUnits          int      `yaml:"max_units" mapstructure:"max_units"`
	MaxDepth          int      `yaml:"max_depth" mapstructure:"max_depth"`
	IncludeSubdomains bool     `yaml:"include_subdomains" mapstructure:"include_subdomains"`
	UseSitemap        bool     `yaml:"use_sitemap" mapstructure:"use_sitemap"`
	ExcludePaths      []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// ExtractConfig configures the extraction worker pool.
type ExtractConfig struct {
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency"`
	StaggerMs        int `yaml:"stagger_ms" mapstructure:"stagger_ms"`
	UnitTimeoutSecs  int `yaml:"unit_timeout_secs" mapstructure:"unit_timeout_secs"`
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxTextChars     int `yaml:"max_text_chars" mapstructure:"max_text_chars"`
	MaxImageMB       int `yaml:"max_image_mb" mapstructure:"max_image_mb"`
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// AggregateConfig tunes entity matching.
type AggregateConfig struct {
	NameSimilarity float64 `yaml:"name_similarity" mapstructure:"name_similarity"`
}

// AnalyzerConfig selects the model provider.
type AnalyzerConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// JinaConfig holds Jina AI Reader settings. The reader is the fallback for
// pages that block direct fetching.
type JinaConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	ImageCaptions bool   `yaml:"image_captions" mapstructure:"image_captions"`
}

// LockConfig selects how runs of the same seed are serialized.
type LockConfig struct {
	Backend  string `yaml:"backend" mapstructure:"backend"`
	Dir      string `yaml:"dir" mapstructure:"dir"`
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
	TTLMins  int    `yaml:"ttl_mins" mapstructure:"ttl_mins"`
}

// ArchiveConfig configures source image archiving to S3.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Bucket  string `yaml:"bucket" mapstructure:"bucket"`
	Region  string `yaml:"region" mapstructure:"region"`
	Profile string `yaml:"profile" mapstructure:"profile"`
	Prefix  string `yaml:"prefix" mapstructure:"prefix"`
}

// GeocodeConfig configures venue geocoding after aggregation.
type GeocodeConfig struct {
	Enabled   bool    `yaml:"enabled" mapstructure:"enabled"`
	GoogleKey string  `yaml:"google_key" mapstructure:"google_key"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// WatchConfig configures scheduled re-discovery.
type WatchConfig struct {
	File       string `yaml:"file" mapstructure:"file"`
	RunOnStart bool   `yaml:"run_on_start" mapstructure:"run_on_start"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "karaoke-scout.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_body_mb", 10)
	v.SetDefault("fetch.retries", 3)
	v.SetDefault("fetch.host_rate", 2.0)
	v.SetDefault("fetch.host_burst", 4)
	v.SetDefault("discovery.max_units", 50)
	v.SetDefault("discovery.max_depth", 1)
	v.SetDefault("discovery.use_sitemap", true)
	v.SetDefault("extract.concurrency", 4)
	v.SetDefault("extract.stagger_ms", 500)
	v.SetDefault("extract.unit_timeout_secs", 100)
	v.SetDefault("extract.max_attempts", 3)
	v.SetDefault("extract.initial_backoff_ms", 1000)
	v.SetDefault("extract.max_text_chars", 20000)
	v.SetDefault("extract.max_image_mb", 5)
	v.SetDefault("extract.breaker_threshold", 5)
	v.SetDefault("extract.breaker_reset_secs", 30)
	v.SetDefault("aggregate.name_similarity", 0.85)
	v.SetDefault("analyzer.provider", "anthropic")
	v.SetDefault("analyzer.max_tokens", 4096)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("lock.backend", "file")
	v.SetDefault("lock.dir", filepath.Join(os.TempDir(), "karaoke-scout-locks"))
	v.SetDefault("lock.prefix", "karaoke-scout:run:")
	v.SetDefault("lock.ttl_mins", 30)
	v.SetDefault("archive.prefix", "sources/")
	v.SetDefault("geocode.rate_limit", 10.0)
	v.SetDefault("watch.file", "watch.yaml")

	// Keys without a default must still be known to viper for env lookup.
	for _, key := range []string{
		"store.database_url", "fetch.user_agent",
		"anthropic.key", "anthropic.base_url", "openai.key", "openai.base_url",
		"jina.key", "jina.enabled", "jina.image_captions",
		"lock.redis_url", "archive.enabled", "archive.bucket", "archive.region", "archive.profile",
		"discovery.include_subdomains", "watch.run_on_start",
		"geocode.enabled", "geocode.google_key",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

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

// Validate checks the keys the given command needs. Modes: run, serve,
// watch, review, migrate.
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(p string) { problems = append(problems, p) }

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			add("store.sqlite_path is required for the sqlite driver")
		}
	default:
		add("store.driver must be sqlite or postgres")
	}

	switch mode {
	case "review", "migrate":
	case "run", "serve", "watch":
		c.validatePipeline(add)
		if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
			add("server.port must be between 1 and 65535")
		}
		if mode == "watch" && c.Watch.File == "" {
			add("watch.file is required")
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validatePipeline(add func(string)) {
	switch c.Analyzer.Provider {
	case "anthropic":
		if c.Anthropic.Key == "" {
			add("anthropic.key is required")
		}
	case "openai":
		if c.OpenAI.Key == "" {
			add("openai.key is required")
		}
	default:
		add("analyzer.provider must be anthropic or openai")
	}

	if c.Extract.Concurrency < 1 || c.Extract.Concurrency > 32 {
		add("extract.concurrency must be between 1 and 32")
	}
	if c.Extract.MaxAttempts < 1 {
		add("extract.max_attempts must be at least 1")
	}
	if c.Aggregate.NameSimilarity <= 0 || c.Aggregate.NameSimilarity > 1 {
		add("aggregate.name_similarity must be in (0, 1]")
	}
	if c.Discovery.MaxUnits < 1 {
		add("discovery.max_units must be at least 1")
	}

	switch c.Lock.Backend {
	case "none", "file":
	case "redis":
		if c.Lock.RedisURL == "" {
			add("lock.redis_url is required for the redis backend")
		}
	default:
		add("lock.backend must be none, file or redis")
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		add("archive.bucket is required when archiving is enabled")
	}
	if c.Geocode.Enabled && c.Geocode.RateLimit <= 0 {
		add("geocode.rate_limit must be positive")
	}
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
