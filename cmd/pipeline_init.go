package main

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/karaoke-scout/internal/aggregate"
	"github.com/sells-group/karaoke-scout/internal/analyze"
	"github.com/sells-group/karaoke-scout/internal/archive"
	"github.com/sells-group/karaoke-scout/internal/config"
	"github.com/sells-group/karaoke-scout/internal/discovery"
	"github.com/sells-group/karaoke-scout/internal/extract"
	"github.com/sells-group/karaoke-scout/internal/fetcher"
	"github.com/sells-group/karaoke-scout/internal/pipeline"
	"github.com/sells-group/karaoke-scout/internal/resilience"
	"github.com/sells-group/karaoke-scout/internal/runlock"
	"github.com/sells-group/karaoke-scout/internal/scrape"
	"github.com/sells-group/karaoke-scout/internal/store"
	anthropicpkg "github.com/sells-group/karaoke-scout/pkg/anthropic"
	"github.com/sells-group/karaoke-scout/pkg/geocode"
	"github.com/sells-group/karaoke-scout/pkg/jina"
)

// pipelineEnv holds the store, the pipeline and whatever they keep open.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Pool     *extract.Pool
	Redis    redis.UniversalClient // may be nil
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Redis != nil {
		_ = pe.Redis.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config for mode, opens the store and builds the
// Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st}

	f := fetcher.WithRetry(fetcher.NewHTTPFetcher(fetchOptions(cfg.Fetch)), resilience.RetryConfig{
		MaxAttempts:    max(cfg.Fetch.Retries, 1),
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
	})

	// Local fetch first, Jina reader for pages that block us.
	var fallback scrape.Scraper
	if cfg.Jina.Enabled {
		fallback = scrape.NewJinaAdapter(jina.NewClient(cfg.Jina.Key,
			jina.WithBaseURL(cfg.Jina.BaseURL),
			jina.WithImageCaptions(cfg.Jina.ImageCaptions),
		))
		zap.L().Info("jina reader fallback enabled")
	}
	chain := scrape.NewChain(scrape.NewLocalScraper(f), fallback)

	var archiver extract.Archiver
	if cfg.Archive.Enabled {
		s3Archive, err := archive.NewS3(ctx, archive.Options{
			Bucket:  cfg.Archive.Bucket,
			Region:  cfg.Archive.Region,
			Profile: cfg.Archive.Profile,
			Prefix:  cfg.Archive.Prefix,
		})
		if err != nil {
			env.Close()
			return nil, err
		}
		archiver = s3Archive
		zap.L().Info("source image archiving enabled", zap.String("bucket", cfg.Archive.Bucket))
	}

	loader := extract.NewContentLoader(chain, f, archiver, extract.LoaderOptions{
		MaxTextChars:  cfg.Extract.MaxTextChars,
		MaxImageBytes: cfg.Extract.MaxImageMB << 20,
	})

	analyzer, err := newAnalyzer(cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Pool = extract.NewPool(analyzer, loader, extractConfig(cfg.Extract))

	locker, redisClient, err := newLocker(cfg.Lock)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Redis = redisClient

	var geocoder geocode.Client
	if cfg.Geocode.Enabled {
		geocoder = newGeocoder(cfg.Geocode)
		zap.L().Info("venue geocoding enabled", zap.Bool("google_fallback", cfg.Geocode.GoogleKey != ""))
	}

	p, err := pipeline.New(pipeline.Deps{
		Store:      st,
		Discoverer: discovery.New(f),
		Extractor:  env.Pool,
		Locker:     locker,
		Discovery:  discoveryOptions(cfg.Discovery),
		Aggregate:  aggregate.Options{NameSimilarity: cfg.Aggregate.NameSimilarity},
		Geocoder:   geocoder,
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Pipeline = p

	zap.L().Info("pipeline ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("analyzer", analyzer.Name()),
		zap.String("lock", cfg.Lock.Backend),
		zap.Int("concurrency", cfg.Extract.Concurrency),
	)
	return env, nil
}

func fetchOptions(c config.FetchConfig) fetcher.HTTPOptions {
	return fetcher.HTTPOptions{
		UserAgent:    c.UserAgent,
		Timeout:      time.Duration(c.TimeoutSecs) * time.Second,
		MaxBodyBytes: int64(c.MaxBodyMB) << 20,
		HostRate:     rate.Limit(c.HostRate),
		HostBurst:    c.HostBurst,
	}
}

func discoveryOptions(c config.DiscoveryConfig) discovery.Options {
	return discovery.Options{
		MaxDepth:          c.MaxDepth,
		MaxUnits:          c.MaxUnits,
		IncludeSubdomains: c.IncludeSubdomains,
		ExcludePatterns:   c.ExcludePaths,
		UseSitemap:        c.UseSitemap,
	}
}

func extractConfig(c config.ExtractConfig) extract.Config {
	return extract.Config{
		Concurrency: c.Concurrency,
		Stagger:     time.Duration(c.StaggerMs) * time.Millisecond,
		UnitTimeout: time.Duration(c.UnitTimeoutSecs) * time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:    c.MaxAttempts,
			InitialBackoff: time.Duration(c.InitialBackoffMs) * time.Millisecond,
			MaxBackoff:     30 * time.Second,
		},
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: c.BreakerThreshold,
			ResetTimeout:     time.Duration(c.BreakerResetSecs) * time.Second,
		},
	}
}

func newAnalyzer(c *config.Config) (analyze.Analyzer, error) {
	switch c.Analyzer.Provider {
	case "anthropic":
		var opts []option.RequestOption
		if c.Anthropic.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(c.Anthropic.BaseURL))
		}
		client := anthropicpkg.NewClient(c.Anthropic.Key, opts...)
		return analyze.NewAnthropic(client, c.Anthropic.Model, int64(c.Analyzer.MaxTokens)), nil
	case "openai":
		return analyze.NewOpenAI(c.OpenAI.Key, c.OpenAI.BaseURL, c.OpenAI.Model, c.Analyzer.MaxTokens), nil
	default:
		return nil, eris.Errorf("unsupported analyzer provider: %s", c.Analyzer.Provider)
	}
}

func newGeocoder(c config.GeocodeConfig) geocode.Client {
	opts := []geocode.Option{geocode.WithRateLimit(c.RateLimit)}
	if c.GoogleKey != "" {
		opts = append(opts, geocode.WithGoogleAPIKey(c.GoogleKey))
	}
	return geocode.NewClient(opts...)
}

// newLocker returns the run lock for c. The redis client is returned so the
// caller can close it; it is nil for other backends.
func newLocker(c config.LockConfig) (runlock.Locker, redis.UniversalClient, error) {
	switch c.Backend {
	case "", "none":
		return nil, nil, nil
	case "file":
		l, err := runlock.NewFileLocker(c.Dir)
		if err != nil {
			return nil, nil, err
		}
		return l, nil, nil
	case "redis":
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, nil, eris.Wrap(err, "parse lock.redis_url")
		}
		client := redis.NewClient(opts)
		ttl := time.Duration(c.TTLMins) * time.Minute
		return runlock.NewRedisLocker(client, c.Prefix, ttl), client, nil
	default:
		return nil, nil, eris.Errorf("unsupported lock backend: %s", c.Backend)
	}
}
