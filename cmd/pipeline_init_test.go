//go:build !integration

package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/karaoke-scout/internal/config"
	"github.com/sells-group/karaoke-scout/internal/runlock"
)

// pipelineConfig is the smallest config that passes run validation.
func pipelineConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Store: config.StoreConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(dir, "scout.db"),
		},
		Fetch: config.FetchConfig{
			TimeoutSecs: 5,
			MaxBodyMB:   1,
			Retries:     1,
			HostRate:    5,
			HostBurst:   2,
		},
		Discovery: config.DiscoveryConfig{MaxUnits: 10, MaxDepth: 1},
		Extract: config.ExtractConfig{
			Concurrency:      2,
			UnitTimeoutSecs:  10,
			MaxAttempts:      2,
			InitialBackoffMs: 10,
			MaxTextChars:     1000,
			MaxImageMB:       1,
		},
		Aggregate: config.AggregateConfig{NameSimilarity: 0.85},
		Analyzer:  config.AnalyzerConfig{Provider: "anthropic", MaxTokens: 1024},
		Anthropic: config.AnthropicConfig{Key: "sk-test", Model: "claude-test"},
		Lock:      config.LockConfig{Backend: "file", Dir: filepath.Join(dir, "locks")},
	}
}

func TestPipelineEnv_Close_Nil(t *testing.T) {
	pe := &pipelineEnv{}
	assert.NotPanics(t, func() {
		pe.Close()
	})
}

func TestPipelineEnv_Close_WithStore(t *testing.T) {
	useSQLite(t)

	st, err := initStore(context.Background())
	require.NoError(t, err)

	pe := &pipelineEnv{Store: st}
	assert.NotPanics(t, func() {
		pe.Close()
	})
}

func TestInitPipeline_Builds(t *testing.T) {
	cfg = pipelineConfig(t)

	env, err := initPipeline(context.Background(), "run")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Store)
	assert.NotNil(t, env.Pipeline)
	assert.NotNil(t, env.Pool)
	assert.Nil(t, env.Redis)
}

func TestInitPipeline_WithJinaFallback(t *testing.T) {
	cfg = pipelineConfig(t)
	cfg.Jina = config.JinaConfig{Enabled: true, Key: "jina-test", BaseURL: "https://r.jina.ai"}

	env, err := initPipeline(context.Background(), "run")
	require.NoError(t, err)
	env.Close()
}

func TestInitPipeline_FailsValidation(t *testing.T) {
	cfg = pipelineConfig(t)
	cfg.Anthropic.Key = ""

	env, err := initPipeline(context.Background(), "run")
	assert.Nil(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestInitPipeline_ArchiveNeedsBucket(t *testing.T) {
	cfg = pipelineConfig(t)
	cfg.Archive.Enabled = true

	env, err := initPipeline(context.Background(), "run")
	assert.Nil(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive.bucket is required")
}

func TestFetchOptions(t *testing.T) {
	opts := fetchOptions(config.FetchConfig{
		TimeoutSecs: 30,
		MaxBodyMB:   10,
		UserAgent:   "scout/1.0",
		HostRate:    2.5,
		HostBurst:   4,
	})

	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, int64(10<<20), opts.MaxBodyBytes)
	assert.Equal(t, "scout/1.0", opts.UserAgent)
	assert.Equal(t, rate.Limit(2.5), opts.HostRate)
	assert.Equal(t, 4, opts.HostBurst)
}

func TestDiscoveryOptions(t *testing.T) {
	opts := discoveryOptions(config.DiscoveryConfig{
		MaxUnits:          25,
		MaxDepth:          2,
		IncludeSubdomains: true,
		UseSitemap:        true,
		ExcludePaths:      []string{"/blog/"},
	})

	assert.Equal(t, 25, opts.MaxUnits)
	assert.Equal(t, 2, opts.MaxDepth)
	assert.True(t, opts.IncludeSubdomains)
	assert.True(t, opts.UseSitemap)
	assert.Equal(t, []string{"/blog/"}, opts.ExcludePatterns)
}

func TestExtractConfig(t *testing.T) {
	c := extractConfig(config.ExtractConfig{
		Concurrency:      4,
		StaggerMs:        500,
		UnitTimeoutSecs:  100,
		MaxAttempts:      3,
		InitialBackoffMs: 1000,
		BreakerThreshold: 5,
		BreakerResetSecs: 30,
	})

	assert.Equal(t, 4, c.Concurrency)
	assert.Equal(t, 500*time.Millisecond, c.Stagger)
	assert.Equal(t, 100*time.Second, c.UnitTimeout)
	assert.Equal(t, 3, c.Retry.MaxAttempts)
	assert.Equal(t, time.Second, c.Retry.InitialBackoff)
	assert.Equal(t, 5, c.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, c.Breaker.ResetTimeout)
}

func TestNewAnalyzer(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantErr  bool
	}{
		{name: "anthropic", provider: "anthropic"},
		{name: "openai", provider: "openai"},
		{name: "unknown", provider: "mistral", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &config.Config{
				Analyzer:  config.AnalyzerConfig{Provider: tt.provider, MaxTokens: 512},
				Anthropic: config.AnthropicConfig{Key: "a", Model: "claude-test", BaseURL: "http://localhost:1"},
				OpenAI:    config.OpenAIConfig{Key: "o", Model: "gpt-test"},
			}
			a, err := newAnalyzer(c)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unsupported analyzer provider")
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, a.Name())
		})
	}
}

func TestNewLocker_None(t *testing.T) {
	for _, backend := range []string{"", "none"} {
		l, client, err := newLocker(config.LockConfig{Backend: backend})
		require.NoError(t, err)
		assert.Nil(t, l)
		assert.Nil(t, client)
	}
}

func TestNewLocker_File(t *testing.T) {
	l, client, err := newLocker(config.LockConfig{Backend: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Nil(t, client)
	assert.IsType(t, &runlock.FileLocker{}, l)
}

func TestNewLocker_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	l, client, err := newLocker(config.LockConfig{
		Backend:  "redis",
		RedisURL: "redis://" + mr.Addr(),
		Prefix:   "test:",
		TTLMins:  5,
	})
	require.NoError(t, err)
	require.NotNil(t, client)
	defer client.Close() //nolint:errcheck

	ctx := context.Background()
	lock, err := l.TryLock(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, []string{"test:" + runlock.KeyFor("https://example.com/")}, mr.Keys())
	require.NoError(t, lock.Release(ctx))
	assert.Empty(t, mr.Keys())
}

func TestNewLocker_Errors(t *testing.T) {
	_, _, err := newLocker(config.LockConfig{Backend: "redis", RedisURL: "::bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse lock.redis_url")

	_, _, err = newLocker(config.LockConfig{Backend: "zookeeper"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported lock backend")
}

func TestInitPipeline_WithGeocoder(t *testing.T) {
	cfg = pipelineConfig(t)
	cfg.Geocode = config.GeocodeConfig{Enabled: true, GoogleKey: "g-key", RateLimit: 5}

	env, err := initPipeline(context.Background(), "run")
	require.NoError(t, err)
	env.Close()
}

func TestNewGeocoder(t *testing.T) {
	assert.NotNil(t, newGeocoder(config.GeocodeConfig{RateLimit: 10}))
	assert.NotNil(t, newGeocoder(config.GeocodeConfig{RateLimit: 10, GoogleKey: "k"}))
}
