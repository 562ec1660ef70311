package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/concept-cli/internal/config"
	"github.com/sells-group/concept-cli/internal/gateway"
	"github.com/sells-group/concept-cli/internal/metrics"
	"github.com/sells-group/concept-cli/pkg/openai"
)

func TestPipelineEnv_Close_Nil(t *testing.T) {
	pe := &pipelineEnv{}
	assert.NotPanics(t, pe.Close)
}

func TestPipelineEnv_Close_RunsClosers(t *testing.T) {
	closed := 0
	pe := &pipelineEnv{closers: []func() error{
		func() error { closed++; return nil },
		func() error { closed++; return assert.AnError },
	}}
	pe.Close()
	assert.Equal(t, 2, closed)
}

func TestInitStore_SQLite(t *testing.T) {
	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "test.db")},
	}

	st, err := openStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck
}

func TestInitStore_SQLiteDefaultDSN(t *testing.T) {
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck

	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite"}}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, statErr := os.Stat(filepath.Join(tmpDir, "concept.db"))
	assert.NoError(t, statErr)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitPipeline_InvalidConfig(t *testing.T) {
	cfg = &config.Config{Gateway: config.GatewayConfig{Provider: "anthropic"}}

	_, err := initPipeline(context.Background(), false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func validTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store:      config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "test.db")},
		Gateway:    config.GatewayConfig{Provider: "deepseek", Concurrency: 2, MaxAttempts: 2, TimeoutSecs: 5, RateLimitRPS: 1, RateLimitBurst: 1},
		DeepSeek:   config.ChatConfig{Key: "sk-test", Model: "deepseek-chat", MaxTokens: 512},
		Chunker:    config.ChunkerConfig{MaxTokens: 2000, TargetWords: 500},
		Scoring:    config.ScoringConfig{ReinforcementThreshold: 0.6},
		Correction: config.CorrectionConfig{MaxPasses: 3, RecomputeSignals: true},
		QA:         config.QAConfig{MaxItems: 20, MinLength: 3, MaxLength: 250},
		Dependency: config.DependencyConfig{Persist: true},
	}
}

func TestInitPipeline_Builds(t *testing.T) {
	cfg = validTestConfig(t)

	env, err := initPipeline(context.Background(), true, false)
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Store)
	assert.NotNil(t, env.Pipeline)
	assert.NotNil(t, env.Metrics)
	assert.Empty(t, env.closers)
}

func TestInitPipeline_BadLexiconPath(t *testing.T) {
	cfg = validTestConfig(t)
	cfg.Lexicon.Path = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := initPipeline(context.Background(), false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load lexicon")
}

func TestNewProvider(t *testing.T) {
	c := validTestConfig(t)
	c.Anthropic = config.AnthropicConfig{Key: "k", Model: "claude-haiku-4-5-20251001", MaxTokens: 256}
	c.OpenAI = config.ChatConfig{Key: "k", Model: "gpt-4o-mini"}

	tests := []struct {
		provider string
		model    string
	}{
		{gateway.ProviderAnthropic, "claude-haiku-4-5-20251001"},
		{gateway.ProviderOpenAI, "gpt-4o-mini"},
		{gateway.ProviderDeepSeek, "deepseek-chat"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			c.Gateway.Provider = tt.provider
			p, err := newProvider(c)
			require.NoError(t, err)
			assert.Equal(t, tt.provider, p.Name())
			assert.Equal(t, tt.model, p.Model())
		})
	}

	c.Gateway.Provider = "mystery"
	_, err := newProvider(c)
	assert.Error(t, err)
}

func TestNewProvider_DeepSeekDefaultBaseURL(t *testing.T) {
	c := validTestConfig(t)
	c.DeepSeek.BaseURL = ""
	p, err := newProvider(c)
	require.NoError(t, err)
	assert.Equal(t, gateway.ProviderDeepSeek, p.Name())
	assert.NotEmpty(t, openai.DeepSeekBaseURL)
}

func TestGatewayOptions(t *testing.T) {
	c := validTestConfig(t)
	assert.Len(t, gatewayOptions(c, metrics.New(false)), 5)

	c.Gateway.TimeoutSecs = 0
	c.Gateway.RateLimitRPS = 0
	assert.Len(t, gatewayOptions(c, metrics.New(false)), 3)
}

func TestInitCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cache, closeFn := initCache(context.Background(), config.RedisConfig{Enabled: true, Addr: mr.Addr(), KeyPrefix: "test:"})
	require.NotNil(t, cache)
	require.NotNil(t, closeFn)
	defer closeFn() //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "k", "v", time.Minute))
	got, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", got)
	assert.True(t, mr.Exists("test:k"))
}

func TestInitCache_DisabledOrUnreachable(t *testing.T) {
	cache, closeFn := initCache(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Nil(t, cache)
	assert.Nil(t, closeFn)

	cache, closeFn = initCache(context.Background(), config.RedisConfig{Enabled: true, Addr: "127.0.0.1:1"})
	assert.Nil(t, cache)
	assert.Nil(t, closeFn)
}
