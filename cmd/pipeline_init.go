package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/concept-cli/internal/chunker"
	"github.com/sells-group/concept-cli/internal/config"
	"github.com/sells-group/concept-cli/internal/gateway"
	"github.com/sells-group/concept-cli/internal/lexicon"
	"github.com/sells-group/concept-cli/internal/metrics"
	"github.com/sells-group/concept-cli/internal/model"
	"github.com/sells-group/concept-cli/internal/pipeline"
	"github.com/sells-group/concept-cli/internal/resilience"
	"github.com/sells-group/concept-cli/internal/sanitize"
	"github.com/sells-group/concept-cli/internal/store"
	anthropicpkg "github.com/sells-group/concept-cli/pkg/anthropic"
	openaipkg "github.com/sells-group/concept-cli/pkg/openai"
)

// extractor runs the pipeline over one document.
type extractor interface {
	Run(ctx context.Context, doc model.Document) (*model.ExtractionResult, error)
}

// pipelineEnv holds the store, the pipeline and the clients it owns,
// shared by the extract, batch and serve commands.
type pipelineEnv struct {
	Store    store.Store // nil when results are not persisted
	Pipeline extractor
	Metrics  *metrics.Metrics
	closers  []func() error
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	for _, c := range pe.closers {
		_ = c()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config, opens the store unless persist is false,
// and builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, persist, withRuntime bool) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	env := &pipelineEnv{Metrics: metrics.New(withRuntime)}

	if persist {
		st, err := openStore(ctx)
		if err != nil {
			return nil, err
		}
		env.Store = st
	}

	lex := lexicon.Default()
	if cfg.Lexicon.Path != "" {
		l, err := lexicon.Load(cfg.Lexicon.Path)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "load lexicon")
		}
		lex = l
	}

	provider, err := newProvider(cfg)
	if err != nil {
		env.Close()
		return nil, err
	}

	gwOpts := gatewayOptions(cfg, env.Metrics)
	if cache, closeFn := initCache(ctx, cfg.Redis); cache != nil {
		gwOpts = append(gwOpts,
			gateway.WithCache(cache, time.Duration(cfg.Redis.TTLHours)*time.Hour),
			gateway.WithCacheFilter(sanitize.Parseable),
		)
		env.closers = append(env.closers, closeFn)
	}
	gw := gateway.New(provider, gwOpts...)

	opts := []pipeline.Option{
		pipeline.WithChunker(chunker.New(
			chunker.WithMaxTokens(cfg.Chunker.MaxTokens),
			chunker.WithTargetWords(cfg.Chunker.TargetWords),
		)),
		pipeline.WithModelID(provider.Model()),
		pipeline.WithConcurrency(cfg.Gateway.Concurrency),
		pipeline.WithDependencyThreshold(cfg.Scoring.DependencyThreshold),
		pipeline.WithReinforcementThreshold(cfg.Scoring.ReinforcementThreshold),
		pipeline.WithCorrection(cfg.Correction.MaxPasses, cfg.Correction.RecomputeSignals),
		pipeline.WithQA(cfg.QA.MaxItems, cfg.QA.MinLength, cfg.QA.MaxLength),
		pipeline.WithRecorder(env.Metrics),
	}
	if cfg.Dependency.Persist && env.Store != nil {
		opts = append(opts, pipeline.WithGraphSource(env.Store))
		zap.L().Info("corpus dependency graph enabled")
	}
	env.Pipeline = pipeline.New(gw, lex, opts...)

	zap.L().Info("pipeline ready",
		zap.String("provider", provider.Name()),
		zap.String("model", provider.Model()),
		zap.Int("lexicon_version", lex.Version()),
	)
	return env, nil
}

// newProvider builds the model provider named by gateway.provider.
func newProvider(c *config.Config) (gateway.Provider, error) {
	switch c.Gateway.Provider {
	case gateway.ProviderAnthropic:
		client := anthropicpkg.NewClient(c.Anthropic.Key, c.Anthropic.BaseURL)
		return gateway.NewAnthropicProvider(client, c.Anthropic.Model, c.Anthropic.MaxTokens), nil
	case gateway.ProviderOpenAI:
		client := openaipkg.NewClient(c.OpenAI.Key, c.OpenAI.BaseURL)
		return gateway.NewChatProvider(gateway.ProviderOpenAI, client, c.OpenAI.Model, c.OpenAI.MaxTokens, c.OpenAI.Temperature), nil
	case gateway.ProviderDeepSeek:
		baseURL := c.DeepSeek.BaseURL
		if baseURL == "" {
			baseURL = openaipkg.DeepSeekBaseURL
		}
		client := openaipkg.NewClient(c.DeepSeek.Key, baseURL)
		return gateway.NewChatProvider(gateway.ProviderDeepSeek, client, c.DeepSeek.Model, c.DeepSeek.MaxTokens, c.DeepSeek.Temperature), nil
	default:
		return nil, eris.Errorf("unknown gateway provider %q", c.Gateway.Provider)
	}
}

func gatewayOptions(c *config.Config, obs gateway.Observer) []gateway.Option {
	retry := resilience.DefaultRetryConfig()
	if c.Gateway.MaxAttempts > 0 {
		retry.MaxAttempts = c.Gateway.MaxAttempts
	}
	breaker := resilience.DefaultCircuitBreakerConfig()
	if c.Gateway.BreakerThreshold > 0 {
		breaker.FailureThreshold = c.Gateway.BreakerThreshold
	}
	if c.Gateway.BreakerResetSecs > 0 {
		breaker.ResetTimeout = time.Duration(c.Gateway.BreakerResetSecs) * time.Second
	}

	opts := []gateway.Option{
		gateway.WithRetry(retry),
		gateway.WithCircuitBreaker(breaker),
		gateway.WithObserver(obs),
	}
	if c.Gateway.TimeoutSecs > 0 {
		opts = append(opts, gateway.WithTimeout(time.Duration(c.Gateway.TimeoutSecs)*time.Second))
	}
	if c.Gateway.RateLimitRPS > 0 {
		opts = append(opts, gateway.WithRateLimit(c.Gateway.RateLimitRPS, c.Gateway.RateLimitBurst))
	}
	return opts
}

// initCache connects the optional Redis reply cache. A cache that cannot be
// reached is logged and skipped.
func initCache(ctx context.Context, rc config.RedisConfig) (gateway.Cache, func() error) {
	if !rc.Enabled || rc.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		zap.L().Warn("redis unreachable, reply cache disabled",
			zap.String("addr", rc.Addr),
			zap.Error(err),
		)
		_ = client.Close()
		return nil, nil
	}

	zap.L().Info("reply cache enabled", zap.String("addr", rc.Addr))
	return gateway.NewRedisCache(client, rc.KeyPrefix), client.Close
}
