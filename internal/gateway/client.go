package gateway

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/concept-cli/internal/resilience"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 60 * time.Second

// Provider performs one raw completion against a model API. Implementations
// wrap retryable failures in *resilience.TransientError.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, system, prompt string) (*Reply, error)
}

// Observer receives call outcomes, typically for metrics.
type Observer interface {
	ObserveGatewayCall(provider, outcome string, elapsed time.Duration)
	ObserveCacheLookup(hit bool)
}

type nopObserver struct{}

func (nopObserver) ObserveGatewayCall(string, string, time.Duration) {}
func (nopObserver) ObserveCacheLookup(bool)                          {}

// Client is the production Gateway: rate limited, time bounded, retried and
// guarded by a circuit breaker, with an optional reply cache.
type Client struct {
	provider Provider
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryConfig
	timeout  time.Duration
	cache    Cache
	cacheTTL time.Duration
	keep     func(text string) bool
	observer Observer
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit allows rps calls per second with the given burst. A
// non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithCircuitBreaker sets the breaker configuration. Only transient
// failures and timeouts count toward tripping it.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *Client) {
		cfg.ShouldTrip = isRetryable
		c.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// WithCache fronts the provider with cache.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithCacheFilter stores and serves only replies for which keep returns
// true, so a refusal or garbled reply is retried on the next submission.
func WithCacheFilter(keep func(text string) bool) Option {
	return func(c *Client) { c.keep = keep }
}

// WithObserver reports call outcomes to o.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// New creates a Client for p.
func New(p Provider, opts ...Option) *Client {
	c := &Client{
		provider: p,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		retry:    resilience.DefaultRetryConfig(),
		timeout:  DefaultTimeout,
		observer: nopObserver{},
	}
	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.ShouldTrip = isRetryable
	c.breaker = resilience.NewCircuitBreaker(breakerCfg)

	for _, o := range opts {
		o(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger(p.Name(), "extract")
	}
	if c.retry.ShouldRetry == nil {
		c.retry.ShouldRetry = isRetryable
	}
	return c
}

// Extract implements Gateway. Every failure is a *Error.
func (c *Client) Extract(ctx context.Context, req Request) (*Reply, error) {
	name := c.provider.Name()
	prompt := BuildUserPrompt(req)
	key := CacheKey(name, c.provider.Model(), SystemInstruction, prompt)
	log := zap.L().With(
		zap.String("provider", name),
		zap.String("document_id", req.DocumentID),
		zap.Int("chunk", req.ChunkIndex),
	)

	if reply, ok := c.lookup(ctx, key, log); ok {
		return reply, nil
	}

	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		kind := KindRateLimited
		if ctx.Err() != nil {
			kind = KindCanceled
		}
		c.observer.ObserveGatewayCall(name, string(kind), time.Since(start))
		return nil, &Error{Provider: name, Kind: kind, Err: err}
	}

	reply, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Reply, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*Reply, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return c.provider.Complete(callCtx, SystemInstruction, prompt)
		})
	})
	if err != nil {
		ge := classify(ctx, name, err)
		c.observer.ObserveGatewayCall(name, string(ge.Kind), time.Since(start))
		log.Warn("gateway: extraction call failed", zap.String("kind", string(ge.Kind)), zap.Error(err))
		return nil, ge
	}

	c.observer.ObserveGatewayCall(name, "ok", time.Since(start))
	log.Debug("gateway: reply received",
		zap.Int("reply_length", len(reply.Text)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if c.cache != nil && c.cacheable(reply.Text) {
		if err := c.cache.Set(ctx, key, reply.Text, c.cacheTTL); err != nil {
			log.Warn("gateway: cache write failed", zap.Error(err))
		}
	}
	return reply, nil
}

func (c *Client) lookup(ctx context.Context, key string, log *zap.Logger) (*Reply, bool) {
	if c.cache == nil {
		return nil, false
	}
	text, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		log.Warn("gateway: cache read failed", zap.Error(err))
		return nil, false
	}
	if ok && !c.cacheable(text) {
		log.Debug("gateway: ignoring unusable cached reply")
		ok = false
	}
	c.observer.ObserveCacheLookup(ok)
	if !ok {
		return nil, false
	}
	return &Reply{Text: text, Model: c.provider.Model(), Cached: true}, true
}

func (c *Client) cacheable(text string) bool {
	return c.keep == nil || c.keep(text)
}

// isRetryable treats transient provider errors and per-attempt timeouts as
// worth another try.
func isRetryable(err error) bool {
	return resilience.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}
