package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"golang.org/x/time/rate"

	"github.com/opsdesk/patternd/internal/cache"
	"github.com/opsdesk/patternd/internal/metrics"
)

// CachingProvider memoizes embeddings by the SHA-256 of the input text.
type CachingProvider struct {
	next  Provider
	cache *cache.Cache[[]float64]
}

// NewCachingProvider wraps next with a TTL cache of at most maxEntries vectors.
func NewCachingProvider(next Provider, ttl time.Duration, maxEntries int) *CachingProvider {
	return &CachingProvider{
		next:  next,
		cache: cache.New[[]float64](ttl, ttl, maxEntries),
	}
}

// Name returns the wrapped provider name
func (p *CachingProvider) Name() string {
	return p.next.Name()
}

// Embed returns a cached vector or asks the wrapped provider.
func (p *CachingProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	sum := sha256.Sum256([]byte(text))
	key := hex.EncodeToString(sum[:])

	if vec, ok := p.cache.Get(key); ok {
		metrics.EmbeddingCacheHitsTotal.Inc()
		return vec, nil
	}

	vec, err := p.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, vec)
	return vec, nil
}

// Close stops the cache sweeper.
func (p *CachingProvider) Close() {
	p.cache.Stop()
}

// RateLimitedProvider blocks callers until the limiter grants a token.
type RateLimitedProvider struct {
	next    Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider allows ratePerSecond calls with the given burst.
func NewRateLimitedProvider(next Provider, ratePerSecond float64, burst int) *RateLimitedProvider {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Name returns the wrapped provider name
func (p *RateLimitedProvider) Name() string {
	return p.next.Name()
}

// Embed waits for the limiter and then calls the wrapped provider.
func (p *RateLimitedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.next.Embed(ctx, text)
}

// InstrumentedProvider records call counts and latency.
type InstrumentedProvider struct {
	next Provider
}

// NewInstrumentedProvider wraps next with Prometheus instrumentation.
func NewInstrumentedProvider(next Provider) *InstrumentedProvider {
	return &InstrumentedProvider{next: next}
}

// Name returns the wrapped provider name
func (p *InstrumentedProvider) Name() string {
	return p.next.Name()
}

// Embed calls the wrapped provider and records the outcome.
func (p *InstrumentedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	start := time.Now()
	vec, err := p.next.Embed(ctx, text)
	metrics.EmbeddingCallDuration.WithLabelValues(p.next.Name()).Observe(time.Since(start).Seconds())

	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.EmbeddingCallsTotal.WithLabelValues(p.next.Name(), result).Inc()
	return vec, err
}

// Options selects the wrappers applied by Build.
type Options struct {
	CacheTTL        time.Duration
	CacheMaxEntries int
	RatePerSecond   float64
	Burst           int
}

// Build stacks the wrappers around base. Order from the outside in is cache,
// rate limiter, instrumentation; cache hits never reach the limiter.
func Build(base Provider, opts Options) Provider {
	var p Provider = NewInstrumentedProvider(base)
	if opts.RatePerSecond > 0 {
		p = NewRateLimitedProvider(p, opts.RatePerSecond, opts.Burst)
	}
	if opts.CacheTTL > 0 {
		p = NewCachingProvider(p, opts.CacheTTL, opts.CacheMaxEntries)
	}
	return p
}
