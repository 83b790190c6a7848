package embedding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/time/rate"
)

// Config tunes the resilience layer around the embedding provider
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold int
	// Cooldown is the first open period; it doubles on every failed probe up to MaxCooldown
	Cooldown    time.Duration
	MaxCooldown time.Duration

	MaxActiveRequests int
	QueueCapacity     int

	// MinInterval is the minimum time between two provider calls
	MinInterval time.Duration
	// RequestTimeout bounds a single provider call. Zero disables it.
	RequestTimeout time.Duration

	// CacheSize is the number of vectors kept by the content-hash cache
	CacheSize int64
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		Cooldown:          30 * time.Second,
		MaxCooldown:       5 * time.Minute,
		MaxActiveRequests: 3,
		QueueCapacity:     32,
		MinInterval:       100 * time.Millisecond,
		RequestTimeout:    10 * time.Second,
		CacheSize:         4096,
	}
}

// Client is a resilient front of an embedding provider. It caches vectors by content
// hash and shields callers from provider outages with a circuit breaker, a bounded
// worker pool and a rate limiter.
type Client struct {
	provider   interfaces.Embedder
	cfg        Config
	clock      func() time.Time
	breaker    *Breaker
	dispatcher *dispatcher
	limiter    *rate.Limiter
	cache      *ristretto.Cache
	metrics    *metrics

	meterProvider metric.MeterProvider

	intents     []string
	intentMu    sync.RWMutex
	intentVecs  map[string][]float32
	intentsWarm atomic.Bool
	warmupMu    sync.Mutex
}

var _ interfaces.SemanticScorer = (*Client)(nil)

type Option func(*Client)

func WithConfig(cfg Config) Option {
	return func(c *Client) {
		c.cfg = cfg
	}
}

func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithMeterProvider enables otel metrics. Metrics are discarded by default.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Client) {
		c.meterProvider = mp
	}
}

// WithIntents replaces the keywords warmed by InitializeIntentEmbeddings
func WithIntents(intents []string) Option {
	return func(c *Client) {
		c.intents = intents
	}
}

func New(provider interfaces.Embedder, opts ...Option) (*Client, error) {
	c := &Client{
		provider:      provider,
		cfg:           DefaultConfig(),
		clock:         time.Now,
		meterProvider: noop.NewMeterProvider(),
		intents:       DefaultIntents(),
		intentVecs:    make(map[string][]float32),
	}
	for _, opt := range opts {
		opt(c)
	}

	m, err := newMetrics(c.meterProvider)
	if err != nil {
		return nil, err
	}
	c.metrics = m

	cacheSize := c.cfg.CacheSize
	if cacheSize < 1 {
		cacheSize = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheSize * 10,
		MaxCost:     cacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache")
	}
	c.cache = cache

	c.breaker = NewBreaker(c.cfg.FailureThreshold, c.cfg.Cooldown, c.cfg.MaxCooldown, c.clock)
	c.breaker.onTransition = c.metrics.transition
	c.dispatcher = newDispatcher(c.cfg.MaxActiveRequests, c.cfg.QueueCapacity)

	limit := rate.Inf
	if c.cfg.MinInterval > 0 {
		limit = rate.Every(c.cfg.MinInterval)
	}
	c.limiter = rate.NewLimiter(limit, 1)

	return c, nil
}

func (c *Client) Close() {
	c.cache.Close()
}

// Dimensions returns the vector size of the underlying provider
func (c *Client) Dimensions() int {
	return c.provider.Dimensions()
}

// Stats is a snapshot of the client's load
type Stats struct {
	Active  int                 `json:"active"`
	Queued  int                 `json:"queued"`
	Breaker model.BreakerStatus `json:"breaker"`
}

func (c *Client) Stats() Stats {
	active, queued := c.dispatcher.stats()
	return Stats{
		Active:  active,
		Queued:  queued,
		Breaker: c.breaker.Status(),
	}
}

func (c *Client) State() model.BreakerState {
	return c.breaker.State()
}

func cloneVector(v []float32) []float32 {
	return append([]float32(nil), v...)
}

// Embed returns the vector of text. Cached vectors are returned without touching the
// provider. Errors wrap model.ErrCircuitOpen, model.ErrBackpressure or
// model.ErrTransientProvider.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, goerr.Wrap(model.ErrValidation, "text to embed is empty")
	}

	key := model.ContentHash(text)
	if v, ok := c.cache.Get(key); ok {
		c.metrics.cacheHits.Add(ctx, 1)
		return cloneVector(v.([]float32)), nil
	}

	ticket, err := c.breaker.Allow()
	if err != nil {
		c.metrics.shortCircuits.Add(ctx, 1)
		return nil, err
	}

	release, err := c.dispatcher.acquire(ctx)
	if err != nil {
		ticket.Release()
		if errors.Is(err, model.ErrBackpressure) {
			c.metrics.rejected.Add(ctx, 1)
		}
		return nil, err
	}
	defer release()

	// the breaker may have opened while this request was queued
	if !ticket.Valid() {
		ticket.Release()
		c.metrics.shortCircuits.Add(ctx, 1)
		return nil, goerr.Wrap(model.ErrCircuitOpen, "circuit opened while request was queued")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		ticket.Release()
		return nil, goerr.Wrap(err, "embedding request canceled by rate limiter")
	}

	vec, err := c.call(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			ticket.Release()
			return nil, goerr.Wrap(ctx.Err(), "embedding request canceled")
		}
		ticket.Failure()
		c.metrics.failures.Add(ctx, 1)
		logging.From(ctx).Debug("embedding provider failed", "error", err, "breaker", c.breaker.State().String())
		return nil, goerr.Wrap(errors.Join(model.ErrTransientProvider, err), "failed to embed text")
	}
	ticket.Success()

	c.cache.Set(key, cloneVector(vec), 1)
	c.cache.Wait()
	return vec, nil
}

func (c *Client) call(ctx context.Context, text string) ([]float32, error) {
	c.metrics.requests.Add(ctx, 1)

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	vec, err := c.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, goerr.New("provider returned an empty vector")
	}
	return vec, nil
}

// Similarity is the cosine similarity of a and b clamped to [0,1]. Opposite and
// orthogonal vectors are both 0.
func (c *Client) Similarity(a, b []float32) float64 {
	return model.Clamp01(model.CosineSimilarity(a, b))
}
