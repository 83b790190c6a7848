package embedding_test

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/service/embedding"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type mockProvider struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
	calls   atomic.Int64
}

func (m *mockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	return m.embedFn(ctx, text)
}

func (m *mockProvider) Dimensions() int { return 8 }

func textVector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	v := make([]float32, 8)
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(seed>>40)/float32(1<<24) - 0.5
	}
	return v
}

func okProvider() *mockProvider {
	return &mockProvider{
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			return textVector(text), nil
		},
	}
}

func testConfig() embedding.Config {
	cfg := embedding.DefaultConfig()
	cfg.MinInterval = 0
	cfg.RequestTimeout = 0
	return cfg
}

func newClient(t *testing.T, p *mockProvider, opts ...embedding.Option) *embedding.Client {
	t.Helper()
	opts = append([]embedding.Option{embedding.WithConfig(testConfig())}, opts...)
	c, err := embedding.New(p, opts...)
	gt.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition was not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEmbedCachesByContent(t *testing.T) {
	p := okProvider()
	c := newClient(t, p)
	ctx := context.Background()

	v1, err := c.Embed(ctx, "my dog is Rex")
	gt.NoError(t, err)
	v2, err := c.Embed(ctx, "my dog is Rex")
	gt.NoError(t, err)

	gt.Equal(t, v1, v2)
	gt.Equal(t, p.calls.Load(), int64(1))

	_, err = c.Embed(ctx, "my cat is Tom")
	gt.NoError(t, err)
	gt.Equal(t, p.calls.Load(), int64(2))
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	p := okProvider()
	c := newClient(t, p)

	_, err := c.Embed(context.Background(), "  ")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrValidation))
	gt.Equal(t, p.calls.Load(), int64(0))
}

func TestEmbedShortCircuitsAfterFailures(t *testing.T) {
	p := &mockProvider{
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("provider unavailable")
		},
	}
	c := newClient(t, p)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.Embed(ctx, "what time is it")
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrTransientProvider))
	}
	gt.Equal(t, c.State(), model.BreakerOpen)

	_, err := c.Embed(ctx, "what time is it")
	gt.True(t, errors.Is(err, model.ErrCircuitOpen))
	gt.True(t, model.IsRetryable(err))
	gt.Equal(t, p.calls.Load(), int64(5))

	scores := c.SemanticConfidenceBatch(ctx, "what time is it", []string{"time", "weather"})
	gt.Equal(t, len(scores), 0)
	gt.Equal(t, p.calls.Load(), int64(5))
}

func TestEmbedRecoversThroughHalfOpen(t *testing.T) {
	clock := newFakeClock()
	var broken atomic.Bool
	broken.Store(true)
	p := &mockProvider{
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			if broken.Load() {
				return nil, errors.New("provider unavailable")
			}
			return textVector(text), nil
		},
	}
	cfg := testConfig()
	cfg.FailureThreshold = 2
	cfg.Cooldown = 10 * time.Second
	c := newClient(t, p, embedding.WithConfig(cfg), embedding.WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Embed(ctx, "hello")
		gt.Error(t, err)
	}
	gt.Equal(t, c.State(), model.BreakerOpen)

	clock.Advance(10 * time.Second)
	broken.Store(false)

	v, err := c.Embed(ctx, "hello")
	gt.NoError(t, err)
	gt.A(t, v).Length(8)
	gt.Equal(t, c.State(), model.BreakerClosed)
}

type gatedProvider struct {
	gate chan struct{}

	mu    sync.Mutex
	order []string
}

func (g *gatedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	g.mu.Lock()
	g.order = append(g.order, text)
	g.mu.Unlock()

	select {
	case <-g.gate:
		return textVector(text), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedProvider) Dimensions() int { return 8 }

func (g *gatedProvider) started() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

func TestEmbedBoundsConcurrencyInFIFOOrder(t *testing.T) {
	p := &gatedProvider{gate: make(chan struct{})}
	cfg := testConfig()
	cfg.MaxActiveRequests = 2
	cfg.QueueCapacity = 2
	c, err := embedding.New(p, embedding.WithConfig(cfg))
	gt.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	errs := make(chan error, 4)
	run := func(text string) {
		go func() {
			_, err := c.Embed(ctx, text)
			errs <- err
		}()
	}

	run("a")
	run("b")
	waitFor(t, func() bool { return len(p.started()) == 2 })
	gt.Equal(t, c.Stats().Active, 2)

	run("c")
	waitFor(t, func() bool { return c.Stats().Queued == 1 })
	run("d")
	waitFor(t, func() bool { return c.Stats().Queued == 2 })

	_, err = c.Embed(ctx, "e")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrBackpressure))

	p.gate <- struct{}{}
	waitFor(t, func() bool { return len(p.started()) == 3 })
	gt.Equal(t, p.started()[2], "c")
	gt.Equal(t, c.Stats().Active, 2)

	p.gate <- struct{}{}
	waitFor(t, func() bool { return len(p.started()) == 4 })
	gt.Equal(t, p.started()[3], "d")

	p.gate <- struct{}{}
	p.gate <- struct{}{}
	for i := 0; i < 4; i++ {
		gt.NoError(t, <-errs)
	}

	stats := c.Stats()
	gt.Equal(t, stats.Active, 0)
	gt.Equal(t, stats.Queued, 0)
}

func TestEmbedCanceledWhileQueued(t *testing.T) {
	p := &gatedProvider{gate: make(chan struct{})}
	cfg := testConfig()
	cfg.MaxActiveRequests = 1
	cfg.QueueCapacity = 1
	c, err := embedding.New(p, embedding.WithConfig(cfg))
	gt.NoError(t, err)
	defer c.Close()

	done := make(chan error, 1)
	go func() {
		_, err := c.Embed(context.Background(), "first")
		done <- err
	}()
	waitFor(t, func() bool { return len(p.started()) == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	queued := make(chan error, 1)
	go func() {
		_, err := c.Embed(ctx, "second")
		queued <- err
	}()
	waitFor(t, func() bool { return c.Stats().Queued == 1 })

	cancel()
	err = <-queued
	gt.Error(t, err)
	gt.True(t, errors.Is(err, context.Canceled))
	gt.Equal(t, c.Stats().Queued, 0)

	p.gate <- struct{}{}
	gt.NoError(t, <-done)
	gt.Equal(t, c.Stats().Active, 0)
	gt.Equal(t, len(p.started()), 1)

	// a canceled request is not a provider failure
	gt.Equal(t, c.Stats().Breaker.ConsecutiveFailures, 0)
}

func TestSemanticConfidenceBatch(t *testing.T) {
	p := okProvider()
	c := newClient(t, p, embedding.WithIntents([]string{"time", "weather"}))
	ctx := context.Background()

	gt.NoError(t, c.InitializeIntentEmbeddings(ctx))
	gt.Equal(t, p.calls.Load(), int64(2))
	gt.NoError(t, c.InitializeIntentEmbeddings(ctx))
	gt.Equal(t, p.calls.Load(), int64(2))

	scores := c.SemanticConfidenceBatch(ctx, "time", []string{"time", "weather", "music"})
	gt.Equal(t, len(scores), 3)
	gt.True(t, scores["time"] > 0.999)
	for _, s := range scores {
		gt.True(t, s >= 0 && s <= 1)
	}
	// "time" was served from the cache and "music" was embedded once
	gt.Equal(t, p.calls.Load(), int64(3))

	gt.Equal(t, len(c.SemanticConfidenceBatch(ctx, "", []string{"time"})), 0)
}

func TestInitializeIntentEmbeddingsRetries(t *testing.T) {
	var broken atomic.Bool
	broken.Store(true)
	p := &mockProvider{
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			if broken.Load() {
				return nil, errors.New("provider unavailable")
			}
			return textVector(text), nil
		},
	}
	c := newClient(t, p, embedding.WithIntents([]string{"time"}))
	ctx := context.Background()

	gt.Error(t, c.InitializeIntentEmbeddings(ctx))
	broken.Store(false)
	gt.NoError(t, c.InitializeIntentEmbeddings(ctx))
}

func TestSimilarityIsClamped(t *testing.T) {
	c := newClient(t, okProvider())

	gt.Equal(t, c.Similarity([]float32{1, 0}, []float32{-1, 0}), 0.0)
	gt.Equal(t, c.Similarity([]float32{1, 0}, []float32{0, 1}), 0.0)
	gt.Equal(t, c.Similarity([]float32{1, 0}, []float32{2, 0}), 1.0)
	gt.Equal(t, c.Similarity([]float32{1, 0}, []float32{1}), 0.0)
}

func sumCounter(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			gt.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestEmbedMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	var broken atomic.Bool
	p := &mockProvider{
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			if broken.Load() {
				return nil, errors.New("provider unavailable")
			}
			return textVector(text), nil
		},
	}
	cfg := testConfig()
	cfg.FailureThreshold = 1
	c := newClient(t, p, embedding.WithConfig(cfg), embedding.WithMeterProvider(mp))
	ctx := context.Background()

	_, err := c.Embed(ctx, "hello")
	gt.NoError(t, err)
	_, err = c.Embed(ctx, "hello")
	gt.NoError(t, err)

	broken.Store(true)
	_, err = c.Embed(ctx, "world")
	gt.Error(t, err)
	_, err = c.Embed(ctx, "world")
	gt.Error(t, err)

	var rm metricdata.ResourceMetrics
	gt.NoError(t, reader.Collect(ctx, &rm))

	gt.Equal(t, sumCounter(t, rm, "mnemo.embedding.requests"), int64(2))
	gt.Equal(t, sumCounter(t, rm, "mnemo.embedding.cache_hits"), int64(1))
	gt.Equal(t, sumCounter(t, rm, "mnemo.embedding.failures"), int64(1))
	gt.Equal(t, sumCounter(t, rm, "mnemo.embedding.short_circuits"), int64(1))
	gt.Equal(t, sumCounter(t, rm, "mnemo.embedding.breaker_transitions"), int64(1))
}

func TestEmbedKeepsMinimumInterval(t *testing.T) {
	var (
		mu     sync.Mutex
		starts []time.Time
	)
	p := &mockProvider{
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
			return textVector(text), nil
		},
	}

	cfg := testConfig()
	cfg.MinInterval = 50 * time.Millisecond
	cfg.MaxActiveRequests = 4
	c, err := embedding.New(p, embedding.WithConfig(cfg))
	gt.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for _, text := range []string{"alpha", "bravo", "charlie", "delta"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Embed(context.Background(), text)
			gt.NoError(t, err)
		}()
	}
	wg.Wait()

	gt.A(t, starts).Length(4)
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	// timer wake-ups may land slightly early relative to the previous start
	const slack = 5 * time.Millisecond
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		gt.True(t, gap >= cfg.MinInterval-slack)
	}
	gt.True(t, starts[3].Sub(starts[0]) >= 3*cfg.MinInterval-slack)
}
