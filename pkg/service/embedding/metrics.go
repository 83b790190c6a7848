package embedding

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/m-mizutani/mnemo/pkg/service/embedding"

type metrics struct {
	requests      metric.Int64Counter
	failures      metric.Int64Counter
	shortCircuits metric.Int64Counter
	cacheHits     metric.Int64Counter
	rejected      metric.Int64Counter
	transitions   metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(meterName)

	var (
		m   metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.requests, "mnemo.embedding.requests", "Embedding requests sent to the provider", "{request}"},
		{&m.failures, "mnemo.embedding.failures", "Embedding requests that failed at the provider", "{request}"},
		{&m.shortCircuits, "mnemo.embedding.short_circuits", "Embedding requests skipped by the open circuit breaker", "{request}"},
		{&m.cacheHits, "mnemo.embedding.cache_hits", "Embeddings served from the content-hash cache", "{request}"},
		{&m.rejected, "mnemo.embedding.rejected", "Embedding requests rejected because the queue was full", "{request}"},
		{&m.transitions, "mnemo.embedding.breaker_transitions", "Circuit breaker state transitions", "{transition}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create counter", goerr.V("name", c.name))
		}
	}
	return &m, nil
}

func (m *metrics) transition(from, to model.BreakerState) {
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}
