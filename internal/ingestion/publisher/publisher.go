// Package publisher announces newly stored books on Kafka so a following
// indexer can pick them up. Publishing is best effort: failures are logged
// and counted, and a circuit breaker stops hammering an unreachable broker.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/resilience"
)

const publishTimeout = 5 * time.Second

// EventWriter sends one event. *kafka.Producer implements it.
type EventWriter interface {
	Publish(ctx context.Context, event kafka.Event) error
}

type Publisher struct {
	writer  EventWriter
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

var _ ingestion.EventPublisher = (*Publisher)(nil)

func New(w EventWriter, m *metrics.Metrics) *Publisher {
	if m == nil {
		m = metrics.NewNop()
	}
	breaker := resilience.NewCircuitBreaker("kafka-publish", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(name string, _, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return &Publisher{
		writer:  w,
		breaker: breaker,
		metrics: m,
		logger:  slog.Default().With("component", "publisher"),
	}
}

// BookIngested publishes ev keyed by book ID. It never fails the caller.
func (p *Publisher) BookIngested(ctx context.Context, ev ingestion.BookIngestedEvent) {
	err := p.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		return p.writer.Publish(ctx, kafka.Event{
			Key:   strconv.FormatInt(ev.BookID, 10),
			Value: ev,
		})
	})
	switch {
	case err == nil:
		p.metrics.EventsPublishedTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, resilience.ErrCircuitOpen):
		p.metrics.EventsPublishedTotal.WithLabelValues("dropped").Inc()
		p.logger.Debug("event dropped, circuit open", "book_id", ev.BookID)
	default:
		p.metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
		p.logger.Error("failed to publish book event", "book_id", ev.BookID, "error", err)
	}
}
