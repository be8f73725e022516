package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	events []kafka.Event
	err    error
	calls  int
}

func (f *fakeWriter) Publish(_ context.Context, ev kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func TestBookIngested_Publishes(t *testing.T) {
	w := &fakeWriter{}
	m := metrics.NewNop()
	p := New(w, m)

	p.BookIngested(context.Background(), ingestion.BookIngestedEvent{BookID: 42, Title: "Moby Dick"})

	require.Len(t, w.events, 1)
	assert.Equal(t, "42", w.events[0].Key)
	data, err := json.Marshal(w.events[0].Value)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"book_id":42`)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues("ok")))
}

func TestBookIngested_BreakerStopsCalls(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unreachable")}
	m := metrics.NewNop()
	p := New(w, m)

	for i := range 8 {
		p.BookIngested(context.Background(), ingestion.BookIngestedEvent{BookID: int64(i + 1)})
	}

	assert.Equal(t, 5, w.calls)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("kafka-publish")))
}
