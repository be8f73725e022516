package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.BooksProcessedTotal.WithLabelValues("created").Inc()
	m.CacheHitsTotal.Add(2)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["books_processed_total"])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHitsTotal))
}

func TestNewNop_Independent(t *testing.T) {
	a, b := NewNop(), NewNop()
	a.CacheMissesTotal.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.CacheMissesTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CacheMissesTotal))
}
