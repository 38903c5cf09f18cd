package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Fetch(nil, 10*time.Millisecond)
	m.Fetch(errors.New("x"), time.Millisecond)
	m.Fetch(nil, time.Millisecond)
	m.CacheHit()
	m.CacheMiss()
	m.CacheMiss()
	m.StaleResult()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.Ingested(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.fetches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleResults))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ingested))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Fetch(nil, time.Second)
	m.CacheHit()
	m.CacheMiss()
	m.CacheEvict()
	m.StaleResult()
	m.SessionOpened()
	m.SessionClosed()
	m.Ingested(1)
}
