package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveUpstream(t *testing.T) {
	m := NewMetrics()

	m.ObserveUpstream("llm", nil)
	m.ObserveUpstream("llm", errors.New("boom"))
	m.ObserveUpstream("llm", errors.New("boom again"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequestsTotal.WithLabelValues("llm", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UpstreamRequestsTotal.WithLabelValues("llm", "error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveUpstream("synthesis", nil)
		m.ContextOpened()
		m.ContextClosed()
		m.SegmentSent()
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.ScratchRemoved(3)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.ContextOpened()
	m.SegmentSent()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "synthesis_contexts_active 1")
	assert.Contains(t, string(body), "sentence_segments_total 1")
}
