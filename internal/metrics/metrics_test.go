package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNop(t *testing.T) {
	var c Collector = Nop{}

	require.NotPanics(t, func() {
		c.RecordReport("stage")
		c.RecordMirrorFailure("put")
		c.RecordSnapshot("default")
		c.RecordOutcome("completed")
	})
}

func TestPrometheus_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	p.RecordReport("heartbeat")
	p.RecordReport("heartbeat")
	p.RecordReport("stage")
	p.RecordMirrorFailure("put")
	p.RecordSnapshot("estimated")
	p.RecordOutcome("cancelled")

	require.Equal(t, 2.0, testutil.ToFloat64(p.reports.WithLabelValues("heartbeat")))
	require.Equal(t, 1.0, testutil.ToFloat64(p.reports.WithLabelValues("stage")))
	require.Equal(t, 1.0, testutil.ToFloat64(p.mirrorFailures.WithLabelValues("put")))
	require.Equal(t, 1.0, testutil.ToFloat64(p.snapshots.WithLabelValues("estimated")))
	require.Equal(t, 1.0, testutil.ToFloat64(p.outcomes.WithLabelValues("cancelled")))
}

func TestHandler_ExposesCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")
	p.RecordOutcome("completed")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `test_jobs_outcomes_total{status="completed"} 1`))
}
