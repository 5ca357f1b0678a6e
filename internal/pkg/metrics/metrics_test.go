package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersAndHandler(t *testing.T) {
	m := New()
	m.RecordCandidate("short")
	m.RecordCandidate("short")
	m.RecordExecution("paid_recurrent", "failed")
	m.ObserveLockWait(20 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Candidates.WithLabelValues("short")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("paid_recurrent", "failed")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "upgrade_lock_wait_seconds_count 1")
}
