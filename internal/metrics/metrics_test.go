package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Recorders(t *testing.T) {
	m := New("siteforge_test")

	m.AuditsStarted.Inc()
	m.AuditFinished("complete", true)
	m.PersistFailed("stage_update")
	m.PersistFailed("stage_update")
	m.FetchBlocked("reserved_address")
	m.AttemptFinished("ready", "modern-minimal", 3*time.Second)
	m.ObserveHTTP("GET", "/audits/{id}", 200, 10*time.Millisecond)
	m.DeploymentFinished("success")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditsFinished.WithLabelValues("complete", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PersistFailures.WithLabelValues("stage_update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlockedFetches.WithLabelValues("reserved_address")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationAttempts.WithLabelValues("ready", "modern-minimal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/audits/{id}", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deployments.WithLabelValues("success")))
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStage("seo", time.Second)
		m.AuditFinished("complete", false)
		m.PersistFailed("final")
		m.FetchBlocked("scheme_not_allowed")
		m.AttemptFinished("failed", "warm-local", time.Second)
		m.ObserveHTTP("POST", "/audits", 202, time.Millisecond)
		m.DeploymentFinished("error")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New("siteforge_test")
	m.ObserveStage("seo", 200*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "siteforge_test_audit_stage_duration_seconds")
}
