package telemetry

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/featurebot/core/config"
)

func TestMetricsHandlerExposesCounters(t *testing.T) {
	m := NewMetrics()
	m.Updates.WithLabelValues("callback").Add(2)
	m.Blocked.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Updates.WithLabelValues("callback")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `featurebot_updates_total{kind="callback"} 2`), body)
	assert.Contains(t, body, "featurebot_admission_blocked_total 1")
	assert.Contains(t, body, "go_goroutines")
}

func TestServeWithoutAddrIsNoop(t *testing.T) {
	require.NoError(t, NewMetrics().Serve(context.Background(), ""))
}

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), config.TracingConfig{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
