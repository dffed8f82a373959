package observability

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersAndGauges(t *testing.T) {
	m := NewMetrics()

	m.MigrationsDetected.WithLabelValues("pumpportal").Inc()
	m.MigrationsDetected.WithLabelValues("pumpportal").Inc()
	m.MigrationsDetected.WithLabelValues("raydium_ws").Inc()
	m.SnipesTotal.WithLabelValues("success").Inc()
	m.OpenPositions.Set(3)
	m.ExitsTotal.WithLabelValues("stop_loss").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MigrationsDetected.WithLabelValues("pumpportal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MigrationsDetected.WithLabelValues("raydium_ws")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnipesTotal.WithLabelValues("success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OpenPositions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExitsTotal.WithLabelValues("stop_loss")))
}

func TestMetrics_IsolatedRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.MatchesTotal.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.MatchesTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.MatchesTotal))
}

func TestMetrics_HandlerExposesPrometheusText(t *testing.T) {
	m := NewMetrics()
	m.DetectionLatencyMs.Observe(120)
	m.MigrationsDeduped.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "gradient_migrations_deduped_total 1"))
	assert.True(t, strings.Contains(body, "gradient_detection_latency_ms_bucket"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
