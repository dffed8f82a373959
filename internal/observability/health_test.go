package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthMonitor_WorstStatusWins(t *testing.T) {
	m := NewHealthMonitor(time.Minute)
	m.Register("postgres", func(_ context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusHealthy}
	})
	m.Register("feed", func(_ context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDegraded, Message: "no events observed yet"}
	})

	health := m.Check(context.Background())
	assert.Equal(t, StatusDegraded, health.Status)
	require.Len(t, health.Components, 2)
	assert.Equal(t, StatusHealthy, health.Components["postgres"].Status)
	assert.Equal(t, "feed", health.Components["feed"].Name)
}

func TestPingCheck(t *testing.T) {
	ok := PingCheck(PingFunc(func(_ context.Context) error { return nil }))
	assert.Equal(t, StatusHealthy, ok(context.Background()).Status)

	down := PingCheck(PingFunc(func(_ context.Context) error {
		return errors.New("connection refused")
	}))
	result := down(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "connection refused", result.Message)
}

func TestStalenessCheck(t *testing.T) {
	var last time.Time
	check := StalenessCheck(func() time.Time { return last }, time.Minute)

	assert.Equal(t, StatusDegraded, check(context.Background()).Status)

	last = time.Now()
	assert.Equal(t, StatusHealthy, check(context.Background()).Status)

	last = time.Now().Add(-2 * time.Minute)
	assert.Equal(t, StatusDegraded, check(context.Background()).Status)
}

func TestHealthHandler_Returns503WhenUnhealthy(t *testing.T) {
	m := NewHealthMonitor(time.Minute)
	m.Register("clickhouse", func(_ context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusUnhealthy, Message: "dial timeout"}
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health/full", nil))

	require.Equal(t, 503, rec.Code)
	var health SystemHealth
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, StatusUnhealthy, health.Status)
}
