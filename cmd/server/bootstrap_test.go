package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mondtic/corporate-access/internal/app"
)

func testConfig() *app.Config {
	return &app.Config{
		Server:   app.ServerConfig{Port: 0, LogLevel: "info"},
		Database: app.DatabaseConfig{Driver: "sqlite"},
		Eligibility: app.EligibilityConfig{
			RegexCacheCapacity: 64,
		},
		Invitations: app.InvitationConfig{
			RequireAccountOnAccept: true,
			DefaultEnrollmentMode:  "audit",
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
		Maintenance: app.MaintenanceConfig{
			CacheSchedule: "@every 10m",
			RegexSchedule: "@hourly",
		},
	}
}

func TestBootstrapRuntimeWithSQLite(t *testing.T) {
	cfg := testConfig()
	log := zap.NewNop()

	stack, err := bootstrapRuntime(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), log) })

	require.NotNil(t, stack.DB)
	require.NotNil(t, stack.Bus)
	require.NotNil(t, stack.Invitations)
	require.NotNil(t, stack.Access)
	require.NotNil(t, stack.Aggregator)
	require.NotNil(t, stack.RegexRules)
	require.NotNil(t, stack.BulkImport)
	require.NotNil(t, stack.Cleaner)

	// Without a platform endpoint the enrollment workflow stays offline.
	require.Nil(t, stack.Enrollments)
}

func TestHandlerServesProbesAndMetrics(t *testing.T) {
	cfg := testConfig()
	log := zap.NewNop()

	stack, err := bootstrapRuntime(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), log) })

	handler := newHandler(cfg, stack)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "database")
	require.Contains(t, resp.Body.String(), "cache")

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig("/definitely/not/here")
	require.Error(t, err)
}
