package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atelier-studio/atelier/internal/app"
	"github.com/atelier-studio/atelier/internal/cache"
)

func TestBootstrapRuntime(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "atelier.sqlite")

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(zap.NewNop()) })

	require.NotNil(t, stack.DB)
	require.NotNil(t, stack.Broker)
	require.NotNil(t, stack.Hub)
	require.IsType(t, &cache.MemoryStore{}, stack.Cache)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	stack.Router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	// Requests under /api require the identity headers from the edge.
	recorder = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	stack.Router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.Header.Set("X-User-ID", "user-1")
	stack.Router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	// The metrics endpoint is exposed unauthenticated and reports the
	// request latencies observed above.
	recorder = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	stack.Router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "atelier_api_latency_seconds")
}

func TestBootstrapRuntimeRedisFallback(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "atelier.sqlite")
	cfg.Cache.Redis.Enabled = true
	cfg.Cache.Redis.Address = "127.0.0.1:1" // nothing listening

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(zap.NewNop()) })

	require.IsType(t, &cache.MemoryStore{}, stack.Cache)
}
