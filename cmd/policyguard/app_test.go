package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/policyguard/internal/authz"
	"github.com/vyrodovalexey/policyguard/internal/config"
	"github.com/vyrodovalexey/policyguard/internal/observability"
	"github.com/vyrodovalexey/policyguard/internal/oracle"
	"github.com/vyrodovalexey/policyguard/internal/oracle/celoracle"
)

const okPolicy = `
engine: cel
cel:
  policies:
    - name: read-ok
      expression: action == "GET" && resource.startsWith("/ok")
`

const denyAllPolicy = `
engine: cel
cel:
  policies:
    - name: nothing
      expression: "false"
`

func writePolicy(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testConfig(policyFile string) *config.Config {
	cfg := config.Default()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Metrics.Enabled = true
	cfg.Policy.File = policyFile
	return cfg
}

func newTestApplication(t *testing.T, cfg *config.Config) *application {
	t.Helper()

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.closeSources() })
	return app
}

func serve(app *application, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	return rec
}

func TestApplication_BoundBinding(t *testing.T) {
	t.Parallel()

	app := newTestApplication(t, testConfig(writePolicy(t, t.TempDir(), okPolicy)))

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
		wantJSON   string
	}{
		{name: "extract allowed", method: http.MethodGet, path: "/ok/extract", wantStatus: http.StatusOK, wantBody: "yay!"},
		{name: "default handler", method: http.MethodGet, path: "/ok/anything", wantStatus: http.StatusOK},
		{name: "rejected path", method: http.MethodGet, path: "/private", wantStatus: http.StatusUnauthorized, wantJSON: `{"error":"not allowed"}`},
		{name: "rejected method", method: http.MethodPost, path: "/ok/extract", wantStatus: http.StatusUnauthorized, wantJSON: `{"error":"not allowed"}`},
		{name: "health bypasses authorization", method: http.MethodGet, path: "/healthz", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := serve(app, tt.method, tt.path, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantJSON != "" {
				assert.JSONEq(t, tt.wantJSON, rec.Body.String())
			}
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestApplication_BoundKeepsStartupPolicy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	app := newTestApplication(t, testConfig(writePolicy(t, dir, okPolicy)))

	_, err := app.reloader.ApplyFile(writePolicy(t, dir, denyAllPolicy))
	require.NoError(t, err)

	rec := serve(app, http.MethodGet, "/ok/extract", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "yay!", rec.Body.String())
}

func TestApplication_DeferredFollowsReloads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testConfig(filepath.Join(dir, "policy.yaml"))
	cfg.Authz.Binding = config.BindingDeferred
	app := newTestApplication(t, cfg)

	rec := serve(app, http.MethodGet, "/ok/extract", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"oracle unavailable"}`, rec.Body.String())
	assert.Equal(t, http.StatusServiceUnavailable, serve(app, http.MethodGet, "/readyz", nil).Code)

	_, err := app.reloader.ApplyFile(writePolicy(t, dir, okPolicy))
	require.NoError(t, err)

	rec = serve(app, http.MethodGet, "/ok/extract", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "yay!", rec.Body.String())
	assert.Equal(t, http.StatusOK, serve(app, http.MethodGet, "/readyz", nil).Code)

	_, err = app.reloader.ApplyFile(writePolicy(t, dir, denyAllPolicy))
	require.NoError(t, err)

	rec = serve(app, http.MethodGet, "/ok/extract", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApplication_BoundRequiresPolicy(t *testing.T) {
	t.Parallel()

	cfg := testConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.Error(t, err)
	assert.Nil(t, app)
	assert.Contains(t, err.Error(), "no policy could be loaded")
}

func TestApplication_Metrics(t *testing.T) {
	t.Parallel()

	app := newTestApplication(t, testConfig(writePolicy(t, t.TempDir(), okPolicy)))

	serve(app, http.MethodGet, "/ok/extract", nil)
	serve(app, http.MethodGet, "/private", nil)

	rec := serve(app, http.MethodGet, config.DefaultMetricsPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `policyguard_authz_requests_total{outcome="allowed"} 1`)
	assert.Contains(t, body, `policyguard_authz_requests_total{outcome="rejected"} 1`)
	assert.Contains(t, body, `policyguard_policy_reloads_total{result="success",source="file"} 1`)
	assert.Contains(t, body, "policyguard_http_requests_total")
}

func TestApplication_RequireAuth(t *testing.T) {
	t.Parallel()

	cfg := testConfig(writePolicy(t, t.TempDir(), okPolicy))
	cfg.Identity.JWT.Secret = "test-secret"
	cfg.Identity.JWT.RequireAuth = true
	app := newTestApplication(t, cfg)

	rec := serve(app, http.MethodGet, "/ok/extract", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Bearer realm="policyguard"`, rec.Header().Get("WWW-Authenticate"))

	rec = serve(app, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApplication_RedisSource(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	mr.Set("policyguard:policy", okPolicy)

	cfg := config.Default()
	cfg.Authz.Binding = config.BindingDeferred
	cfg.Policy.Redis.Address = mr.Addr()
	cfg.Policy.Redis.Key = "policyguard:policy"
	cfg.Policy.Redis.Channel = config.DefaultRedisChannel
	app := newTestApplication(t, cfg)

	rec := serve(app, http.MethodGet, "/ok/extract", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, app.startSources(context.Background()))

	mr.Set("policyguard:policy", denyAllPolicy)
	mr.Publish(config.DefaultRedisChannel, "updated")

	assert.Eventually(t, func() bool {
		return serve(app, http.MethodGet, "/ok/extract", nil).Code == http.StatusUnauthorized
	}, 2*time.Second, 10*time.Millisecond)
}

func TestApplication_Run(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testConfig(writePolicy(t, dir, okPolicy))
	cfg.Policy.Watch = true

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.run(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestExtractHandler_WithoutOracle(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	extractHandler("_actor").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok/extract", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"no oracle could be extracted"}`, string(body))
}

func TestExtractHandler_NormalizesMethod(t *testing.T) {
	t.Parallel()

	engine, err := celoracle.New(&celoracle.Config{Policies: []celoracle.Policy{{
		Name:       "read-ok",
		Expression: `action == "GET" && resource.startsWith("/ok")`,
	}}})
	require.NoError(t, err)

	handler := authz.New(oracle.NewHandle(engine), authz.PathDecision()).Wrap(extractHandler("_actor"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("get", "/ok/extract", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "yay!", rec.Body.String())
}

func TestApplication_AbortReleasesTracer(t *testing.T) {
	t.Parallel()

	cfg := testConfig(writePolicy(t, t.TempDir(), okPolicy))
	cfg.Tracing.Enabled = true
	cfg.Tracing.Endpoint = ""
	cfg.Tracing.SamplingRate = 1
	app := newTestApplication(t, cfg)

	_, before := app.tracer.Tracer().Start(context.Background(), "before")
	assert.True(t, before.IsRecording())
	before.End()

	initErr := errors.New("handler setup failed")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, app.abort(ctx, initErr), initErr)

	_, after := app.tracer.Tracer().Start(context.Background(), "after")
	assert.False(t, after.IsRecording())
	after.End()

	_, ok := app.holder.Current()
	assert.False(t, ok)
}

func TestApplication_FailedStartupClosesRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Policy.Redis.Address = mr.Addr()
	cfg.Policy.Redis.Key = "policyguard:missing"
	cfg.Policy.Redis.Channel = config.DefaultRedisChannel

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.Error(t, err)
	assert.Nil(t, app)
	assert.Eventually(t, func() bool {
		return mr.CurrentConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
