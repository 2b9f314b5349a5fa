package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"maps"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/janisto/welcome-api/internal/http/health"
	"github.com/janisto/welcome-api/internal/http/root"
	"github.com/janisto/welcome-api/internal/platform/config"
	"github.com/janisto/welcome-api/internal/platform/timeutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() config.Config {
	return config.Config{
		Port:        config.DefaultPort,
		APIPrefix:   config.DefaultAPIPrefix,
		MetricsPath: config.DefaultMetricsPath,
		RateLimit:   config.DefaultRateLimit,
		RateWindow:  config.DefaultRateWindow,
		LogLevel:    config.DefaultLogLevel,
	}
}

func testServer(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	h, err := newRouter(cfg, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newRouter: %v", err)
	}
	return h
}

func do(h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

type testProblem struct {
	Schema string `json:"$schema"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func decodeProblem(t *testing.T, resp *httptest.ResponseRecorder) testProblem {
	t.Helper()
	if ct := resp.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("expected application/problem+json, got %q", ct)
	}
	var p testProblem
	if err := json.Unmarshal(resp.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal problem: %v", err)
	}
	return p
}

func TestWelcome(t *testing.T) {
	srv := testServer(t, testConfig())

	for _, path := range []string{"/api", "/api/"} {
		t.Run(path, func(t *testing.T) {
			resp := do(srv, http.MethodGet, path, nil)
			if resp.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.Code)
			}
			if ct := resp.Header().Get("Content-Type"); ct != "application/json" {
				t.Fatalf("expected application/json, got %q", ct)
			}
			var data root.Data
			if err := json.Unmarshal(resp.Body.Bytes(), &data); err != nil {
				t.Fatalf("json unmarshal: %v", err)
			}
			if data.Message != "Welcome to the API" || data.Version != "1.0.0" {
				t.Fatalf("unexpected payload: %+v", data)
			}
			if age := time.Since(data.Timestamp.Time); age < -5*time.Second || age > 5*time.Second {
				t.Fatalf("timestamp %s too far from now", data.Timestamp)
			}
		})
	}
}

func TestWelcomeHasExactlyDocumentedFields(t *testing.T) {
	srv := testServer(t, testConfig())

	resp := do(srv, http.MethodGet, "/api", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if link := resp.Header().Get("Link"); link != "" {
		t.Fatalf("expected no Link header, got %q", link)
	}
	var raw map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &raw); err != nil {
		t.Fatalf("json unmarshal: %v", err)
	}
	keys := slices.Sorted(maps.Keys(raw))
	if want := []string{"message", "timestamp", "version"}; !slices.Equal(keys, want) {
		t.Fatalf("expected keys %v, got %v", want, keys)
	}
}

func TestWelcomeCBOR(t *testing.T) {
	srv := testServer(t, testConfig())

	resp := do(srv, http.MethodGet, "/api", map[string]string{"Accept": "application/cbor"})
	if ct := resp.Header().Get("Content-Type"); ct != "application/cbor" {
		t.Fatalf("expected application/cbor, got %q", ct)
	}
	var raw map[string]any
	if err := cbor.Unmarshal(resp.Body.Bytes(), &raw); err != nil {
		t.Fatalf("cbor unmarshal: %v", err)
	}
	ts, ok := raw["timestamp"].(string)
	if !ok {
		t.Fatalf("expected timestamp text string, got %T", raw["timestamp"])
	}
	if _, err := time.Parse(timeutil.RFC3339Millis, ts); err != nil {
		t.Fatalf("timestamp %q not ISO-8601: %v", ts, err)
	}
}

func TestCustomPrefix(t *testing.T) {
	cfg := testConfig()
	cfg.APIPrefix = "/v1"
	srv := testServer(t, cfg)

	if resp := do(srv, http.MethodGet, "/v1", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 under custom prefix, got %d", resp.Code)
	}
	if resp := do(srv, http.MethodGet, "/api", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected default prefix to be unmounted, got %d", resp.Code)
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t, testConfig())

	resp := do(srv, http.MethodGet, "/health", map[string]string{chimiddleware.RequestIDHeader: "test-health-req"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", resp.Code)
	}
	var h health.Response
	if err := json.Unmarshal(resp.Body.Bytes(), &h); err != nil {
		t.Fatalf("failed to decode health: %v", err)
	}
	if h.Status != "healthy" {
		t.Fatalf("unexpected status %q", h.Status)
	}
	if got := resp.Header().Get(chimiddleware.RequestIDHeader); got != "test-health-req" {
		t.Fatalf("expected request ID echo, got %q", got)
	}
}

func TestNotFoundReturnsProblemDetails(t *testing.T) {
	srv := testServer(t, testConfig())

	for _, path := range []string{"/nope", "/api/users", "/auth"} {
		resp := do(srv, http.MethodGet, path, nil)
		if resp.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.Code)
		}
		p := decodeProblem(t, resp)
		if p.Status != http.StatusNotFound || p.Detail != "resource not found" {
			t.Fatalf("%s: unexpected problem %+v", path, p)
		}
		if !strings.HasSuffix(p.Schema, "/api/schemas/ErrorModel.json") {
			t.Fatalf("%s: expected schema under the API prefix, got %q", path, p.Schema)
		}
	}
}

func TestMethodNotAllowedReturnsProblemDetails(t *testing.T) {
	srv := testServer(t, testConfig())

	for _, path := range []string{"/api", "/health"} {
		resp := do(srv, http.MethodPost, path, nil)
		if resp.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", path, resp.Code)
		}
		if allow := resp.Header().Get("Allow"); allow != http.MethodGet {
			t.Fatalf("%s: expected Allow GET, got %q", path, allow)
		}
		if p := decodeProblem(t, resp); !strings.Contains(p.Detail, http.MethodPost) {
			t.Fatalf("%s: unexpected detail %q", path, p.Detail)
		}
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 2
	srv := testServer(t, cfg)

	for i := range 2 {
		if resp := do(srv, http.MethodGet, "/api", nil); resp.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.Code)
		}
	}
	resp := do(srv, http.MethodGet, "/api", nil)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if p := decodeProblem(t, resp); p.Status != http.StatusTooManyRequests {
		t.Fatalf("unexpected problem %+v", p)
	}

	if resp := do(srv, http.MethodGet, "/health", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected health to bypass the limiter, got %d", resp.Code)
	}
}

func TestSecurityAndCORSHeaders(t *testing.T) {
	srv := testServer(t, testConfig())

	resp := do(srv, http.MethodGet, "/api", map[string]string{"Origin": "https://example.com"})
	if got := resp.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected nosniff, got %q", got)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard CORS origin, got %q", got)
	}

	preflight := do(srv, http.MethodOptions, "/api", map[string]string{
		"Origin":                        "https://example.com",
		"Access-Control-Request-Method": http.MethodGet,
	})
	if preflight.Code != http.StatusOK && preflight.Code != http.StatusNoContent {
		t.Fatalf("expected successful preflight, got %d", preflight.Code)
	}

	docs := do(srv, http.MethodGet, "/api"+root.DocsPath, nil)
	if docs.Header().Get("Content-Security-Policy") != "" {
		t.Fatal("expected docs to skip the API security headers")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t, testConfig())
	do(srv, http.MethodGet, "/api", nil)

	resp := do(srv, http.MethodGet, "/metrics", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := resp.Body.String()
	if !strings.Contains(body, `welcome_api_http_requests_total{code="200",method="GET",route="/api"} 1`) {
		t.Fatalf("expected API request to be counted, got:\n%s", body)
	}
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsPath = ""
	srv := testServer(t, cfg)

	if resp := do(srv, http.MethodGet, "/metrics", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with metrics disabled, got %d", resp.Code)
	}
}

func TestNewServerConfiguration(t *testing.T) {
	srv := newServer(":8080", http.NotFoundHandler())

	if srv.Addr != ":8080" {
		t.Errorf("unexpected addr %q", srv.Addr)
	}
	if srv.ReadTimeout != 5*time.Second {
		t.Errorf("expected ReadTimeout 5s, got %v", srv.ReadTimeout)
	}
	if srv.ReadHeaderTimeout != 2*time.Second {
		t.Errorf("expected ReadHeaderTimeout 2s, got %v", srv.ReadHeaderTimeout)
	}
	if srv.WriteTimeout != 10*time.Second {
		t.Errorf("expected WriteTimeout 10s, got %v", srv.WriteTimeout)
	}
	if srv.IdleTimeout != 60*time.Second {
		t.Errorf("expected IdleTimeout 60s, got %v", srv.IdleTimeout)
	}
	if srv.MaxHeaderBytes != 64<<10 {
		t.Errorf("expected MaxHeaderBytes 64KB, got %d", srv.MaxHeaderBytes)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := newServer(ln.Addr().String(), testServer(t, testConfig()))
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, srv, ln)
	}()

	tr := &http.Transport{DisableKeepAlives: true}
	defer tr.CloseIdleConnections()
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}

	resp, err := client.Get("http://" + ln.Addr().String() + "/api")
	if err != nil {
		t.Fatalf("GET /api: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected serve error: %v", err)
		}
	case <-time.After(shutdownTimeout):
		t.Fatal("timeout waiting for shutdown")
	}
}

func TestServeReturnsListenerErrors(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	// A closed listener makes Serve fail immediately.
	_ = ln.Close()

	err = serve(context.Background(), newServer(ln.Addr().String(), http.NotFoundHandler()), ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		t.Fatalf("expected listener error, got %v", err)
	}
}

func TestRunRejectsBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	cfg := testConfig()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	err = run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "listen") {
		t.Fatalf("expected listen error, got %v", err)
	}
}

func TestVersionVariable(t *testing.T) {
	if Version != "dev" {
		t.Errorf("expected default Version 'dev', got %q", Version)
	}
}
