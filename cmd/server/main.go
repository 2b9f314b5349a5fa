package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/janisto/welcome-api/internal/http/health"
	"github.com/janisto/welcome-api/internal/http/root"
	"github.com/janisto/welcome-api/internal/platform/config"
	applog "github.com/janisto/welcome-api/internal/platform/logging"
	appmiddleware "github.com/janisto/welcome-api/internal/platform/middleware"
	"github.com/janisto/welcome-api/internal/platform/respond"
)

// Version can be overridden at build time: -ldflags "-X main.Version=1.2.3"
var Version = "dev"

const (
	apiTitle        = "Welcome API"
	maxRequestBytes = 1 << 20 // 1 MB
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		applog.LogError(context.Background(), "invalid configuration", err)
		_ = applog.Sync()
		os.Exit(2)
	}

	os.Exit(runMain(cfg))
}

// runMain owns the logger lifecycle so deferred syncs run before os.Exit.
func runMain(cfg config.Config) int {
	ctx := context.Background()
	defer func() {
		if err := applog.Sync(); err != nil {
			applog.LogError(ctx, "logger sync error", err)
		}
	}()
	if err := applog.Err(); err != nil {
		applog.LogError(ctx, "logger init error", err)
	}
	if err := applog.SetLevel(cfg.LogLevel); err != nil {
		applog.LogError(ctx, "invalid log level", err)
		return 2
	}
	if !cfg.EnvFileLoaded {
		applog.LogInfo(ctx, "env file not found, using environment only", zap.String("path", cfg.EnvFile))
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		applog.LogError(ctx, "server failed", err, zap.String("addr", cfg.Addr()))
		return 1
	}
	applog.LogInfo(context.Background(), "server exited")
	return 0
}

// run serves the API on cfg's port until ctx is cancelled.
func run(ctx context.Context, cfg config.Config) error {
	handler, err := newRouter(cfg, newRegistry())
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	applog.LogInfo(ctx, "server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("version", Version),
		zap.String("apiPrefix", cfg.APIPrefix),
		zap.Stringer("logLevel", applog.Level()),
	)
	return serve(ctx, newServer(cfg.Addr(), handler), ln)
}

// newRegistry returns a registry with the Go runtime and process collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newRouter builds the host router: the shared middleware chain, /health, the
// metrics endpoint, and the API router mounted at cfg.APIPrefix behind the rate limiter.
func newRouter(cfg config.Config, reg *prometheus.Registry) (http.Handler, error) {
	api, err := root.NewRouter(root.Options{Title: apiTitle, Prefix: cfg.APIPrefix})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	router := chi.NewRouter()
	router.NotFound(respond.NotFoundHandler())
	router.MethodNotAllowed(respond.MethodNotAllowedHandler())

	router.Use(
		respond.SchemaPrefix(cfg.APIPrefix),
		// The docs UI loads its own scripts and needs a looser CSP.
		appmiddleware.Security(cfg.APIPrefix+root.DocsPath),
		appmiddleware.Vary(),
		appmiddleware.CORS(),
		appmiddleware.RequestID(),
		// RealIP trusts X-Real-IP and X-Forwarded-For. Only deploy behind a
		// trusted reverse proxy (e.g., Cloud Run); the rate limiter keys on it.
		chimiddleware.RealIP,
		chimiddleware.RequestSize(maxRequestBytes),
		applog.RequestLogger(),
		applog.AccessLogger(),
	)
	if cfg.MetricsPath != "" {
		router.Use(appmiddleware.NewMetrics(reg).Middleware())
	}
	router.Use(respond.Recoverer())

	router.Get("/health", health.Handler)
	if cfg.MetricsPath != "" {
		router.Method(http.MethodGet, cfg.MetricsPath, appmiddleware.MetricsHandler(reg))
	}

	limited := router.With(appmiddleware.RateLimit(
		cfg.RateLimit,
		cfg.RateWindow,
		respond.TooManyRequestsHandler(cfg.RateWindow),
	))
	limited.Mount(cfg.APIPrefix, api)

	return router, nil
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    64 << 10, // 64 KB
	}
}

// serve runs srv on ln until ctx is done, then shuts down gracefully. A serve
// failure is returned as-is; http.ErrServerClosed is not an error.
func serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	listenErr := make(chan error, 1)
	go func() {
		defer close(listenErr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
		applog.LogInfo(context.Background(), "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-listenErr
}
