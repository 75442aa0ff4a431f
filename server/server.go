// Package server exposes the HTTP surface: health, readiness, Prometheus metrics
// and a token-protected admin API over the credit ledger. Every request carries a
// correlation ID and a trace span.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Exporter streams every account.
type Exporter interface {
	Export(ctx context.Context, fn func(ledger.Account) error) error
}

// Options configures the router.
type Options struct {
	AdminUsername     string
	AdminPassword     string
	AdminToken        string
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Deps are the collaborators behind the routes. Pinger and Exporter are optional.
type Deps struct {
	Admin    *ledger.Admin
	Pinger   Pinger
	Exporter Exporter
}

// NewRouter returns the HTTP handler with all routes. ctx bounds the rate
// limiter's cleanup goroutine.
func NewRouter(ctx context.Context, deps Deps, opts Options) http.Handler {
	h := &Handlers{admin: deps.Admin, pinger: deps.Pinger, exporter: deps.Exporter}
	limiter := newIPRateLimiter(ctx, &rateLimiterConfig{
		enabled:       opts.RateLimitEnabled,
		requestsPerIP: max(opts.RateLimitRequests, 1),
		window:        max(opts.RateLimitWindow, time.Second),
	})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(correlation)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.HandleHealthz)
	r.Get("/readyz", h.HandleReadyz)

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAuth(newAuthConfig(opts.AdminUsername, opts.AdminPassword, opts.AdminToken)))
		r.Use(rateLimitMiddleware(limiter))

		r.Get("/stats", h.HandleStats)
		r.Get("/premium", h.HandlePremium)
		r.Get("/export", h.HandleExport)
		r.Get("/accounts", h.HandleAccountsList)
		r.Get("/accounts/{id}", h.HandleAccount)
		r.Post("/accounts/{id}/credits", h.HandleCredits)
		r.Put("/accounts/{id}/validity", h.HandleSetValidity)
		r.Delete("/accounts/{id}/validity", h.HandleClearValidity)
	})
	return r
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
