// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"buildstate/internal/controller/handlers"
	"buildstate/internal/controller/middleware"
	"buildstate/internal/tracker"
)

// Options carries the optional parts of the controller.
type Options struct {
	// AdminSecret guards POST /principals. Empty disables it.
	AdminSecret string

	// Metrics is served on GET /metrics when set.
	Metrics http.Handler

	Logger *slog.Logger
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// NewHandler builds the routed API handler.
func NewHandler(store handlers.StoreFactory, svc *tracker.Service, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := handlers.New(store, svc, opts.Logger)

	authMW := middleware.AuthMiddleware(store)
	rateMW := middleware.NewRateLimiter().Middleware()
	protected := func(fn http.HandlerFunc) http.Handler {
		return authMW(rateMW(fn))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	mux.Handle("POST /principals", middleware.RequireAdminSecret(opts.AdminSecret)(http.HandlerFunc(h.CreatePrincipal)))
	mux.Handle("POST /reference/{kind}", protected(h.RegisterReference))

	mux.Handle("POST /builds", protected(h.StartBuild))
	mux.Handle("GET /builds", protected(h.ListBuilds))
	mux.Handle("GET /builds/{id}", protected(h.GetBuild))
	mux.Handle("GET /build-numbers/{number}", protected(h.GetBuildByNumber))
	mux.Handle("POST /builds/{id}/cancel", protected(h.CancelBuild))

	mux.Handle("POST /builds/{id}/transitions", protected(h.Transition))
	mux.Handle("GET /builds/{id}/transitions", protected(h.ListLedger))

	mux.Handle("POST /builds/{id}/failures", protected(h.RecordFailure))
	mux.Handle("GET /builds/{id}/failures", protected(h.ListFailures))
	mux.Handle("POST /failures/{id}/resolve", protected(h.ResolveFailure))

	mux.Handle("POST /builds/{id}/artifacts", protected(h.RegisterArtifact))
	mux.Handle("GET /builds/{id}/artifacts", protected(h.ListArtifacts))
	mux.Handle("GET /builds/{id}/artifacts/latest", protected(h.GetLatestArtifact))

	mux.Handle("GET /builds/{id}/resume", protected(h.PlanResume))

	mux.Handle("GET /builds/{id}/variables", protected(h.ListVariables))
	mux.Handle("PUT /builds/{id}/variables/{key}", protected(h.SetVariable))
	mux.Handle("GET /builds/{id}/variables/{key}", protected(h.GetVariable))

	mux.Handle("GET /dashboard/summary", protected(h.Summary))

	return middleware.RequestLogger(opts.Logger)(mux)
}

// New creates a new controller server.
func New(addr string, store handlers.StoreFactory, svc *tracker.Service, opts Options) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      NewHandler(store, svc, opts),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
