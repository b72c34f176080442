package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"transitmap/internal/config"
	"transitmap/internal/handler"
	"transitmap/internal/session"
	"transitmap/web"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP server for the map.
type Server struct {
	router chi.Router
	cfg    *config.Config
	logger *slog.Logger
}

// New creates a new Server with all routes registered. metrics serves
// /metrics and may be nil.
func New(cfg *config.Config, h *handler.Handler, sessions *session.Store, metrics http.Handler, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(securityHeaders)
	r.Use(requestLogger(logger))

	// Static files from the embedded FS; versioned URLs get immutable caching
	fileServer := http.FileServer(http.FS(web.Static()))
	r.Handle("/static/*", http.StripPrefix("/static/", staticCacheHandler(fileServer)))

	r.Get("/healthz", h.Healthz)
	r.Get("/manifest.json", h.Manifest)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	// Everything below belongs to a browser session
	r.Group(func(r chi.Router) {
		r.Use(withSession(sessions, logger))

		r.Get("/", h.Home)

		r.Route("/api", func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   cfg.AllowedOrigins,
				AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders:   []string{"*"},
				AllowCredentials: true,
			}))
			r.Get("/stops", h.Stops)
			r.Get("/state", h.State)
			r.Get("/place", h.PlaceSearch)
		})

		r.Get("/stops/{stopID}/popup", h.StopPopup)
		r.Post("/stops/{stopID}/active", h.CheckActive)
		r.Get("/stops/{stopID}/routes/{routeID}/times", h.Schedule)

		r.Post("/route", h.SelectRoute)
		r.Post("/route/clear", h.ClearRoute)
		r.Post("/trip", h.SelectTrip)

		// SSE
		r.Get("/sse/map", h.MapEvents)
	})

	return &Server{router: r, cfg: cfg, logger: logger}
}

// ServeHTTP lets the server be used as a plain handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: event streams stay open.
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
