// Package api serves the watch-management and change-query HTTP interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"dealwatch/internal/observability"
	"dealwatch/internal/storage"
	"dealwatch/internal/storage/clickhouse"
)

// ChangeStats aggregates the change mirror.
type ChangeStats interface {
	CountByKind(ctx context.Context, since time.Time) ([]clickhouse.KindCount, error)
}

// Options configures a Server.
type Options struct {
	Stores *storage.Stores

	// Feed serves /api/feed when set.
	Feed http.Handler
	// Stats serves /api/stats/changes when set.
	Stats ChangeStats

	AllowedOrigins []string
	Logger         *slog.Logger
	Now            func() time.Time
}

// Server holds the HTTP handlers.
type Server struct {
	stores *storage.Stores
	feed   http.Handler
	stats  ChangeStats
	logger *slog.Logger
	now    func() time.Time

	handler http.Handler
}

// New builds the router.
func New(opts Options) *Server {
	s := &Server{
		stores: opts.Stores,
		feed:   opts.Feed,
		stats:  opts.Stats,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", observability.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/watch", s.handleListWatches)
		r.Get("/watch/{id}", s.handleGetWatch)
		r.Put("/watch/{id}", s.handleAddWatch)
		r.Delete("/watch/{id}", s.handleRemoveWatch)

		r.Get("/entities/{id}/snapshot", s.handleLatestSnapshot)
		r.Get("/entities/{id}/snapshots", s.handleListSnapshots)
		r.Get("/entities/{id}/snapshots/{version}", s.handleGetSnapshot)
		r.Get("/entities/{id}/events", s.handleListEvents)

		r.Get("/changes", s.handleListChanges)
		if s.stats != nil {
			r.Get("/stats/changes", s.handleChangeStats)
		}
		if s.feed != nil {
			r.Handle("/feed", s.feed)
		}
	})

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// instrument counts requests by route pattern and status.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RecordAPIRequest(route, status)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps storage errors onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "store request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
