// Package httpapi mounts the visitor hub and its read-only HTTP endpoints.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/HMasataka/visitorhub/internal/config"
	"github.com/HMasataka/visitorhub/internal/logging"
	"github.com/HMasataka/visitorhub/pkg/domain"
	"github.com/HMasataka/visitorhub/pkg/presence"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/samber/lo"
)

// Presence is the view of the presence channel the API reads from
type Presence interface {
	presence.Counter
	Connections() []presence.Connection
}

// StatsSource reports hub statistics
type StatsSource interface {
	GetStats() domain.HubStats
}

// Deps are the components served by the router
type Deps struct {
	Hub      http.Handler
	Presence Presence
	Stats    StatsSource
	Logger   *logging.Logger
}

// NewRouter builds the chi router for the service
func NewRouter(cfg *config.Config, deps Deps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOptions(cfg.CORS)))

	r.Get(cfg.Server.HubPath, deps.Hub.ServeHTTP)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/visitors/count", func(w http.ResponseWriter, r *http.Request) {
			count := deps.Presence.GetCurrentCount()
			logging.FromContext(r.Context()).Debug("visitor count served", "count", count)
			writeJSON(w, http.StatusOK, domain.VisitorCount{Count: count})
		})
		r.Get("/visitors", func(w http.ResponseWriter, r *http.Request) {
			connections := deps.Presence.Connections()
			logging.FromContext(r.Context()).Debug("visitor snapshot served", "count", len(connections))
			writeJSON(w, http.StatusOK, map[string]any{
				"count":       len(connections),
				"connections": connections,
			})
		})
		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			stats := deps.Stats.GetStats()
			logging.FromContext(r.Context()).Debug("hub stats served", "connected_clients", stats.ConnectedClients)
			writeJSON(w, http.StatusOK, stats)
		})
	})

	return r
}

// corsOptions builds the browser policy. A "*" origin allows any caller
// and echoes its origin back, since browsers refuse a literal "*" on
// credentialed requests.
func corsOptions(cfg config.CORSConfig) cors.Options {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}

	if lo.Contains(cfg.AllowedOrigins, "*") {
		opts.AllowOriginFunc = func(*http.Request, string) bool { return true }
	} else {
		opts.AllowedOrigins = cfg.AllowedOrigins
	}

	return opts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs one structured line per request
func requestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			reqLogger := logger.WithFields(map[string]any{
				"request_id": middleware.GetReqID(r.Context()),
			})
			ctx := logging.WithLogger(r.Context(), reqLogger)

			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.LogAttrs(ctx, slog.LevelInfo, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
