// Package api serves the optional read-only status endpoint: liveness,
// Prometheus metrics, and JSON snapshots of the server's directory and
// write-lock table. It exposes nothing that can mutate state; the DFS wire
// protocol is the only write surface.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mirrorfs/mirrorfs/internal/logger"
	"github.com/mirrorfs/mirrorfs/internal/protocol/dfs"
)

// Status is the server-side state the endpoint snapshots. Implemented by
// *server.Server.
type Status interface {
	// Files returns the current directory listing.
	Files() ([]dfs.FileInfo, error)

	// Locks returns the write-lock table: filename to owner client id.
	Locks() map[string]string
}

// NewRouter builds the chi router. registry may be nil when metrics are
// disabled; the /metrics route is simply absent then.
func NewRouter(status Status, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/files", func(w http.ResponseWriter, _ *http.Request) {
			files, err := status.Files()
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"files": files})
		})

		r.Get("/locks", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"locks": status.Locks()})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs completed HTTP requests through the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("API request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", logger.Duration(start))
	})
}
