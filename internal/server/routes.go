package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /renders", h.CreateRender)
	mux.HandleFunc("GET /renders", h.ListRenders)
	mux.HandleFunc("GET /renders/{id}", h.GetRender)
	mux.HandleFunc("DELETE /renders/{id}", h.CancelRender)
	mux.HandleFunc("GET /renders/{id}/output", h.GetOutput)
	mux.HandleFunc("GET /renders/{id}/events", h.Events)
	mux.Handle("GET /metrics", promhttp.Handler())

	if h.playlists != nil {
		mux.HandleFunc("PUT /players/{player_id}/playlists/{playlist_id}", h.SavePlaylist)
		mux.HandleFunc("GET /players/{player_id}/playlists/{playlist_id}", h.GetPlaylist)
	}

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		MetricsMiddleware(),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
