package server

import (
	"log/slog"
	"net/http"
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

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /health", h.Health)

	// Lip-sync pipelines
	mux.HandleFunc("POST /api/wav2lip", h.Wav2Lip)
	mux.HandleFunc("POST /api/sadtalker", h.SadTalker)
	mux.HandleFunc("POST /sync/single_image", h.SingleImage)
	mux.HandleFunc("POST /api/sync/single_image", h.SingleImage)
	mux.HandleFunc("POST /v1/sadtalker/single", h.SadTalkerSingle)

	// Job history
	mux.HandleFunc("GET /v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /v1/jobs/{id}/video", h.GetJobVideo)

	// Logging is outermost so recovered panics are logged with their 500.
	chain := ChainMiddleware(
		LoggingMiddleware(logger),
		RecoveryMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
