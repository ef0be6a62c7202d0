// Package api exposes document conversion over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/spherical/doc-converter/internal/domain"
	"github.com/spherical/doc-converter/internal/observability"
)

// Converter is the conversion capability the API serves.
type Converter interface {
	Available() bool
	Convert(ctx context.Context, data []byte) (*domain.ConversionResult, error)
}

// Config holds HTTP-facing limits.
type Config struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
	Version        string
}

// NewRouter creates the API router with all routes configured.
func NewRouter(logger zerolog.Logger, converter Converter, cfg Config) http.Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 200 << 20
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}

	health := &healthHandler{converter: converter, version: cfg.Version}
	r.Get("/health", health.ServeHTTP)

	conversions := NewConversionHandler(logger, converter, cfg.MaxUploadBytes)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/conversions", conversions.Create)
	})

	return r
}

// requestLogger logs each request once it completes.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	log := observability.Component(logger, "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("Request handled")
		})
	}
}

type healthHandler struct {
	converter Converter
	version   string
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	configured := h.converter.Available()
	status := "healthy"
	if !configured {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           status,
		"service":          "doc-converter",
		"version":          h.version,
		"remoteConfigured": configured,
	})
}
