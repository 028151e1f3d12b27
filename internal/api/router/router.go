package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/course-checkout/internal/checkout"
	httpmiddleware "github.com/wolfman30/course-checkout/internal/http/middleware"
	"github.com/wolfman30/course-checkout/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Checkout           *checkout.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	// RateLimiter guards session-creating routes (optional)
	RateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	h := cfg.Checkout
	throttle := httpmiddleware.RateLimit(cfg.RateLimiter)

	// Operational endpoints
	r.Get("/health", h.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Server-rendered checkout page. Compression is skipped on the API so the
	// timer websocket can hijack its connection.
	r.Group(func(page chi.Router) {
		page.Use(middleware.Compress(5))
		page.With(throttle).Get("/", h.Page)
		page.Post("/checkout/advance", h.PageAdvance)
		page.Post("/checkout/confirm", h.PageConfirm)
	})

	// JSON API for host pages
	r.Mount("/api", h.APIRoutes(throttle))

	return r
}
