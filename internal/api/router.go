package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/whisper/internal/api/middleware"
	"github.com/eldtechnologies/whisper/internal/config"
	"github.com/eldtechnologies/whisper/internal/handlers"
	"github.com/eldtechnologies/whisper/internal/session"
	"github.com/eldtechnologies/whisper/internal/store"
)

// Deps bundles what the router wires into handlers.
type Deps struct {
	DB       store.DataStore
	Redis    *store.RedisStore
	Sessions *session.Manager
	Presence handlers.Presence
	Socket   http.Handler
}

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg *config.Config, logger zerolog.Logger, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // 16KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(deps.Redis.Client(), logger, middleware.RateLimiterConfig{
		Whitelist:        cfg.RateLimitWhitelist,
		AutoBlockEnabled: cfg.AutoBlockEnabled,
	})
	r.Use(limiter.Middleware)

	// CORS with credentials so browsers send the session cookie
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(deps.DB, deps.Redis, deps.Sessions, deps.Presence, logger)
	auth := middleware.NewAuthMiddleware(deps.Sessions)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/api/stats", h.Stats)

	// The relay authenticates the upgrade itself.
	r.Handle("/ws", deps.Socket)

	r.Route("/api/users", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Get("/", h.ListUsers)
		r.Get("/{id}", h.GetUser)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession)

			r.Post("/logout", h.Logout)
			r.Put("/edit/{id}", h.UpdateUser)
			r.Delete("/delete/{id}", h.DeleteUser)
		})
	})

	r.Route("/api/messages", func(r chi.Router) {
		r.Use(auth.RequireSession)

		r.Get("/users/online", h.OnlineUsers)
		r.Get("/{id}", h.History)
	})

	return r
}
