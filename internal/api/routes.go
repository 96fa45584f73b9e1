package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/habit-coach/internal/config"
	"github.com/ignite/habit-coach/internal/pkg/httputil"
)

// requestTimeout bounds every request except background admin triggers,
// which return before their work finishes.
const requestTimeout = 60 * time.Second

// SetupRoutes configures all routes: health and metrics at the root, the
// client surface under /api/v1, and the admin surface under /api/v1/admin
// behind the admin token.
func SetupRoutes(h *Handlers, hc *HealthChecker, cfg config.ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health and metrics (no auth required)
	if hc != nil {
		r.Get("/health", hc.HandleHealth)
		r.Get("/health/live", hc.HandleLiveness)
		r.Get("/health/ready", hc.HandleReadiness)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		h.RegisterUserRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(adminAuth(cfg.AdminToken))
			h.RegisterAdminRoutes(r)
		})
	})

	return r
}

// adminAuth requires "Authorization: Bearer <token>". An empty token
// disables the check.
func adminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
