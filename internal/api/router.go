/**
 * @description
 * This file sets up the HTTP router for the registration service. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies the authentication middleware each group needs.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for chi.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RegistrationRoutes creates and returns a new router for the registration
// service. The webhook and cron endpoints carry their own credentials and sit
// outside the JWT group.
func RegistrationRoutes(h *RegistrationHandlers, jwksURL, cronSecret string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Registry-facing webhook; authenticated by HMAC signature, not JWT.
	r.Post("/webhook/status", h.StatusCallbackHandler)

	// Cron trigger; authenticated by shared secret.
	r.Group(func(r chi.Router) {
		r.Use(CronAuthMiddleware(cronSecret))
		r.Post("/cron/check-status", h.CronCheckStatusHandler)
	})

	// User-facing endpoints require a valid JWT.
	r.Group(func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(jwksURL))

		r.Post("/sync", h.SyncHandler)
		r.Get("/status", h.StatusHandler)
	})

	return r
}
