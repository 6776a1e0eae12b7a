// Package http provides HTTP routing and handlers for the passkeeper
// login storage API.
package http

import (
	"net/http"

	"github.com/atinyakov/passkeeper/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs and returns an HTTP handler that serves
// the login storage API.
//
// Routes:
//
//	POST   /api/logins          → AddLogin
//	GET    /api/logins          → GetAllLogins
//	DELETE /api/logins          → RemoveAllLogins
//	POST   /api/logins/remove   → RemoveLogin
//	POST   /api/logins/modify   → ModifyLogin
//	POST   /api/logins/search   → SearchLogins
//	GET    /api/logins/find     → FindLogins
//	GET    /api/logins/count    → CountLogins
//	GET    /api/hosts/saving    → GetLoginSavingEnabled
//	PUT    /api/hosts/saving    → SetLoginSavingEnabled
//	GET    /api/hosts/disabled  → GetAllDisabledHosts
//	GET    /api/status          → Status
//
// Middleware chain (applied in order):
//  1. RequestID, Recoverer
//  2. AllowContentType("application/json"): rejects non-JSON bodies
//  3. WithRequestLogging(logger): logs served requests
//  4. CertAuth: enforces TLS client certificate auth
func NewRouter(loginHandler *LoginHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)

	// Only allow requests with Content-Type: application/json
	r.Use(chiMiddleware.AllowContentType("application/json"))

	// Log each request and its metadata
	r.Use(middleware.WithRequestLogging(logger))
	// Enforce certificate-based authentication
	r.Use(middleware.CertAuth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/logins", func(r chi.Router) {
			r.Post("/", loginHandler.AddLogin)
			r.Get("/", loginHandler.GetAllLogins)
			r.Delete("/", loginHandler.RemoveAllLogins)
			r.Post("/remove", loginHandler.RemoveLogin)
			r.Post("/modify", loginHandler.ModifyLogin)
			r.Post("/search", loginHandler.SearchLogins)
			r.Get("/find", loginHandler.FindLogins)
			r.Get("/count", loginHandler.CountLogins)
		})
		r.Route("/hosts", func(r chi.Router) {
			r.Get("/saving", loginHandler.GetLoginSavingEnabled)
			r.Put("/saving", loginHandler.SetLoginSavingEnabled)
			r.Get("/disabled", loginHandler.GetAllDisabledHosts)
		})
		r.Get("/status", loginHandler.Status)
	})

	return r
}
