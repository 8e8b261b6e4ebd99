package routes

import (
	"github.com/BradenHooton/clinitrust/internal/auth"
	"github.com/BradenHooton/clinitrust/internal/handlers"
	"github.com/BradenHooton/clinitrust/internal/middleware"
	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes under /api
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
	auditHandler *handlers.AuditHandler,
	tokenManager *auth.TokenManager,
	accounts auth.AccountLookup,
	activity middleware.ActivityRecorder,
	loginLimit middleware.RateLimitConfig,
) {
	perUser := middleware.DefaultAuthenticatedRateLimit()

	router.Route("/api", func(r chi.Router) {
		// Public routes - no authentication required
		r.With(middleware.RateLimitByIP(loginLimit)).Post("/auth/login", authHandler.Login)

		// Protected routes - authentication required
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(tokenManager, accounts))
			// auth and admin services write their own audit entries
			r.Use(middleware.ActivityLogger(activity, "/api/auth/", "/api/admin/"))

			r.With(middleware.RateLimitByUserID(perUser, "read")).Get("/auth/me", authHandler.Me)
			r.With(middleware.RateLimitByUserID(perUser, "write")).Post("/auth/password/change", authHandler.ChangePassword)

			// Admin-only routes
			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireRole(accounts, models.RoleAdmin))
				r.Use(middleware.RateLimitByUserID(perUser, "admin"))

				r.Get("/users", adminHandler.ListUsers)
				r.Post("/users", adminHandler.CreateUser)
				r.Get("/users/{id}", adminHandler.GetUser)
				r.Patch("/users/{id}", adminHandler.UpdateUser)
				r.Post("/users/{id}/unlock", adminHandler.Unlock)
				r.Post("/users/{id}/reset-attempts", adminHandler.ResetAttempts)
				r.Post("/users/{id}/reset-password", adminHandler.ResetPassword)
				r.Post("/users/{id}/deactivate", adminHandler.Deactivate)
				r.Post("/users/{id}/activate", adminHandler.Activate)
				r.Get("/users/{id}/activity", adminHandler.UserActivity)

				r.Get("/audit", auditHandler.List)
				r.Get("/audit/verify", auditHandler.Verify)
			})
		})
	})
}
