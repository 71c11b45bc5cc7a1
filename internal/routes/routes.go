package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/campuskit/checkpoint/internal/auth"
	"github.com/campuskit/checkpoint/internal/handlers"
	"github.com/campuskit/checkpoint/internal/middleware"
	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/realtime"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	sessionHandler *handlers.SessionHandler,
	attendanceHandler *handlers.AttendanceHandler,
	deviceHandler *handlers.DeviceHandler,
	alertHandler *handlers.AlertHandler,
	wsHandler *realtime.Handler,
	tokenManager *auth.TokenManager,
	scanRateLimitPerMin int,
) {
	// Rate limiting config for auth endpoints
	authRateLimit := middleware.DefaultAuthRateLimit()
	scanRateLimit := middleware.DefaultScanRateLimit(scanRateLimitPerMin)

	// Public routes - no authentication required
	router.With(middleware.RateLimitByIP(authRateLimit)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(authRateLimit)).Post("/auth/refresh", authHandler.RefreshToken)

	// Websocket clients authenticate in-band after the upgrade
	router.Get("/ws", wsHandler.ServeHTTP)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))

		// Any authenticated user
		r.Get("/sessions/{id}", sessionHandler.GetSession)
		r.Get("/sessions/{id}/qr", sessionHandler.GetQRToken)
		r.Get("/sessions/{id}/qr.png", sessionHandler.GetQRImage)

		// Student verification endpoints, rate limited per device
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIPAndPath(scanRateLimit))
			r.Post("/sessions/{id}/attendance/scan", attendanceHandler.Scan)
			r.Post("/sessions/{id}/attendance/verify-location", attendanceHandler.VerifyLocation)
			r.Post("/sessions/{id}/attendance/verify-device", attendanceHandler.VerifyDevice)
		})

		// Device trust registry for the calling student
		r.Post("/devices", deviceHandler.RegisterDevice)
		r.Get("/devices", deviceHandler.ListDevices)
		r.Delete("/devices/{id}", deviceHandler.RevokeDevice)

		// Session lifecycle and review, professors and admins only
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleProfessor, models.RoleAdmin))

			r.Post("/sessions", sessionHandler.CreateSession)
			r.Get("/sessions", sessionHandler.ListSessions)
			r.Put("/sessions/{id}", sessionHandler.UpdateSession)
			r.Post("/sessions/{id}/start", sessionHandler.StartSession)
			r.Post("/sessions/{id}/stop", sessionHandler.StopSession)
			r.Post("/sessions/{id}/emergency-stop", sessionHandler.EmergencyStopSession)
			r.Post("/sessions/{id}/cancel", sessionHandler.CancelSession)

			r.Get("/sessions/{id}/attendance/records", attendanceHandler.ListRecords)

			r.Get("/alerts", alertHandler.ListAlerts)
			r.Get("/alerts/{id}", alertHandler.GetAlert)
			r.Post("/alerts/{id}/resolve", alertHandler.ResolveAlert)
		})

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))
			r.Post("/auth/register", authHandler.Register)
		})
	})
}
