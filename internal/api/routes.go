package api

import (
	"github.com/labstack/echo/v4"

	"examkiosk/internal/auth"
)

// RegisterRoutes sets up the page guards and all API routes
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	requireSession := auth.RequireSession(h.manager)

	// Pages
	e.GET(auth.HomePath, h.homePage, requireSession)
	e.GET(auth.LoginPath, h.loginPage, auth.RequireGuest(h.manager))

	api := e.Group("/api")

	// Health check (public)
	api.GET("/health", healthCheck)

	// Auth routes (public - login is rate limited per client IP)
	authGroup := api.Group("/auth")
	authGroup.POST("/login", h.login, h.limiter.Middleware())
	authGroup.POST("/logout", h.logout)
	authGroup.GET("/me", h.me, requireSession)

	// Kiosk routes: state-changing calls must carry the CSRF token
	kiosk := api.Group("/kiosk")
	kiosk.Use(requireSession)
	kiosk.Use(h.csrf.Middleware())
	kiosk.GET("/state", h.state)
	kiosk.POST("/scan", h.scan)
	kiosk.POST("/print", h.print)
	kiosk.POST("/clear", h.clear)
	kiosk.POST("/autoprint", h.autoPrint)
	kiosk.POST("/scanner/connect", h.connectScanner)
	kiosk.POST("/scanner/disconnect", h.disconnectScanner)
	kiosk.GET("/activity", h.listActivity)
	kiosk.GET("/events", h.events)
}
