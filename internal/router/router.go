// Package router wires handlers to routes and attaches the middleware
// chain. All role gates live here so the authorization surface is readable
// in one place.
package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clubops/training-ops/internal/config"
	"github.com/clubops/training-ops/internal/handler"
	"github.com/clubops/training-ops/internal/middleware"
	"github.com/clubops/training-ops/internal/model"
)

// New builds the echo instance with every route registered.
func New(cfg config.Config, auth *handler.AuthHandler, cycles *handler.CycleHandler, leads *handler.LeadHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	e.GET("/health", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")

	// Session lifecycle. Refresh and logout authenticate with the renewable
	// token itself, not with an access token.
	a := api.Group("/auth")
	a.POST("/register", auth.Register)
	a.POST("/login", auth.Login)
	a.POST("/refresh", auth.Refresh)
	a.POST("/logout", auth.Logout)

	authed := a.Group("", middleware.JWTAuth(cfg.AccessSecret))
	authed.GET("/me", auth.Me)
	authed.PUT("/profile", auth.UpdateProfile)
	authed.PUT("/password", auth.ChangePassword)

	staff := middleware.RequireRole(model.RoleAdmin, model.RoleManager)
	adminOnly := middleware.RequireRole(model.RoleAdmin)

	// Prospective students browse upcoming cycles before they have an
	// account; a valid token still attaches the caller's identity.
	api.GET("/cycles/upcoming", cycles.Upcoming, middleware.OptionalAuth(cfg.AccessSecret))

	cy := api.Group("/cycles", middleware.JWTAuth(cfg.AccessSecret))
	cy.GET("", cycles.List)
	cy.GET("/stats", cycles.Stats)
	cy.GET("/:id", cycles.Get)
	cy.POST("", cycles.Create, staff)
	cy.PUT("/:id", cycles.Update, staff)
	cy.DELETE("/:id", cycles.Delete, adminOnly)
	cy.POST("/:id/enroll", cycles.Enroll, staff)
	cy.GET("/:id/students", cycles.Students)
	cy.PUT("/:id/enrollments/:enrollmentId", cycles.UpdateEnrollment, staff)
	cy.DELETE("/:id/students/:enrollmentId", cycles.RemoveStudent, staff)

	ld := api.Group("/leads", middleware.JWTAuth(cfg.AccessSecret))
	ld.GET("", leads.List)
	ld.GET("/stats", leads.Stats)
	ld.GET("/:id", leads.Get)
	ld.POST("", leads.Create, staff)
	ld.PUT("/:id", leads.Update, staff)
	ld.DELETE("/:id", leads.Delete, adminOnly)
	ld.POST("/:id/activity", leads.AddActivity)
	ld.GET("/:id/activities", leads.Activities)
	ld.PUT("/:id/convert", leads.Convert, staff)

	return e
}
