// Package router registers the HTTP routes of the reservation API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/flight-seat-reservation/internal/handler"
	"github.com/iliyamo/flight-seat-reservation/internal/middleware"
)

// Handlers bundles everything the routes dispatch to.
type Handlers struct {
	Health       *handler.HealthHandler
	Waitlist     *handler.WaitlistHandler
	Reservations *handler.ReservationHandler
}

// Register mounts the routes.  Everything under /v1 needs a valid JWT and
// passes through the rate limiter; limiter may be nil.
func Register(e *echo.Echo, h Handlers, jwtSecret string, limiter echo.MiddlewareFunc) {
	e.GET("/healthz", h.Health.Health)

	mws := []echo.MiddlewareFunc{middleware.JWTAuth(jwtSecret)}
	if limiter != nil {
		mws = append(mws, limiter)
	}
	v1 := e.Group("/v1", mws...)
	anyone := middleware.RequireRole(middleware.RolePassenger, middleware.RoleAgent)
	agent := middleware.RequireRole(middleware.RoleAgent)

	// ---- Waitlist ----
	v1.POST("/flights/:id/waitlist", h.Waitlist.Join, anyone)
	v1.DELETE("/flights/:id/waitlist", h.Waitlist.Leave, anyone)
	v1.GET("/flights/:id/waitlist", h.Waitlist.List, agent)
	v1.POST("/flights/:id/capacity-freed", h.Waitlist.CapacityFreed, agent)

	// ---- Cancellations ----
	v1.GET("/flights/:id/alternatives", h.Reservations.Alternatives, anyone)
	v1.POST("/flights/:id/reassignments", h.Reservations.ReassignFlight, agent)
	v1.POST("/reservations/:id/reassign", h.Reservations.Reassign, anyone)
	v1.POST("/reservations/:id/reject", h.Reservations.Reject, anyone)
	v1.DELETE("/reservations/:id", h.Reservations.Release, anyone)
}
