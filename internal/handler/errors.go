package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/flight-seat-reservation/internal/middleware"
	"github.com/iliyamo/flight-seat-reservation/internal/repository"
	"github.com/iliyamo/flight-seat-reservation/internal/service"
	"github.com/iliyamo/flight-seat-reservation/internal/waitlist"
)

// statusOf maps engine errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, waitlist.ErrDuplicateEntry),
		errors.Is(err, service.ErrNoSeatAvailable),
		errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, service.ErrGatewayTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, repository.ErrGateway):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error body.  Unexpected errors are logged and
// hidden from the client.
func fail(c echo.Context, err error) error {
	code := statusOf(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		log.Printf("handler: %s %s: %v", c.Request().Method, c.Path(), err)
		msg = http.StatusText(code)
	}
	return c.JSON(code, echo.Map{"error": msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// caller returns the authenticated user and whether they act as an agent.
func caller(c echo.Context) (uint64, bool, error) {
	id, err := middleware.UserID(c)
	if err != nil {
		return 0, false, err
	}
	return id, middleware.Role(c) == middleware.RoleAgent, nil
}
