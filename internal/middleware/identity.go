package middleware

// identity.go reads the caller's identity back out of the Echo context
// after JWTAuth has stored the token claims there.

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

// Context keys set by JWTAuth.
const (
	ctxUserID = "user_id"
	ctxRole   = "role"
	ctxTier   = "tier"
)

// Roles carried in the "role" claim.
const (
	RolePassenger = "PASSENGER"
	RoleAgent     = "AGENT"
)

// UserID returns the authenticated user's id.  JSON numbers decode as
// float64, and some issuers send the subject as a string, so both are
// accepted.
func UserID(c echo.Context) (uint64, error) {
	switch t := c.Get(ctxUserID).(type) {
	case uint64:
		return t, nil
	case float64:
		if t > 0 {
			return uint64(t), nil
		}
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// Role returns the caller's role or "" when none was set.
func Role(c echo.Context) string {
	s, _ := c.Get(ctxRole).(string)
	return s
}

// Tier returns the caller's priority tier.  A missing claim means REGULAR;
// an unrecognised one is an error.
func Tier(c echo.Context) (model.PriorityTier, error) {
	s, _ := c.Get(ctxTier).(string)
	return model.ParsePriorityTier(s)
}

// rateIdentity is the user part of a rate-limit key.  Anonymous callers
// share the "anon" bucket for their IP.
func rateIdentity(c echo.Context) string {
	if id, err := UserID(c); err == nil {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
