package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/flight-seat-reservation/internal/middleware"
	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/service"
)

// WaitlistHandler exposes the waitlist of a flight.  Passengers join and
// leave for themselves; agents may act for any passenger and drive
// admissions.
type WaitlistHandler struct {
	Admission *service.Admission
}

func NewWaitlistHandler(a *service.Admission) *WaitlistHandler {
	if a == nil {
		panic("nil admission passed to NewWaitlistHandler")
	}
	return &WaitlistHandler{Admission: a}
}

type waitlistRequest struct {
	PassengerID uint64 `json:"passenger_id"`
	Tier        string `json:"tier"`
}

// target works out who a waitlist request is about.  Agents name the
// passenger and tier in the body; passengers always act for themselves
// with the tier from their token.
func target(c echo.Context) (uint64, model.PriorityTier, error) {
	uid, agent, err := caller(c)
	if err != nil {
		return 0, "", echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if !agent {
		tier, err := middleware.Tier(c)
		if err != nil {
			return 0, "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return uid, tier, nil
	}

	var body waitlistRequest
	if err := c.Bind(&body); err != nil {
		return 0, "", echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.PassengerID == 0 {
		return 0, "", echo.NewHTTPError(http.StatusBadRequest, "passenger_id is required")
	}
	tier, err := model.ParsePriorityTier(body.Tier)
	if err != nil {
		return 0, "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return body.PassengerID, tier, nil
}

// Join handles POST /v1/flights/:id/waitlist.
func (h *WaitlistHandler) Join(c echo.Context) error {
	flightID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid flight id")
	}
	passengerID, tier, err := target(c)
	if err != nil {
		return err
	}
	ts, err := h.Admission.RegisterWaiting(c.Request().Context(), passengerID, flightID, tier)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, model.WaitEntry{PassengerID: passengerID, FlightID: flightID, Tier: tier, EnqueuedAt: ts})
}

// Leave handles DELETE /v1/flights/:id/waitlist.  Leaving a waitlist one
// is not on is not an error; the body says whether anything was removed.
func (h *WaitlistHandler) Leave(c echo.Context) error {
	flightID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid flight id")
	}
	passengerID, agent, err := caller(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if agent {
		var body waitlistRequest
		if err := c.Bind(&body); err != nil || body.PassengerID == 0 {
			return badRequest(c, "passenger_id is required")
		}
		passengerID = body.PassengerID
	}
	removed, err := h.Admission.Withdraw(c.Request().Context(), passengerID, flightID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"passenger_id": passengerID, "flight_id": flightID, "removed": removed})
}

// List handles GET /v1/flights/:id/waitlist (agents only).  Entries are
// in serving order.
func (h *WaitlistHandler) List(c echo.Context) error {
	flightID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid flight id")
	}
	seq, err := h.Admission.Waiting(c.Request().Context(), flightID)
	if err != nil {
		return fail(c, err)
	}
	entries := []model.WaitEntry{}
	for e := range seq {
		entries = append(entries, e)
	}
	return c.JSON(http.StatusOK, echo.Map{"flight_id": flightID, "entries": entries})
}

// CapacityFreed handles POST /v1/flights/:id/capacity-freed (agents only).
// An empty waitlist answers 200 with outcome "empty".
func (h *WaitlistHandler) CapacityFreed(c echo.Context) error {
	flightID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid flight id")
	}
	res, err := h.Admission.OnCapacityFreed(c.Request().Context(), flightID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
