package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/repository"
	"github.com/iliyamo/flight-seat-reservation/internal/service"
)

// ReservationHandler serves alternatives for cancelled flights and the
// passenger's answer to them.
type ReservationHandler struct {
	Store     repository.Store
	Planner   *service.Planner
	Executor  *service.Executor
	Admission *service.Admission
}

func NewReservationHandler(store repository.Store, p *service.Planner, x *service.Executor, a *service.Admission) *ReservationHandler {
	if store == nil || p == nil || x == nil || a == nil {
		panic("nil dependency passed to NewReservationHandler")
	}
	return &ReservationHandler{Store: store, Planner: p, Executor: x, Admission: a}
}

// owned loads the reservation named in the path and checks that the caller
// may act on it.  Agents may act on any reservation.
func (h *ReservationHandler) owned(c echo.Context) (*model.Reservation, error) {
	id, ok := pathID(c, "id")
	if !ok {
		return nil, badRequest(c, "invalid reservation id")
	}
	uid, agent, err := caller(c)
	if err != nil {
		return nil, c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	res, err := h.Store.GetReservation(c.Request().Context(), id)
	if err != nil {
		return nil, fail(c, err)
	}
	if !agent && res.PassengerID != uid {
		return nil, c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	return res, nil
}

// Alternatives handles GET /v1/flights/:id/alternatives.
func (h *ReservationHandler) Alternatives(c echo.Context) error {
	flightID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid flight id")
	}
	flights, err := h.Planner.SuggestAlternatives(c.Request().Context(), flightID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"flight_id": flightID, "alternatives": flights})
}

// Reassign handles POST /v1/reservations/:id/reassign with body
// {"flight_id": n}.
func (h *ReservationHandler) Reassign(c echo.Context) error {
	res, err := h.owned(c)
	if res == nil {
		return err
	}
	var body struct {
		FlightID uint64 `json:"flight_id"`
	}
	if err := c.Bind(&body); err != nil || body.FlightID == 0 {
		return badRequest(c, "flight_id is required")
	}
	moved, err := h.Executor.ReassignPassenger(c.Request().Context(), res.ID, body.FlightID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, moved)
}

// Reject handles POST /v1/reservations/:id/reject.
func (h *ReservationHandler) Reject(c echo.Context) error {
	res, err := h.owned(c)
	if res == nil {
		return err
	}
	out, err := h.Executor.RejectSuggestion(c.Request().Context(), res.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// Release handles DELETE /v1/reservations/:id.  The freed seat goes to the
// head of the flight's waitlist straight away.
func (h *ReservationHandler) Release(c echo.Context) error {
	res, err := h.owned(c)
	if res == nil {
		return err
	}
	out, admission, err := h.Admission.ReleaseReservation(c.Request().Context(), res.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reservation": out, "admission": admission})
}

// ReassignFlight handles POST /v1/flights/:id/reassignments (agents only).
func (h *ReservationHandler) ReassignFlight(c echo.Context) error {
	flightID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid flight id")
	}
	outcomes, err := h.Executor.ReassignCancelledFlight(c.Request().Context(), flightID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"flight_id": flightID, "outcomes": outcomes})
}
