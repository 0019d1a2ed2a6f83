package model

import "time"

// FlightStatus is the operational state of a flight.
type FlightStatus string

const (
	FlightScheduled FlightStatus = "SCHEDULED"
	FlightDelayed   FlightStatus = "DELAYED"
	FlightCancelled FlightStatus = "CANCELLED"
	FlightDeparted  FlightStatus = "DEPARTED"
	FlightArrived   FlightStatus = "ARRIVED"
)

// Flight represents a scheduled leg between two cities flown by a single
// airplane.  Seats belong to the airplane, so the airplane ID is what seat
// lookups are keyed on.  The reassignment planner only reads flights.
//
// Fields:
//
//	ID                – primary key identifier.
//	FlightNumber      – carrier flight number (e.g. AV204).
//	OriginCityID      – departure city.
//	DestinationCityID – arrival city.
//	DepartureAt       – scheduled departure (UTC).
//	ArrivalAt         – scheduled or actual arrival (UTC).
//	Status            – SCHEDULED, DELAYED, CANCELLED, DEPARTED, ARRIVED.
//	AirplaneID        – airplane operating the flight.
type Flight struct {
	ID                uint64       `json:"id"`
	FlightNumber      string       `json:"flight_number"`
	OriginCityID      uint64       `json:"origin_city_id"`
	DestinationCityID uint64       `json:"destination_city_id"`
	DepartureAt       time.Time    `json:"departure_at"`
	ArrivalAt         time.Time    `json:"arrival_at"`
	Status            FlightStatus `json:"status"`
	AirplaneID        uint64       `json:"airplane_id"`
}
