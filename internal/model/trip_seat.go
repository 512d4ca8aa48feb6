package model

// SeatStatus is the durable availability state of one seat on one trip,
// stored in trip_seats.status.  The set is closed: repositories and
// services only ever write one of the three constants below, and `booked`
// is terminal for the trip.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "available" // sellable, no live hold
	SeatLocked    SeatStatus = "locked"    // held by a live checkout session
	SeatBooked    SeatStatus = "booked"    // sold; never leaves this state
)
