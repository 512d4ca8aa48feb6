// Package queue defines message payloads exchanged over the message broker.
package queue

// Seat event types published on the realtime queue.  Delivery is
// best-effort; subscribers use these to repaint seat maps, nothing in the
// reservation protocol depends on them.
const (
	SeatEventLocked   = "SeatLocked"
	SeatEventUnlocked = "SeatUnlocked"
	SeatEventBooked   = "SeatBooked"
)

// SeatEvent announces a seat-state change on one trip to realtime
// subscribers.  SessionToken lets the owning client distinguish its own
// holds from foreign ones.
type SeatEvent struct {
	Type         string   `json:"type"`
	TripID       uint64   `json:"trip_id"`
	SeatLabels   []string `json:"seats"`
	SessionToken string   `json:"session_token,omitempty"`
}

// BookingConfirmedEvent is published after a draft has been finalized into
// a booking.  It carries enough for downstream consumers to notify the
// customer or feed analytics without querying the primary database.
type BookingConfirmedEvent struct {
	BookingID        uint64   `json:"booking_id"`
	Reference        string   `json:"reference"`
	DraftID          uint64   `json:"draft_id"`
	UserID           *uint64  `json:"user_id,omitempty"`
	TripIDs          []uint64 `json:"trip_ids"`
	SeatLabels       []string `json:"seats"`
	TotalAmountCents int64    `json:"total_amount_cents"`
	PaymentProvider  string   `json:"payment_provider,omitempty"`
	ConfirmedAt      string   `json:"confirmed_at"`
}
