package model

import "time"

// Booking is the permanent record created exactly once per successfully
// finalized draft.  Legs and items are deep copies of the draft data at the
// moment of finalization; later draft state can never retroactively change
// a completed sale.
//
// Fields:
//  ID              – primary key identifier.
//  Reference       – external booking reference handed to the customer.
//  DraftID         – draft this booking was finalized from.
//  UserID          – buyer, if authenticated (nullable).
//  SubtotalCents   – copied pricing snapshot.
//  DiscountCents   – copied pricing snapshot.
//  TotalCents      – copied pricing snapshot.
//  PaymentProvider – provider that confirmed payment (nullable for cash).
//  PaymentIntentID – provider order code (nullable for cash).
//  CreatedAt       – when the finalize transaction committed.
type Booking struct {
	ID              uint64     // bookings.id
	Reference       string     // bookings.reference
	DraftID         uint64     // bookings.draft_id
	UserID          *uint64    // bookings.user_id (nullable)
	SubtotalCents   int64      // bookings.subtotal_cents
	DiscountCents   int64      // bookings.discount_cents
	TotalCents      int64      // bookings.total_cents
	PaymentProvider *string    // bookings.payment_provider (nullable)
	PaymentIntentID *string    // bookings.payment_intent_id (nullable)
	CreatedAt       time.Time  // bookings.created_at

	Legs []BookingLeg
}

// BookingLeg mirrors a draft leg at finalization time.
type BookingLeg struct {
	ID        uint64 // booking_legs.id
	BookingID uint64 // booking_legs.booking_id
	TripID    uint64 // booking_legs.trip_id

	Items []BookingItem
}

// BookingItem mirrors a draft item at finalization time.
type BookingItem struct {
	ID         uint64 // booking_items.id
	LegID      uint64 // booking_items.leg_id
	SeatID     uint64 // booking_items.seat_id
	SeatLabel  string // booking_items.seat_label
	PriceCents int64  // booking_items.price_cents
}
