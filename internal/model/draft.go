package model

import "time"

// DraftStatus is the lifecycle state of a draft checkout.  The enumeration
// is closed; every transition must be listed in draftTransitions or it is
// rejected.  paid, expired and cancelled are terminal.
type DraftStatus string

const (
	DraftPending   DraftStatus = "pending"   // seats held, checkout in progress
	DraftPaying    DraftStatus = "paying"    // payment link issued, awaiting provider
	DraftPaid      DraftStatus = "paid"      // finalized into a booking (terminal)
	DraftExpired   DraftStatus = "expired"   // hold TTL elapsed (terminal)
	DraftCancelled DraftStatus = "cancelled" // released by user or failed payment (terminal)
)

// draftTransitions enumerates every legal draft state change.  Services
// consult CanTransition before settling a draft; the guarded UPDATE
// statements in the repository enforce the same edges under concurrency.
var draftTransitions = map[DraftStatus][]DraftStatus{
	DraftPending: {DraftPaying, DraftPaid, DraftExpired, DraftCancelled},
	DraftPaying:  {DraftPaid, DraftExpired, DraftCancelled},
}

// CanTransition reports whether a draft in state from may move to state to.
// Terminal states have no outgoing edges.
func (from DraftStatus) CanTransition(to DraftStatus) bool {
	for _, next := range draftTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is final.  A terminal draft is
// immutable: no seats may be added, no payment applied, no expiry extended.
func (s DraftStatus) Terminal() bool {
	switch s {
	case DraftPaid, DraftExpired, DraftCancelled:
		return true
	}
	return false
}

// DraftCheckout is the reservation aggregate: every seat a session holds,
// grouped by trip leg, with a price snapshot frozen at lock time.  It is
// created when the first lock of a session succeeds and becomes immutable
// once it reaches a terminal status.
//
// Fields:
//  ID              – primary key identifier.
//  SessionToken    – opaque bearer credential for the holder.
//  UserID          – authenticated user, if any (nullable).
//  Status          – lifecycle state, see DraftStatus.
//  ExpiresAt       – soft hold deadline; finalize refuses drafts past it.
//  SubtotalCents   – sum of item price snapshots.
//  DiscountCents   – opaque discount applied at payment-link time.
//  TotalCents      – subtotal minus discount.
//  PaymentProvider – provider chosen at payment-link time (nullable).
//  PaymentIntentID – provider order code; webhook idempotency key (nullable).
//  BookingID       – set exactly once, inside the paid transition (nullable).
//  CompletedAt     – when the paid transition committed (nullable).
type DraftCheckout struct {
	ID              uint64      // draft_checkouts.id
	SessionToken    string      // draft_checkouts.session_token
	UserID          *uint64     // draft_checkouts.user_id (nullable)
	Status          DraftStatus // draft_checkouts.status
	ExpiresAt       time.Time   // draft_checkouts.expires_at
	SubtotalCents   int64       // draft_checkouts.subtotal_cents
	DiscountCents   int64       // draft_checkouts.discount_cents
	TotalCents      int64       // draft_checkouts.total_cents
	PaymentProvider *string     // draft_checkouts.payment_provider (nullable)
	PaymentIntentID *string     // draft_checkouts.payment_intent_id (nullable)
	BookingID       *uint64     // draft_checkouts.booking_id (nullable)
	CompletedAt     *time.Time  // draft_checkouts.completed_at (nullable)
	CreatedAt       time.Time   // draft_checkouts.created_at
	UpdatedAt       time.Time   // draft_checkouts.updated_at

	Legs []DraftLeg // loaded aggregate children
}

// DraftLeg groups the seats a draft holds on one trip.  A round-trip
// itinerary produces one leg per direction.
type DraftLeg struct {
	ID        uint64    // draft_checkout_legs.id
	DraftID   uint64    // draft_checkout_legs.draft_id
	TripID    uint64    // draft_checkout_legs.trip_id
	CreatedAt time.Time // draft_checkout_legs.created_at

	Items []DraftItem
}

// DraftItem is one held seat with its price and label frozen at lock time
// so later catalog changes cannot alter what the holder was quoted.
type DraftItem struct {
	ID         uint64    // draft_checkout_items.id
	LegID      uint64    // draft_checkout_items.leg_id
	SeatID     uint64    // draft_checkout_items.seat_id
	SeatLabel  string    // draft_checkout_items.seat_label
	PriceCents int64     // draft_checkout_items.price_cents
	CreatedAt  time.Time // draft_checkout_items.created_at
}

// Live reports whether the draft can still accept mutations: it must be in
// a non-terminal status and not past its expiry.
func (d *DraftCheckout) Live(now time.Time) bool {
	return !d.Status.Terminal() && d.ExpiresAt.After(now)
}

// SeatIDsByTrip returns the held seat IDs grouped per trip, the shape the
// lock manager operates on.
func (d *DraftCheckout) SeatIDsByTrip() map[uint64][]uint64 {
	out := make(map[uint64][]uint64, len(d.Legs))
	for _, leg := range d.Legs {
		for _, it := range leg.Items {
			out[leg.TripID] = append(out[leg.TripID], it.SeatID)
		}
	}
	return out
}
