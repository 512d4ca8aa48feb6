package service

import (
	"context"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/payment"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
)

// LockManager is the distributed lock store contract the services need.
// Implemented by lock.Manager; declared here so tests can substitute it.
type LockManager interface {
	Acquire(ctx context.Context, tripID uint64, seatIDs []uint64, token string, ttl time.Duration) (granted, conflicts []uint64, err error)
	Renew(ctx context.Context, tripID uint64, seatIDs []uint64, token string, ttl time.Duration) error
	Release(ctx context.Context, tripID uint64, seatIDs []uint64, token string) ([]uint64, error)
	AssertOwned(ctx context.Context, tripID uint64, seatIDs []uint64, token string) error
}

// Notifier publishes realtime seat/booking events.  Delivery is
// best-effort: services log failures and move on.
type Notifier interface {
	PublishSeatEvent(ctx context.Context, ev queue.SeatEvent) error
	PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
}

// Catalog resolves fares and coupon discounts.  Trip and seat management
// belong to an external system; this engine only reads snapshots.
type Catalog interface {
	SeatFare(ctx context.Context, tripID, seatID uint64) (label string, priceCents int64, err error)
	ResolveCoupon(ctx context.Context, code string, subtotalCents int64) (int64, error)
}

// PaymentProvider creates hosted checkout links.  Webhook verification
// stays in the handler layer next to the raw payload.
type PaymentProvider interface {
	CreatePaymentLink(ctx context.Context, req payment.LinkRequest) (*payment.Link, error)
}
