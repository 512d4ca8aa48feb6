package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/bus-seat-reservation/internal/lock"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/payment"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

// FinalizeResult is the outcome of a finalize call.  Idempotent is true
// when the draft had already been finalized and the previously created
// booking is being returned unchanged.
type FinalizeResult struct {
	Booking    *model.Booking
	Idempotent bool
}

// PaymentLinkResult is returned after a payment link has been created and
// the draft moved to paying.
type PaymentLinkResult struct {
	CheckoutURL   string `json:"checkout_url"`
	OrderCode     string `json:"order_code"`
	TotalCents    int64  `json:"total_cents"`
	DiscountCents int64  `json:"discount_cents"`
}

// BookingService converts drafts into permanent bookings.  Both entry
// points, direct cash confirmation and webhook-driven confirmation by
// payment intent, funnel into one transactional routine that re-checks
// lock ownership, deep-copies the draft into a booking, flips the trip
// seats to booked and marks the draft paid, all or nothing.
type BookingService struct {
	db        *sql.DB
	drafts    *repository.DraftRepo
	bookings  *repository.BookingRepo
	tripSeats *repository.TripSeatRepo
	catalog   Catalog
	locks     LockManager
	releaser  *SeatReleaseService
	provider  PaymentProvider
	notifier  Notifier
}

// NewBookingService constructs a BookingService.  provider and notifier
// may be nil (cash-only deployments, tests).
func NewBookingService(db *sql.DB, drafts *repository.DraftRepo, bookings *repository.BookingRepo, tripSeats *repository.TripSeatRepo, catalog Catalog, locks LockManager, releaser *SeatReleaseService, provider PaymentProvider, notifier Notifier) *BookingService {
	if db == nil || drafts == nil || bookings == nil || tripSeats == nil || locks == nil || releaser == nil {
		panic("nil dependency passed to NewBookingService")
	}
	return &BookingService{
		db:        db,
		drafts:    drafts,
		bookings:  bookings,
		tripSeats: tripSeats,
		catalog:   catalog,
		locks:     locks,
		releaser:  releaser,
		provider:  provider,
		notifier:  notifier,
	}
}

// Finalize is the cash path: the holder confirms directly and the draft
// identified by id and session token becomes a booking.
func (s *BookingService) Finalize(ctx context.Context, draftID uint64, token string) (*FinalizeResult, error) {
	return s.finalize(ctx, draftID, token, "")
}

// FinalizeByIntent is the webhook path: a paid event identified only by
// the provider's order code becomes a booking.  Replays of the same order
// code return the original booking with Idempotent set.
func (s *BookingService) FinalizeByIntent(ctx context.Context, intentID string) (*FinalizeResult, error) {
	if intentID == "" {
		return nil, ErrDraftNotEligible
	}
	return s.finalize(ctx, 0, "", intentID)
}

func (s *BookingService) finalize(ctx context.Context, draftID uint64, token, intentID string) (*FinalizeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Step 1: row-lock the draft while it is still eligible.  A draft that
	// is gone because it is already paid is the idempotent replay case.
	var draft *model.DraftCheckout
	if intentID != "" {
		draft, err = s.drafts.GetByIntentForFinalizeTx(ctx, tx, intentID)
	} else {
		draft, err = s.drafts.GetForFinalizeTx(ctx, tx, draftID, token)
	}
	if errors.Is(err, repository.ErrDraftNotFound) {
		paid, perr := s.drafts.GetPaidTx(ctx, tx, draftID, token, intentID)
		if perr == nil && paid.BookingID != nil {
			booking, berr := s.bookings.GetByID(ctx, *paid.BookingID)
			if berr != nil {
				return nil, berr
			}
			return &FinalizeResult{Booking: booking, Idempotent: true}, nil
		}
		return nil, ErrDraftNotEligible
	}
	if err != nil {
		return nil, err
	}

	// Step 3: every seat's hold must still belong to this session.  A
	// missing or foreign lock means the TTL elapsed and someone else may
	// already be holding the seat; selling it now would double-book.
	byTrip := draft.SeatIDsByTrip()
	if len(byTrip) == 0 {
		return nil, ErrDraftNotEligible
	}
	for tripID, seatIDs := range byTrip {
		if err := s.locks.AssertOwned(ctx, tripID, seatIDs, draft.SessionToken); err != nil {
			if errors.Is(err, lock.ErrNotOwned) {
				return nil, ErrSeatLockLost
			}
			return nil, err
		}
	}

	// Steps 4 and 5 share the transaction: booking written, seats flipped
	// to booked, draft marked paid.  Either all of it commits or none.
	booking := buildBooking(draft)
	if err := s.bookings.CreateTx(ctx, tx, booking); err != nil {
		return nil, err
	}
	for tripID, seatIDs := range byTrip {
		if err := s.tripSeats.BulkUpdateStatusTx(ctx, tx, tripID, seatIDs, model.SeatBooked); err != nil {
			return nil, err
		}
	}
	if err := s.drafts.MarkPaidTx(ctx, tx, draft.ID, booking.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true

	// Step 6, strictly after commit: drop the now-redundant lock keys and
	// announce the sale.
	s.releaser.ReleaseLocksAfterBooked(ctx, draft, booking.ID)
	s.publishConfirmed(ctx, draft, booking)

	return &FinalizeResult{Booking: booking}, nil
}

// CreatePaymentLink resolves the optional coupon, asks the provider for a
// hosted checkout link and moves the draft into paying with the provider's
// order code as its payment intent.  Provider failure cancels the draft
// and releases its seats before ErrProviderUnavailable is returned.
func (s *BookingService) CreatePaymentLink(ctx context.Context, token, couponCode string) (*PaymentLinkResult, error) {
	if s.provider == nil {
		return nil, ErrProviderUnavailable
	}
	d, err := s.drafts.GetBySessionToken(ctx, token)
	if errors.Is(err, repository.ErrDraftNotFound) {
		return nil, ErrDraftNotEligible
	}
	if err != nil {
		return nil, err
	}
	// staying in paying (re-issuing a link) is not a transition; anything
	// else must be a legal edge into paying
	if !d.Live(time.Now().UTC()) {
		return nil, ErrDraftNotEligible
	}
	if d.Status != model.DraftPaying && !d.Status.CanTransition(model.DraftPaying) {
		return nil, ErrDraftNotEligible
	}

	discount := int64(0)
	if s.catalog != nil {
		if discount, err = s.catalog.ResolveCoupon(ctx, couponCode, d.SubtotalCents); err != nil {
			return nil, err
		}
	}
	total := d.SubtotalCents - discount

	items := make([]payment.LinkItem, 0)
	for _, leg := range d.Legs {
		for _, it := range leg.Items {
			items = append(items, payment.LinkItem{
				Name:       fmt.Sprintf("Trip %d seat %s", leg.TripID, it.SeatLabel),
				Quantity:   1,
				PriceCents: it.PriceCents,
			})
		}
	}
	linkReq := payment.LinkRequest{
		OrderCode:   uuid.NewString(),
		AmountCents: total,
		Description: fmt.Sprintf("Bus booking draft %d", d.ID),
		Items:       items,
	}
	link, err := s.provider.CreatePaymentLink(ctx, linkReq)
	if err != nil {
		log.Printf("booking-service: payment link creation failed for draft %d: %v", d.ID, err)
		if _, cerr := s.releaser.CancelAllBySession(ctx, token); cerr != nil {
			log.Printf("booking-service: cancel after provider failure failed for draft %d: %v", d.ID, cerr)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := s.drafts.SetPaymentIntentTx(ctx, tx, d.ID, payment.ProviderName, link.OrderCode, discount); err != nil {
		if errors.Is(err, repository.ErrNoRowsAffected) {
			return nil, ErrDraftNotEligible
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true

	return &PaymentLinkResult{
		CheckoutURL:   link.CheckoutURL,
		OrderCode:     link.OrderCode,
		TotalCents:    total,
		DiscountCents: discount,
	}, nil
}

// DraftStatus returns the current aggregate for a session token, for the
// status/expiry/pricing query endpoint.
func (s *BookingService) DraftStatus(ctx context.Context, token string) (*model.DraftCheckout, error) {
	d, err := s.drafts.GetBySessionToken(ctx, token)
	if errors.Is(err, repository.ErrDraftNotFound) {
		return nil, ErrDraftNotEligible
	}
	return d, err
}

// buildBooking deep-copies the draft's pricing and seats into a new
// booking aggregate.  Nothing in the result references draft rows, so
// later draft mutation cannot alter the sale.
func buildBooking(d *model.DraftCheckout) *model.Booking {
	b := &model.Booking{
		Reference:       newBookingReference(),
		DraftID:         d.ID,
		UserID:          d.UserID,
		SubtotalCents:   d.SubtotalCents,
		DiscountCents:   d.DiscountCents,
		TotalCents:      d.TotalCents,
		PaymentProvider: d.PaymentProvider,
		PaymentIntentID: d.PaymentIntentID,
	}
	for _, leg := range d.Legs {
		bl := model.BookingLeg{TripID: leg.TripID}
		for _, it := range leg.Items {
			bl.Items = append(bl.Items, model.BookingItem{
				SeatID:     it.SeatID,
				SeatLabel:  it.SeatLabel,
				PriceCents: it.PriceCents,
			})
		}
		b.Legs = append(b.Legs, bl)
	}
	return b
}

// newBookingReference builds the short customer-facing booking code.
func newBookingReference() string {
	return "BK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func (s *BookingService) publishConfirmed(ctx context.Context, d *model.DraftCheckout, b *model.Booking) {
	if s.notifier == nil {
		return
	}
	ev := queue.BookingConfirmedEvent{
		BookingID:        b.ID,
		Reference:        b.Reference,
		DraftID:          d.ID,
		UserID:           b.UserID,
		TotalAmountCents: b.TotalCents,
		ConfirmedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if b.PaymentProvider != nil {
		ev.PaymentProvider = *b.PaymentProvider
	}
	for _, leg := range b.Legs {
		ev.TripIDs = append(ev.TripIDs, leg.TripID)
		for _, it := range leg.Items {
			ev.SeatLabels = append(ev.SeatLabels, it.SeatLabel)
		}
	}
	if err := s.notifier.PublishBookingConfirmed(ctx, ev); err != nil {
		log.Printf("booking-service: booking confirmed publish failed: %v", err)
	}
}
