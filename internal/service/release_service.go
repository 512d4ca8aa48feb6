package service

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

// ReleasedTrip lists the seats freed on one trip by a release call.
type ReleasedTrip struct {
	TripID     uint64   `json:"trip_id"`
	SeatIDs    []uint64 `json:"seat_ids"`
	SeatLabels []string `json:"seats"`
}

// ReleaseResult reports what a cancel/release call freed.
type ReleaseResult struct {
	DraftID  uint64         `json:"draft_id"`
	Released []ReleasedTrip `json:"released"`
}

// SeatReleaseService returns seats to the pool: on explicit unlock, on
// draft expiry and on failed or cancelled payments.  The durable revert
// (trip seats back to available, draft to a terminal status) commits
// first; the lock-store keys are deleted after, because an undeleted key
// simply expires on its own.
type SeatReleaseService struct {
	db        *sql.DB
	drafts    *repository.DraftRepo
	tripSeats *repository.TripSeatRepo
	locks     LockManager
	notifier  Notifier
}

// NewSeatReleaseService constructs a SeatReleaseService.
func NewSeatReleaseService(db *sql.DB, drafts *repository.DraftRepo, tripSeats *repository.TripSeatRepo, locks LockManager, notifier Notifier) *SeatReleaseService {
	if db == nil || drafts == nil || tripSeats == nil || locks == nil {
		panic("nil dependency passed to NewSeatReleaseService")
	}
	return &SeatReleaseService{db: db, drafts: drafts, tripSeats: tripSeats, locks: locks, notifier: notifier}
}

// CancelAllBySession releases every seat the session holds and marks its
// draft cancelled.  Cancelling a draft that already reached a terminal
// status is a no-op reporting zero released seats.
func (s *SeatReleaseService) CancelAllBySession(ctx context.Context, token string) (*ReleaseResult, error) {
	d, err := s.drafts.GetBySessionToken(ctx, token)
	if errors.Is(err, repository.ErrDraftNotFound) {
		return nil, ErrDraftNotEligible
	}
	if err != nil {
		return nil, err
	}
	return s.revert(ctx, d, model.DraftCancelled)
}

// CancelByIntent is CancelAllBySession keyed by the provider order code,
// driven by failed/cancelled payment webhooks.  An unknown or already
// settled intent is a silent no-op so webhook retries stay cheap.
func (s *SeatReleaseService) CancelByIntent(ctx context.Context, intentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	d, err := s.drafts.GetByIntentForFinalizeTx(ctx, tx, intentID)
	_ = tx.Rollback() // lookup only; revert opens its own transaction
	if errors.Is(err, repository.ErrDraftNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.revert(ctx, d, model.DraftCancelled)
	if errors.Is(err, ErrDraftNotEligible) {
		return nil
	}
	return err
}

// revert is the shared teardown: one transaction marks the draft terminal
// and flips its seats back to available, then the lock keys are deleted
// and unlock events published.
func (s *SeatReleaseService) revert(ctx context.Context, d *model.DraftCheckout, to model.DraftStatus) (*ReleaseResult, error) {
	if !d.Status.CanTransition(to) {
		// already settled; nothing left to release
		return &ReleaseResult{DraftID: d.ID}, nil
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

	if err := s.drafts.MarkTerminalTx(ctx, tx, d.ID, to); err != nil {
		if errors.Is(err, repository.ErrNoRowsAffected) {
			// someone else settled the draft first
			return &ReleaseResult{DraftID: d.ID}, nil
		}
		return nil, err
	}
	byTrip := d.SeatIDsByTrip()
	for tripID, seatIDs := range byTrip {
		if err := s.tripSeats.BulkUpdateStatusTx(ctx, tx, tripID, seatIDs, model.SeatAvailable); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true

	res := &ReleaseResult{DraftID: d.ID}
	labels := labelsByTrip(d)
	for tripID, seatIDs := range byTrip {
		if _, err := s.locks.Release(ctx, tripID, seatIDs, d.SessionToken); err != nil {
			log.Printf("release-service: lock release failed for trip %d: %v", tripID, err)
		}
		res.Released = append(res.Released, ReleasedTrip{TripID: tripID, SeatIDs: seatIDs, SeatLabels: labels[tripID]})
		s.publishSeatEvent(ctx, queue.SeatEvent{
			Type:         queue.SeatEventUnlocked,
			TripID:       tripID,
			SeatLabels:   labels[tripID],
			SessionToken: d.SessionToken,
		})
	}
	return res, nil
}

// ReleaseLocksAfterBooked drops the lock-store keys of a freshly booked
// draft and announces the seats as sold.  Called strictly after the
// finalize transaction commits; the booked status already makes the seats
// unavailable whether or not the keys still exist.
func (s *SeatReleaseService) ReleaseLocksAfterBooked(ctx context.Context, d *model.DraftCheckout, bookingID uint64) {
	labels := labelsByTrip(d)
	for tripID, seatIDs := range d.SeatIDsByTrip() {
		if _, err := s.locks.Release(ctx, tripID, seatIDs, d.SessionToken); err != nil {
			log.Printf("release-service: post-booking lock release failed for trip %d (booking %d): %v", tripID, bookingID, err)
		}
		s.publishSeatEvent(ctx, queue.SeatEvent{
			Type:       queue.SeatEventBooked,
			TripID:     tripID,
			SeatLabels: labels[tripID],
		})
	}
}

// ExpireOverdue reclaims drafts whose expiry has passed: marks them
// expired, frees their seats and deletes any lock keys that outlived the
// draft.  Returns how many drafts were reclaimed.
func (s *SeatReleaseService) ExpireOverdue(ctx context.Context) (int, error) {
	drafts, err := s.drafts.ListExpired(ctx, 100)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range drafts {
		if _, err := s.revert(ctx, d, model.DraftExpired); err != nil {
			log.Printf("release-service: expiring draft %d failed: %v", d.ID, err)
			continue
		}
		n++
	}
	return n, nil
}

// RunSweeper periodically reclaims expired drafts until the context is
// cancelled.
func (s *SeatReleaseService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("sweeper: checking for expired drafts every %s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("sweeper: stopped")
			return
		case <-ticker.C:
			if n, err := s.ExpireOverdue(ctx); err != nil {
				log.Printf("sweeper: sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("sweeper: reclaimed %d expired draft(s)", n)
			}
		}
	}
}

func (s *SeatReleaseService) publishSeatEvent(ctx context.Context, ev queue.SeatEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishSeatEvent(ctx, ev); err != nil {
		log.Printf("release-service: seat event publish failed: %v", err)
	}
}

// labelsByTrip collects the seat labels a draft holds per trip, for event
// payloads and release summaries.
func labelsByTrip(d *model.DraftCheckout) map[uint64][]string {
	out := make(map[uint64][]string, len(d.Legs))
	for _, leg := range d.Legs {
		for _, it := range leg.Items {
			out[leg.TripID] = append(out[leg.TripID], it.SeatLabel)
		}
	}
	return out
}
