package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"log"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

// TripSelection names the seats a lock request wants on one trip.
type TripSelection struct {
	TripID  uint64   `json:"trip_id"`
	SeatIDs []uint64 `json:"seat_ids"`
}

// LockRequest is the input to SeatLockService.Lock.  SessionToken and
// UserID are optional: an empty token starts a new session.
type LockRequest struct {
	Trips        []TripSelection
	SessionToken string
	UserID       *uint64
}

// LockResult reports the session and draft state after a successful lock
// call.  The token must be presented on every subsequent call of the same
// checkout session.
type LockResult struct {
	SessionToken  string            `json:"session_token"`
	DraftID       uint64            `json:"draft_id"`
	Status        model.DraftStatus `json:"status"`
	ExpiresAt     time.Time         `json:"expires_at"`
	SubtotalCents int64             `json:"subtotal_cents"`
	DiscountCents int64             `json:"discount_cents"`
	TotalCents    int64             `json:"total_cents"`
}

// SeatLockService is the draft lifecycle entry point: it acquires seat
// locks, creates or extends the session's draft, and snapshots pricing.
// Acquisition across seats is not atomic in the lock store, so any
// conflict rolls back every seat acquired by the same call before the
// error is returned; seats locked by earlier calls of the session stay
// untouched.
type SeatLockService struct {
	db        *sql.DB
	drafts    *repository.DraftRepo
	tripSeats *repository.TripSeatRepo
	catalog   Catalog
	locks     LockManager
	notifier  Notifier
	holdTTL   time.Duration
}

// NewSeatLockService constructs a SeatLockService.  All dependencies must
// be non-nil.
func NewSeatLockService(db *sql.DB, drafts *repository.DraftRepo, tripSeats *repository.TripSeatRepo, catalog Catalog, locks LockManager, notifier Notifier, holdTTL time.Duration) *SeatLockService {
	if db == nil || drafts == nil || tripSeats == nil || catalog == nil || locks == nil {
		panic("nil dependency passed to NewSeatLockService")
	}
	return &SeatLockService{
		db:        db,
		drafts:    drafts,
		tripSeats: tripSeats,
		catalog:   catalog,
		locks:     locks,
		notifier:  notifier,
		holdTTL:   holdTTL,
	}
}

// newSessionToken generates the opaque bearer credential identifying one
// checkout session.  64 hex characters from crypto/rand.
func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Lock acquires the requested seats for the session and records them on
// its draft.  A missing or dead session gets a fresh token and a fresh
// pending draft; a live one has the seats appended and its expiry
// extended.  On any conflict everything acquired by this call is released
// and a LockConflictError naming the unavailable seats is returned.
func (s *SeatLockService) Lock(ctx context.Context, req LockRequest) (*LockResult, error) {
	trips := dedupeTrips(req.Trips)
	if len(trips) == 0 {
		return nil, errors.New("no seats requested")
	}

	token := req.SessionToken
	var existing *model.DraftCheckout
	now := time.Now().UTC()
	if token != "" {
		d, err := s.drafts.GetBySessionToken(ctx, token)
		switch {
		case err == nil && d.Live(now):
			existing = d
		case err == nil || errors.Is(err, repository.ErrDraftNotFound):
			// dead or unknown session: start over with a new token
			token = ""
		default:
			return nil, err
		}
	}
	if token == "" {
		t, err := newSessionToken()
		if err != nil {
			return nil, err
		}
		token = t
	}

	// Seats the session already holds re-acquire as granted; they must
	// never appear in a compensating rollback or a conflict on another
	// seat would destroy holds from earlier calls.
	held := map[uint64]map[uint64]bool{}
	if existing != nil {
		for tripID, seatIDs := range existing.SeatIDsByTrip() {
			m := make(map[uint64]bool, len(seatIDs))
			for _, id := range seatIDs {
				m[id] = true
			}
			held[tripID] = m
		}
	}

	// Acquire every requested seat in the lock store first.  Partial
	// success is a conflict: compensate by releasing what this call got.
	granted := make(map[uint64][]uint64, len(trips))
	for _, sel := range trips {
		g, conflicts, err := s.locks.Acquire(ctx, sel.TripID, sel.SeatIDs, token, s.holdTTL)
		granted[sel.TripID] = excludeHeld(g, held[sel.TripID])
		if err != nil {
			s.rollbackLocks(ctx, granted, token)
			return nil, err
		}
		if len(conflicts) > 0 {
			s.rollbackLocks(ctx, granted, token)
			return nil, &LockConflictError{TripID: sel.TripID, SeatIDs: conflicts}
		}
	}

	res, lockedLabels, err := s.recordLocks(ctx, trips, token, existing, req.UserID, now)
	if err != nil {
		s.rollbackLocks(ctx, granted, token)
		return nil, err
	}

	if s.notifier != nil {
		for _, sel := range trips {
			ev := queue.SeatEvent{
				Type:         queue.SeatEventLocked,
				TripID:       sel.TripID,
				SeatLabels:   lockedLabels[sel.TripID],
				SessionToken: token,
			}
			if err := s.notifier.PublishSeatEvent(ctx, ev); err != nil {
				log.Printf("lock-service: seat event publish failed: %v", err)
			}
		}
	}
	return res, nil
}

// recordLocks performs the durable half of a lock call in one database
// transaction: draft create-or-extend, trip seat upsert, item snapshot and
// totals.  A seat found booked in the database is reported as a conflict
// even though its lock-store key was grantable.
func (s *SeatLockService) recordLocks(ctx context.Context, trips []TripSelection, token string, existing *model.DraftCheckout, userID *uint64, now time.Time) (*LockResult, map[uint64][]string, error) {
	expiresAt := now.Add(s.holdTTL)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var draft *model.DraftCheckout
	if existing != nil {
		draft, err = s.drafts.GetBySessionTokenTx(ctx, tx, token)
		if err != nil {
			return nil, nil, err
		}
		if !draft.Live(now) {
			// the draft died between the optimistic read and the row lock
			return nil, nil, ErrDraftNotEligible
		}
	} else {
		draft = &model.DraftCheckout{
			SessionToken: token,
			UserID:       userID,
			Status:       model.DraftPending,
			ExpiresAt:    expiresAt,
		}
		if err := s.drafts.CreateTx(ctx, tx, draft); err != nil {
			return nil, nil, err
		}
	}

	lockedLabels := make(map[uint64][]string, len(trips))
	for _, sel := range trips {
		booked, err := s.tripSeats.BookedSeatsTx(ctx, tx, sel.TripID, sel.SeatIDs)
		if err != nil {
			return nil, nil, err
		}
		if len(booked) > 0 {
			return nil, nil, &LockConflictError{TripID: sel.TripID, SeatIDs: booked}
		}
		legID, err := s.drafts.EnsureLegTx(ctx, tx, draft.ID, sel.TripID)
		if err != nil {
			return nil, nil, err
		}
		items := make([]model.DraftItem, 0, len(sel.SeatIDs))
		for _, seatID := range sel.SeatIDs {
			label, price, err := s.catalog.SeatFare(ctx, sel.TripID, seatID)
			if err != nil {
				return nil, nil, err
			}
			items = append(items, model.DraftItem{LegID: legID, SeatID: seatID, SeatLabel: label, PriceCents: price})
			lockedLabels[sel.TripID] = append(lockedLabels[sel.TripID], label)
		}
		if err := s.drafts.AddItemsTx(ctx, tx, legID, items); err != nil {
			return nil, nil, err
		}
		if err := s.tripSeats.UpsertLockedTx(ctx, tx, sel.TripID, sel.SeatIDs); err != nil {
			return nil, nil, err
		}
	}

	// Renew the locks of seats held by earlier calls so the whole session
	// shares one deadline with the draft expiry being extended below.
	if existing != nil {
		for tripID, seatIDs := range existing.SeatIDsByTrip() {
			if err := s.locks.Renew(ctx, tripID, seatIDs, token, s.holdTTL); err != nil {
				return nil, nil, ErrSeatLockLost
			}
		}
	}

	subtotal, err := s.drafts.RecomputeTotalsTx(ctx, tx, draft.ID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.drafts.ExtendTx(ctx, tx, draft.ID, expiresAt); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	committed = true

	return &LockResult{
		SessionToken:  token,
		DraftID:       draft.ID,
		Status:        draft.Status,
		ExpiresAt:     expiresAt,
		SubtotalCents: subtotal,
		DiscountCents: draft.DiscountCents,
		TotalCents:    subtotal - draft.DiscountCents,
	}, lockedLabels, nil
}

// excludeHeld drops the seats the session held before this call, leaving
// only fresh grants eligible for a compensating rollback.
func excludeHeld(granted []uint64, held map[uint64]bool) []uint64 {
	if len(held) == 0 {
		return granted
	}
	fresh := make([]uint64, 0, len(granted))
	for _, id := range granted {
		if !held[id] {
			fresh = append(fresh, id)
		}
	}
	return fresh
}

// rollbackLocks releases every fresh seat this call managed to acquire.
// Errors are logged only: the TTL reclaims anything a failed release
// leaves behind.
func (s *SeatLockService) rollbackLocks(ctx context.Context, granted map[uint64][]uint64, token string) {
	for tripID, seatIDs := range granted {
		if len(seatIDs) == 0 {
			continue
		}
		if _, err := s.locks.Release(ctx, tripID, seatIDs, token); err != nil {
			log.Printf("lock-service: compensating release failed for trip %d: %v", tripID, err)
		}
	}
}

// dedupeTrips drops zero and duplicate seat IDs per trip and removes empty
// selections.
func dedupeTrips(in []TripSelection) []TripSelection {
	out := make([]TripSelection, 0, len(in))
	for _, sel := range in {
		seen := make(map[uint64]struct{}, len(sel.SeatIDs))
		unique := make([]uint64, 0, len(sel.SeatIDs))
		for _, id := range sel.SeatIDs {
			if id == 0 {
				continue
			}
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				unique = append(unique, id)
			}
		}
		if sel.TripID != 0 && len(unique) > 0 {
			out = append(out, TripSelection{TripID: sel.TripID, SeatIDs: unique})
		}
	}
	return out
}
