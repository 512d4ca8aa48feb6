package repository

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx so aggregate loading can
// run inside or outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const draftColumns = `id, session_token, user_id, status, expires_at,
	subtotal_cents, discount_cents, total_cents,
	payment_provider, payment_intent_id, booking_id, completed_at,
	created_at, updated_at`

// DraftRepo provides data access to the draft_checkouts aggregate: the
// draft row plus its legs and items.  All timestamps are UTC.
type DraftRepo struct {
	db *sql.DB
}

// NewDraftRepo returns a DraftRepo bound to the provided database.
func NewDraftRepo(db *sql.DB) *DraftRepo { return &DraftRepo{db: db} }

// DB exposes the underlying handle so services can open transactions that
// span several repositories.
func (r *DraftRepo) DB() *sql.DB { return r.db }

func scanDraft(row interface{ Scan(...any) error }) (*model.DraftCheckout, error) {
	var d model.DraftCheckout
	err := row.Scan(
		&d.ID, &d.SessionToken, &d.UserID, &d.Status, &d.ExpiresAt,
		&d.SubtotalCents, &d.DiscountCents, &d.TotalCents,
		&d.PaymentProvider, &d.PaymentIntentID, &d.BookingID, &d.CompletedAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// loadChildren populates d.Legs (and their items) from the given querier.
func loadChildren(ctx context.Context, q querier, d *model.DraftCheckout) error {
	rows, err := q.QueryContext(ctx,
		`SELECT id, draft_id, trip_id, created_at FROM draft_checkout_legs WHERE draft_id = ? ORDER BY id`,
		d.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()
	legIndex := map[uint64]int{}
	for rows.Next() {
		var leg model.DraftLeg
		if err := rows.Scan(&leg.ID, &leg.DraftID, &leg.TripID, &leg.CreatedAt); err != nil {
			return err
		}
		legIndex[leg.ID] = len(d.Legs)
		d.Legs = append(d.Legs, leg)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(d.Legs) == 0 {
		return nil
	}
	itemRows, err := q.QueryContext(ctx,
		`SELECT i.id, i.leg_id, i.seat_id, i.seat_label, i.price_cents, i.created_at
		 FROM draft_checkout_items i
		 JOIN draft_checkout_legs l ON l.id = i.leg_id
		 WHERE l.draft_id = ? ORDER BY i.id`,
		d.ID,
	)
	if err != nil {
		return err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var it model.DraftItem
		if err := itemRows.Scan(&it.ID, &it.LegID, &it.SeatID, &it.SeatLabel, &it.PriceCents, &it.CreatedAt); err != nil {
			return err
		}
		if idx, ok := legIndex[it.LegID]; ok {
			d.Legs[idx].Items = append(d.Legs[idx].Items, it)
		}
	}
	return itemRows.Err()
}

// CreateTx inserts a fresh draft row inside the provided transaction and
// populates d.ID.  Legs and items are appended separately as locks are
// granted.
func (r *DraftRepo) CreateTx(ctx context.Context, tx *sql.Tx, d *model.DraftCheckout) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO draft_checkouts (session_token, user_id, status, expires_at, subtotal_cents, discount_cents, total_cents)
		 VALUES (?, ?, ?, ?, 0, 0, 0)`,
		d.SessionToken, d.UserID, d.Status, d.ExpiresAt.UTC(),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	d.ID = uint64(id)
	return nil
}

// GetBySessionToken loads the full aggregate for the session token, in any
// status.  Returns ErrDraftNotFound when no draft carries the token.
func (r *DraftRepo) GetBySessionToken(ctx context.Context, token string) (*model.DraftCheckout, error) {
	d, err := scanDraft(r.db.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM draft_checkouts WHERE session_token = ?`, token))
	if err == sql.ErrNoRows {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadChildren(ctx, r.db, d); err != nil {
		return nil, err
	}
	return d, nil
}

// GetBySessionTokenTx is GetBySessionToken inside an existing transaction,
// taking a row lock so concurrent lock calls on the same session serialize.
func (r *DraftRepo) GetBySessionTokenTx(ctx context.Context, tx *sql.Tx, token string) (*model.DraftCheckout, error) {
	d, err := scanDraft(tx.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM draft_checkouts WHERE session_token = ? FOR UPDATE`, token))
	if err == sql.ErrNoRows {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadChildren(ctx, tx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// GetForFinalizeTx locks and loads a draft eligible for finalization by id
// and session token: status pending or paying and not past expiry.  The
// FOR UPDATE row lock is what serializes two concurrent finalize attempts.
func (r *DraftRepo) GetForFinalizeTx(ctx context.Context, tx *sql.Tx, draftID uint64, token string) (*model.DraftCheckout, error) {
	d, err := scanDraft(tx.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM draft_checkouts
		 WHERE id = ? AND session_token = ? AND status IN ('pending','paying') AND expires_at > UTC_TIMESTAMP()
		 FOR UPDATE`,
		draftID, token))
	if err == sql.ErrNoRows {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadChildren(ctx, tx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// GetByIntentForFinalizeTx is GetForFinalizeTx keyed by the payment
// provider's order code instead of id/token.  The intent id is unique per
// provider, so at most one draft can match.
func (r *DraftRepo) GetByIntentForFinalizeTx(ctx context.Context, tx *sql.Tx, intentID string) (*model.DraftCheckout, error) {
	d, err := scanDraft(tx.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM draft_checkouts
		 WHERE payment_intent_id = ? AND status IN ('pending','paying') AND expires_at > UTC_TIMESTAMP()
		 FOR UPDATE`,
		intentID))
	if err == sql.ErrNoRows {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadChildren(ctx, tx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// GetPaidTx loads an already-finalized draft matched either by id plus
// session token or by payment intent, used for the idempotent replay
// path.  Exactly one key is consulted: pass draftID = 0 to match by
// intent.  The id branch requires the token so a replay can only be
// answered to the session that owns the draft; the intent branch carries
// its own proof of identity (the provider-signed order code).
func (r *DraftRepo) GetPaidTx(ctx context.Context, tx *sql.Tx, draftID uint64, token, intentID string) (*model.DraftCheckout, error) {
	var row *sql.Row
	if draftID != 0 {
		row = tx.QueryRowContext(ctx,
			`SELECT `+draftColumns+` FROM draft_checkouts WHERE id = ? AND session_token = ? AND status = 'paid'`, draftID, token)
	} else {
		row = tx.QueryRowContext(ctx,
			`SELECT `+draftColumns+` FROM draft_checkouts WHERE payment_intent_id = ? AND status = 'paid'`, intentID)
	}
	d, err := scanDraft(row)
	if err == sql.ErrNoRows {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// EnsureLegTx returns the leg id for (draft, trip), inserting the leg when
// it does not exist yet.
func (r *DraftRepo) EnsureLegTx(ctx context.Context, tx *sql.Tx, draftID, tripID uint64) (uint64, error) {
	var legID uint64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM draft_checkout_legs WHERE draft_id = ? AND trip_id = ?`, draftID, tripID,
	).Scan(&legID)
	if err == nil {
		return legID, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO draft_checkout_legs (draft_id, trip_id) VALUES (?, ?)`, draftID, tripID)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// AddItemsTx bulk-inserts seat items under a leg.  Re-acquiring a seat the
// session already holds is a no-op: the original price snapshot wins.
func (r *DraftRepo) AddItemsTx(ctx context.Context, tx *sql.Tx, legID uint64, items []model.DraftItem) error {
	if len(items) == 0 {
		return nil
	}
	query := `INSERT INTO draft_checkout_items (leg_id, seat_id, seat_label, price_cents) VALUES `
	args := make([]any, 0, len(items)*4)
	for i, it := range items {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?)"
		args = append(args, legID, it.SeatID, it.SeatLabel, it.PriceCents)
	}
	query += ` ON DUPLICATE KEY UPDATE price_cents = price_cents`
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// RecomputeTotalsTx refreshes the pricing snapshot from the current items
// and returns the new subtotal.  The discount is preserved.
func (r *DraftRepo) RecomputeTotalsTx(ctx context.Context, tx *sql.Tx, draftID uint64) (int64, error) {
	var subtotal int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(i.price_cents), 0)
		 FROM draft_checkout_items i
		 JOIN draft_checkout_legs l ON l.id = i.leg_id
		 WHERE l.draft_id = ?`,
		draftID,
	).Scan(&subtotal)
	if err != nil {
		return 0, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE draft_checkouts
		 SET subtotal_cents = ?, total_cents = ? - discount_cents, updated_at = UTC_TIMESTAMP()
		 WHERE id = ?`,
		subtotal, subtotal, draftID)
	return subtotal, err
}

// ExtendTx pushes the draft expiry forward.  Called on every successful
// lock so the draft deadline tracks the freshest seat-lock TTL.
func (r *DraftRepo) ExtendTx(ctx context.Context, tx *sql.Tx, draftID uint64, expiresAt time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE draft_checkouts SET expires_at = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
		expiresAt.UTC(), draftID)
	return err
}

// SetPaymentIntentTx records the chosen provider, its order code and the
// resolved discount, and moves the draft into paying.  Only a live
// pending/paying draft may be updated.
func (r *DraftRepo) SetPaymentIntentTx(ctx context.Context, tx *sql.Tx, draftID uint64, provider, intentID string, discountCents int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE draft_checkouts
		 SET status = 'paying', payment_provider = ?, payment_intent_id = ?,
		     discount_cents = ?, total_cents = subtotal_cents - ?, updated_at = UTC_TIMESTAMP()
		 WHERE id = ? AND status IN ('pending','paying')`,
		provider, intentID, discountCents, discountCents, draftID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

// MarkPaidTx performs the single legal paid transition: status flips to
// paid and booking_id/completed_at are set, guarded so it can only ever
// happen once per draft.
func (r *DraftRepo) MarkPaidTx(ctx context.Context, tx *sql.Tx, draftID, bookingID uint64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE draft_checkouts
		 SET status = 'paid', booking_id = ?, completed_at = UTC_TIMESTAMP(), updated_at = UTC_TIMESTAMP()
		 WHERE id = ? AND status IN ('pending','paying') AND booking_id IS NULL`,
		bookingID, draftID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

// MarkTerminalTx moves a live draft into cancelled or expired.  Marking a
// draft that already reached a terminal status affects no rows and returns
// ErrNoRowsAffected so callers can treat it as already settled.
func (r *DraftRepo) MarkTerminalTx(ctx context.Context, tx *sql.Tx, draftID uint64, to model.DraftStatus) error {
	if to != model.DraftCancelled && to != model.DraftExpired {
		return ErrNoRowsAffected
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE draft_checkouts SET status = ?, updated_at = UTC_TIMESTAMP()
		 WHERE id = ? AND status IN ('pending','paying')`,
		to, draftID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

// ListExpired returns up to limit live drafts whose expiry has passed,
// with children loaded, for the sweeper to reclaim.
func (r *DraftRepo) ListExpired(ctx context.Context, limit int) ([]*model.DraftCheckout, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+draftColumns+` FROM draft_checkouts
		 WHERE status IN ('pending','paying') AND expires_at <= UTC_TIMESTAMP()
		 ORDER BY expires_at LIMIT `+itoa(limit))
	if err != nil {
		return nil, err
	}
	var drafts []*model.DraftCheckout
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		drafts = append(drafts, d)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for _, d := range drafts {
		if err := loadChildren(ctx, r.db, d); err != nil {
			return nil, err
		}
	}
	return drafts, nil
}

// itoa inlines the LIMIT value; a placeholder there is rejected by some
// MySQL configurations when statements are prepared.
func itoa(n int) string {
	if n <= 0 {
		n = 100
	}
	return strconv.Itoa(n)
}
