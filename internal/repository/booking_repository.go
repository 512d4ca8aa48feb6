package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// BookingRepo persists finalized bookings.  A booking and its legs/items
// are always written inside the caller's finalize transaction; this
// repository never commits on its own.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to the provided database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// CreateTx inserts the booking with all legs and items and populates the
// generated IDs.  The passed aggregate must already be a deep copy of the
// draft data; nothing here references draft rows.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO bookings (reference, draft_id, user_id, subtotal_cents, discount_cents, total_cents, payment_provider, payment_intent_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Reference, b.DraftID, b.UserID, b.SubtotalCents, b.DiscountCents, b.TotalCents, b.PaymentProvider, b.PaymentIntentID,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)

	for li := range b.Legs {
		leg := &b.Legs[li]
		leg.BookingID = b.ID
		res, err := tx.ExecContext(ctx,
			`INSERT INTO booking_legs (booking_id, trip_id) VALUES (?, ?)`, leg.BookingID, leg.TripID)
		if err != nil {
			return err
		}
		legID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		leg.ID = uint64(legID)
		if len(leg.Items) == 0 {
			continue
		}
		query := `INSERT INTO booking_items (leg_id, seat_id, seat_label, price_cents) VALUES `
		args := make([]any, 0, len(leg.Items)*4)
		for i, it := range leg.Items {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?)"
			args = append(args, leg.ID, it.SeatID, it.SeatLabel, it.PriceCents)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

// GetByID loads a booking with legs and items, used to rebuild the
// response for idempotent webhook replays.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	var b model.Booking
	err := r.db.QueryRowContext(ctx,
		`SELECT id, reference, draft_id, user_id, subtotal_cents, discount_cents, total_cents, payment_provider, payment_intent_id, created_at
		 FROM bookings WHERE id = ?`, id,
	).Scan(&b.ID, &b.Reference, &b.DraftID, &b.UserID, &b.SubtotalCents, &b.DiscountCents, &b.TotalCents, &b.PaymentProvider, &b.PaymentIntentID, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, booking_id, trip_id FROM booking_legs WHERE booking_id = ? ORDER BY id`, b.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	legIndex := map[uint64]int{}
	for rows.Next() {
		var leg model.BookingLeg
		if err := rows.Scan(&leg.ID, &leg.BookingID, &leg.TripID); err != nil {
			return nil, err
		}
		legIndex[leg.ID] = len(b.Legs)
		b.Legs = append(b.Legs, leg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	itemRows, err := r.db.QueryContext(ctx,
		`SELECT i.id, i.leg_id, i.seat_id, i.seat_label, i.price_cents
		 FROM booking_items i
		 JOIN booking_legs l ON l.id = i.leg_id
		 WHERE l.booking_id = ? ORDER BY i.id`, b.ID)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var it model.BookingItem
		if err := itemRows.Scan(&it.ID, &it.LegID, &it.SeatID, &it.SeatLabel, &it.PriceCents); err != nil {
			return nil, err
		}
		if idx, ok := legIndex[it.LegID]; ok {
			b.Legs[idx].Items = append(b.Legs[idx].Items, it)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	return &b, nil
}
