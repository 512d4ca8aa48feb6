package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// TripSeatRepo encapsulates database operations for trip_seats, the
// durable per-trip availability record of each seat.  Rows are upserted
// lazily when a seat is first locked; a booked row never changes again.
type TripSeatRepo struct {
	db *sql.DB
}

// NewTripSeatRepo constructs a TripSeatRepo given a DB handle.
func NewTripSeatRepo(db *sql.DB) *TripSeatRepo { return &TripSeatRepo{db: db} }

// BookedSeatsTx returns which of the given seats are already booked for
// the trip.  Checked before lock acquisition: a booked seat can never be
// re-locked regardless of lock-store state.
func (r *TripSeatRepo) BookedSeatsTx(ctx context.Context, tx *sql.Tx, tripID uint64, seatIDs []uint64) ([]uint64, error) {
	if len(seatIDs) == 0 {
		return nil, nil
	}
	query := `SELECT seat_id FROM trip_seats WHERE trip_id = ? AND status = 'booked' AND seat_id IN (`
	args := make([]any, 0, len(seatIDs)+1)
	args = append(args, tripID)
	for i, sid := range seatIDs {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, sid)
	}
	query += ")"
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var booked []uint64
	for rows.Next() {
		var sid uint64
		if err := rows.Scan(&sid); err != nil {
			return nil, err
		}
		booked = append(booked, sid)
	}
	return booked, rows.Err()
}

// UpsertLockedTx marks the given seats locked, creating rows that do not
// exist yet.  The IF() guard makes the statement a no-op for booked rows;
// callers are expected to have filtered those out already.
func (r *TripSeatRepo) UpsertLockedTx(ctx context.Context, tx *sql.Tx, tripID uint64, seatIDs []uint64) error {
	if len(seatIDs) == 0 {
		return nil
	}
	query := `INSERT INTO trip_seats (trip_id, seat_id, status) VALUES `
	args := make([]any, 0, len(seatIDs)*3)
	for i, sid := range seatIDs {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?)"
		args = append(args, tripID, sid, model.SeatLocked)
	}
	query += ` ON DUPLICATE KEY UPDATE status = IF(status = 'booked', status, 'locked'), updated_at = UTC_TIMESTAMP()`
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// BulkUpdateStatusTx sets the status of the given seats for a trip.  When
// reverting to available only locked rows are touched, so a release that
// races a finalize can never downgrade a booked seat.
func (r *TripSeatRepo) BulkUpdateStatusTx(ctx context.Context, tx *sql.Tx, tripID uint64, seatIDs []uint64, status model.SeatStatus) error {
	if len(seatIDs) == 0 {
		return nil
	}
	query := `UPDATE trip_seats SET status = ?, updated_at = UTC_TIMESTAMP() WHERE trip_id = ? AND seat_id IN (`
	args := make([]any, 0, len(seatIDs)+2)
	args = append(args, status, tripID)
	for i, sid := range seatIDs {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, sid)
	}
	query += ")"
	if status == model.SeatAvailable {
		query += ` AND status = 'locked'`
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
