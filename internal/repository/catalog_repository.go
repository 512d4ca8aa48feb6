package repository

import (
	"context"
	"database/sql"
)

// CatalogRepo answers the two catalog questions this engine needs: the
// sellable fare for a seat on a trip and the discount a coupon code is
// worth.  Trip scheduling and seat-layout management live in a separate
// system that maintains these tables.
type CatalogRepo struct {
	db *sql.DB
}

// NewCatalogRepo returns a CatalogRepo bound to the provided database.
func NewCatalogRepo(db *sql.DB) *CatalogRepo { return &CatalogRepo{db: db} }

// SeatFare resolves the current seat label and price for (trip, seat).
// The caller snapshots both onto the draft so later fare changes do not
// affect a held seat.  Returns ErrFareNotFound for unknown pairs.
func (r *CatalogRepo) SeatFare(ctx context.Context, tripID, seatID uint64) (label string, priceCents int64, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT seat_label, price_cents FROM trip_fares WHERE trip_id = ? AND seat_id = ?`,
		tripID, seatID,
	).Scan(&label, &priceCents)
	if err == sql.ErrNoRows {
		return "", 0, ErrFareNotFound
	}
	return label, priceCents, err
}

// ResolveCoupon converts a coupon code into a discount amount for the
// given subtotal.  Unknown or inactive codes resolve to zero discount
// rather than an error; the checkout proceeds at full price.
func (r *CatalogRepo) ResolveCoupon(ctx context.Context, code string, subtotalCents int64) (int64, error) {
	if code == "" {
		return 0, nil
	}
	var amountOff, percentOff int64
	err := r.db.QueryRowContext(ctx,
		`SELECT amount_off_cents, percent_off FROM coupons WHERE code = ? AND active = 1`,
		code,
	).Scan(&amountOff, &percentOff)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	discount := amountOff + subtotalCents*percentOff/100
	if discount > subtotalCents {
		discount = subtotalCents
	}
	return discount, nil
}
