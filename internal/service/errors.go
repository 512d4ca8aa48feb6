// Package service orchestrates the reservation engine: seat locking,
// draft lifecycle, release/expiry and checkout finalization.  Services own
// the database transactions; repositories only run statements inside them.
package service

import (
	"errors"
	"fmt"
)

// ErrDraftNotEligible signals that no live draft matched the request: the
// token is wrong, the draft expired, or it already reached a terminal
// status.  The client must restart seat selection.
var ErrDraftNotEligible = errors.New("draft not eligible")

// ErrSeatLockLost signals that at least one seat hold expired or was taken
// over between selection and finalize.  The attempt is aborted with no
// durable changes; the draft itself stays untouched.
var ErrSeatLockLost = errors.New("seat lock lost")

// ErrProviderUnavailable signals that the payment provider rejected or
// failed the payment-link request.  The draft is cancelled and its seats
// released before this is returned.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// LockConflictError reports exactly which seats of one trip could not be
// locked so the client can prompt reselection.  Seats acquired by the same
// call have already been released when this is returned.
type LockConflictError struct {
	TripID  uint64
	SeatIDs []uint64
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("trip %d: %d seat(s) unavailable", e.TripID, len(e.SeatIDs))
}
