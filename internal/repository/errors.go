// Package repository defines error types that are reused across multiple
// repositories.  These sentinel values allow higher layers such as the
// services to distinguish between failure scenarios without inspecting
// error strings.
package repository

import "errors"

// ErrDraftNotFound is returned when no draft matches the given session
// token, id or payment intent under the required status filter.
var ErrDraftNotFound = errors.New("draft not found")

// ErrNoRowsAffected is returned by guarded status updates when the row
// exists but the WHERE clause filtered it out, e.g. an attempt to mark a
// terminal draft paid a second time.
var ErrNoRowsAffected = errors.New("no rows affected")

// ErrFareNotFound is returned when the catalog has no fare entry for the
// requested (trip, seat) pair.
var ErrFareNotFound = errors.New("fare not found")
