// Package lock implements the distributed seat-lock manager.  Each
// (trip, seat) pair maps to one Redis key holding the owning session token
// with a TTL equal to the remaining hold duration.  All writes are atomic
// conditional Lua scripts: a key is only set when it is absent or already
// owned by the caller, and only deleted by its owner.  Acquisition across
// several seats is not atomic across keys; callers must compensate by
// releasing what they did acquire when any seat conflicts.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotOwned is returned by AssertOwned and Renew when at least one seat's
// lock is missing or held by a different session token.
var ErrNotOwned = errors.New("seat lock not owned")

// acquireScript sets the key to the caller's token with a fresh TTL only if
// the key is absent or already equals the token.  Returns 1 when granted,
// 0 when another session owns the seat.  Re-running with the same token is
// the renewal path.
var acquireScript = redis.NewScript(`
	local owner = redis.call('GET', KEYS[1])
	if owner == false or owner == ARGV[1] then
		redis.call('SET', KEYS[1], ARGV[1], 'PX', tonumber(ARGV[2]))
		return 1
	end
	return 0
`)

// releaseScript deletes the key only when the caller still owns it, so a
// late release can never drop a lock that a different session re-acquired
// after TTL expiry.  Returns 1 when a key was deleted.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		redis.call('DEL', KEYS[1])
		return 1
	end
	return 0
`)

// Manager performs per-seat conditional writes against Redis.  It is the
// single source of truth for ephemeral seat availability; the durable
// trip_seats.status is reconciled against it by the services.
type Manager struct {
	rdb *redis.Client
}

// NewManager returns a Manager bound to the provided Redis client.
func NewManager(rdb *redis.Client) *Manager {
	if rdb == nil {
		panic("nil redis client passed to lock.NewManager")
	}
	return &Manager{rdb: rdb}
}

// Key returns the lock-store key for one seat on one trip.
func Key(tripID, seatID uint64) string {
	return fmt.Sprintf("seatlock:%d:%d", tripID, seatID)
}

// Acquire attempts to take every seat for the given session token with the
// given TTL.  Each seat is an independent conditional write; the method
// returns the seats that were granted and the seats already owned by
// another session.  The owning token of a conflicting seat is never
// exposed.  On a partial grant the caller must release the granted seats.
func (m *Manager) Acquire(ctx context.Context, tripID uint64, seatIDs []uint64, token string, ttl time.Duration) (granted, conflicts []uint64, err error) {
	for _, sid := range seatIDs {
		res, err := acquireScript.Run(ctx, m.rdb, []string{Key(tripID, sid)}, token, ttl.Milliseconds()).Int()
		if err != nil {
			return granted, conflicts, err
		}
		if res == 1 {
			granted = append(granted, sid)
		} else {
			conflicts = append(conflicts, sid)
		}
	}
	return granted, conflicts, nil
}

// Renew extends the TTL on seats the token already owns.  Renewal is the
// only way a hold survives past its original duration; reads never extend
// it.  If any seat has been taken by another session, ErrNotOwned is
// returned and no further seats are touched.
func (m *Manager) Renew(ctx context.Context, tripID uint64, seatIDs []uint64, token string, ttl time.Duration) error {
	for _, sid := range seatIDs {
		res, err := acquireScript.Run(ctx, m.rdb, []string{Key(tripID, sid)}, token, ttl.Milliseconds()).Int()
		if err != nil {
			return err
		}
		if res != 1 {
			return ErrNotOwned
		}
	}
	return nil
}

// Release deletes the locks the token still owns and returns the seat IDs
// that were actually released.  Seats whose lock already expired or moved
// to another owner are skipped silently; release is idempotent.
func (m *Manager) Release(ctx context.Context, tripID uint64, seatIDs []uint64, token string) ([]uint64, error) {
	var released []uint64
	for _, sid := range seatIDs {
		res, err := releaseScript.Run(ctx, m.rdb, []string{Key(tripID, sid)}, token).Int()
		if err != nil {
			return released, err
		}
		if res == 1 {
			released = append(released, sid)
		}
	}
	return released, nil
}

// AssertOwned verifies that every seat's lock exists and carries the given
// token.  It is a plain read: the TTL is deliberately not refreshed.  This
// is the finalize-time check that prevents selling a seat whose hold
// silently expired.
func (m *Manager) AssertOwned(ctx context.Context, tripID uint64, seatIDs []uint64, token string) error {
	for _, sid := range seatIDs {
		owner, err := m.rdb.Get(ctx, Key(tripID, sid)).Result()
		if err == redis.Nil {
			return ErrNotOwned
		}
		if err != nil {
			return err
		}
		if owner != token {
			return ErrNotOwned
		}
	}
	return nil
}
