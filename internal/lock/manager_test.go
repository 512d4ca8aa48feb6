package lock

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ttl = 5 * time.Minute

func TestKey(t *testing.T) {
	assert.Equal(t, "seatlock:42:7", Key(42, 7))
}

func TestAcquireGrantsFreeSeats(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewManager(rdb)

	mock.ExpectEvalSha(acquireScript.Hash(), []string{Key(10, 1)}, "tok-a", ttl.Milliseconds()).SetVal(int64(1))
	mock.ExpectEvalSha(acquireScript.Hash(), []string{Key(10, 2)}, "tok-a", ttl.Milliseconds()).SetVal(int64(1))

	granted, conflicts, err := m.Acquire(context.Background(), 10, []uint64{1, 2}, "tok-a", ttl)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, granted)
	assert.Empty(t, conflicts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireReportsConflictsPerSeat(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewManager(rdb)

	mock.ExpectEvalSha(acquireScript.Hash(), []string{Key(10, 1)}, "tok-a", ttl.Milliseconds()).SetVal(int64(1))
	mock.ExpectEvalSha(acquireScript.Hash(), []string{Key(10, 2)}, "tok-a", ttl.Milliseconds()).SetVal(int64(0))
	mock.ExpectEvalSha(acquireScript.Hash(), []string{Key(10, 3)}, "tok-a", ttl.Milliseconds()).SetVal(int64(1))

	granted, conflicts, err := m.Acquire(context.Background(), 10, []uint64{1, 2, 3}, "tok-a", ttl)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, granted)
	assert.Equal(t, []uint64{2}, conflicts)
}

func TestAcquireIsReentrantForOwner(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewManager(rdb)

	// the script answers 1 for an already-owned key; re-acquiring must not
	// surface as a conflict
	mock.ExpectEvalSha(acquireScript.Hash(), []string{Key(10, 1)}, "tok-a", ttl.Milliseconds()).SetVal(int64(1))

	granted, conflicts, err := m.Acquire(context.Background(), 10, []uint64{1}, "tok-a", ttl)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, granted)
	assert.Empty(t, conflicts)
}

func TestRenewFailsWhenAnySeatLost(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewManager(rdb)

	mock.ExpectEvalSha(acquireScript.Hash(), []string{Key(10, 1)}, "tok-a", ttl.Milliseconds()).SetVal(int64(1))
	mock.ExpectEvalSha(acquireScript.Hash(), []string{Key(10, 2)}, "tok-a", ttl.Milliseconds()).SetVal(int64(0))

	err := m.Renew(context.Background(), 10, []uint64{1, 2}, "tok-a", ttl)
	assert.ErrorIs(t, err, ErrNotOwned)
}

func TestReleaseSkipsForeignLocks(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	m := NewManager(rdb)

	mock.ExpectEvalSha(releaseScript.Hash(), []string{Key(10, 1)}, "tok-a").SetVal(int64(1))
	mock.ExpectEvalSha(releaseScript.Hash(), []string{Key(10, 2)}, "tok-a").SetVal(int64(0))

	released, err := m.Release(context.Background(), 10, []uint64{1, 2}, "tok-a")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, released)
}

func TestAssertOwned(t *testing.T) {
	t.Run("all owned", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		m := NewManager(rdb)
		mock.ExpectGet(Key(10, 1)).SetVal("tok-a")
		mock.ExpectGet(Key(10, 2)).SetVal("tok-a")
		assert.NoError(t, m.AssertOwned(context.Background(), 10, []uint64{1, 2}, "tok-a"))
	})

	t.Run("expired key", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		m := NewManager(rdb)
		mock.ExpectGet(Key(10, 1)).RedisNil()
		assert.ErrorIs(t, m.AssertOwned(context.Background(), 10, []uint64{1}, "tok-a"), ErrNotOwned)
	})

	t.Run("foreign owner", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		m := NewManager(rdb)
		mock.ExpectGet(Key(10, 1)).SetVal("tok-b")
		assert.ErrorIs(t, m.AssertOwned(context.Background(), 10, []uint64{1}, "tok-a"), ErrNotOwned)
	})
}
