package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

const holdTTL = 5 * time.Minute

func newLockFixture(t *testing.T) (*SeatLockService, sqlmock.Sqlmock, *lockManagerMock, *catalogMock) {
	t.Helper()
	db, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	lm := &lockManagerMock{}
	cat := &catalogMock{}
	svc := NewSeatLockService(db,
		repository.NewDraftRepo(db), repository.NewTripSeatRepo(db),
		cat, lm, relaxedNotifier(), holdTTL)
	return svc, mockDB, lm, cat
}

func TestLockNewSession(t *testing.T) {
	svc, mockDB, lm, cat := newLockFixture(t)

	lm.On("Acquire", mock.Anything, uint64(1), []uint64{11, 12}, mock.AnythingOfType("string"), holdTTL).
		Return([]uint64{11, 12}, nil, nil)
	cat.On("SeatFare", mock.Anything, uint64(1), uint64(11)).Return("4A", int64(2500), nil)
	cat.On("SeatFare", mock.Anything, uint64(1), uint64(12)).Return("4B", int64(2500), nil)

	mockDB.ExpectBegin()
	mockDB.ExpectExec(`INSERT INTO draft_checkouts`).
		WillReturnResult(sqlmock.NewResult(9, 1))
	mockDB.ExpectQuery(`SELECT seat_id FROM trip_seats`).
		WillReturnRows(sqlmock.NewRows([]string{"seat_id"}))
	mockDB.ExpectQuery(`SELECT id FROM draft_checkout_legs`).
		WithArgs(9, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mockDB.ExpectExec(`INSERT INTO draft_checkout_legs`).
		WithArgs(9, 1).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mockDB.ExpectExec(`INSERT INTO draft_checkout_items`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mockDB.ExpectExec(`INSERT INTO trip_seats`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mockDB.ExpectQuery(`SELECT COALESCE\(SUM\(i.price_cents\), 0\)`).
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"subtotal"}).AddRow(5000))
	mockDB.ExpectExec(`SET subtotal_cents = \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec(`SET expires_at = \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	res, err := svc.Lock(context.Background(), LockRequest{
		Trips: []TripSelection{{TripID: 1, SeatIDs: []uint64{11, 12}}},
	})
	require.NoError(t, err)
	assert.Len(t, res.SessionToken, 64, "fresh sessions get a 32-byte hex token")
	assert.Equal(t, uint64(9), res.DraftID)
	assert.Equal(t, int64(5000), res.SubtotalCents)
	assert.Equal(t, int64(5000), res.TotalCents)
	assert.WithinDuration(t, time.Now().UTC().Add(holdTTL), res.ExpiresAt, 5*time.Second)
	assert.NoError(t, mockDB.ExpectationsWereMet())
	lm.AssertExpectations(t)
}

func TestLockPartialConflictCompensates(t *testing.T) {
	svc, mockDB, lm, _ := newLockFixture(t)

	// seat 12 is owned elsewhere; the freshly granted seat 11 must be
	// handed back before the conflict surfaces
	lm.On("Acquire", mock.Anything, uint64(1), []uint64{11, 12}, mock.AnythingOfType("string"), holdTTL).
		Return([]uint64{11}, []uint64{12}, nil)
	lm.On("Release", mock.Anything, uint64(1), []uint64{11}, mock.AnythingOfType("string")).
		Return([]uint64{11}, nil)

	_, err := svc.Lock(context.Background(), LockRequest{
		Trips: []TripSelection{{TripID: 1, SeatIDs: []uint64{11, 12}}},
	})
	var conflict *LockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, uint64(1), conflict.TripID)
	assert.Equal(t, []uint64{12}, conflict.SeatIDs)

	// no durable writes may happen on a conflict
	assert.NoError(t, mockDB.ExpectationsWereMet())
	lm.AssertExpectations(t)
}

func TestLockConflictKeepsEarlierHolds(t *testing.T) {
	svc, mockDB, lm, _ := newLockFixture(t)
	now := time.Now().UTC()

	// the session already holds seat 11 from an earlier call
	mockDB.ExpectQuery(`FROM draft_checkouts WHERE session_token = \?`).
		WithArgs("tok").
		WillReturnRows(pendingDraftRow(now))
	mockDB.ExpectQuery(`FROM draft_checkout_legs WHERE draft_id = \? ORDER BY id`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "draft_id", "trip_id", "created_at"}).
			AddRow(3, 7, 1, now))
	mockDB.ExpectQuery(`FROM draft_checkout_items i`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "leg_id", "seat_id", "seat_label", "price_cents", "created_at"}).
			AddRow(21, 3, 11, "4A", 2500, now))

	// seat 11 re-acquires as granted (owner re-entrancy), seat 12 conflicts
	lm.On("Acquire", mock.Anything, uint64(1), []uint64{11, 12}, "tok", holdTTL).
		Return([]uint64{11}, []uint64{12}, nil)

	_, err := svc.Lock(context.Background(), LockRequest{
		Trips:        []TripSelection{{TripID: 1, SeatIDs: []uint64{11, 12}}},
		SessionToken: "tok",
	})
	var conflict *LockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []uint64{12}, conflict.SeatIDs)

	// the compensating rollback must not touch the pre-existing hold
	lm.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestLockBookedSeatInDatabaseIsConflict(t *testing.T) {
	svc, mockDB, lm, _ := newLockFixture(t)

	// the lock store granted the seat (no live key) but the durable record
	// says it was already sold
	lm.On("Acquire", mock.Anything, uint64(1), []uint64{11, 12}, mock.AnythingOfType("string"), holdTTL).
		Return([]uint64{11, 12}, nil, nil)
	lm.On("Release", mock.Anything, uint64(1), []uint64{11, 12}, mock.AnythingOfType("string")).
		Return([]uint64{11, 12}, nil)

	mockDB.ExpectBegin()
	mockDB.ExpectExec(`INSERT INTO draft_checkouts`).
		WillReturnResult(sqlmock.NewResult(9, 1))
	mockDB.ExpectQuery(`SELECT seat_id FROM trip_seats`).
		WillReturnRows(sqlmock.NewRows([]string{"seat_id"}).AddRow(12))
	mockDB.ExpectRollback()

	_, err := svc.Lock(context.Background(), LockRequest{
		Trips: []TripSelection{{TripID: 1, SeatIDs: []uint64{11, 12}}},
	})
	var conflict *LockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []uint64{12}, conflict.SeatIDs)
	assert.NoError(t, mockDB.ExpectationsWereMet())
	lm.AssertExpectations(t)
}

func TestLockDedupesSeatIDs(t *testing.T) {
	svc, mockDB, lm, cat := newLockFixture(t)

	lm.On("Acquire", mock.Anything, uint64(1), []uint64{11}, mock.AnythingOfType("string"), holdTTL).
		Return([]uint64{11}, nil, nil)
	cat.On("SeatFare", mock.Anything, uint64(1), uint64(11)).Return("4A", int64(2500), nil)

	mockDB.ExpectBegin()
	mockDB.ExpectExec(`INSERT INTO draft_checkouts`).
		WillReturnResult(sqlmock.NewResult(9, 1))
	mockDB.ExpectQuery(`SELECT seat_id FROM trip_seats`).
		WillReturnRows(sqlmock.NewRows([]string{"seat_id"}))
	mockDB.ExpectQuery(`SELECT id FROM draft_checkout_legs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mockDB.ExpectExec(`INSERT INTO draft_checkout_legs`).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mockDB.ExpectExec(`INSERT INTO draft_checkout_items`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec(`INSERT INTO trip_seats`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery(`SELECT COALESCE\(SUM\(i.price_cents\), 0\)`).
		WillReturnRows(sqlmock.NewRows([]string{"subtotal"}).AddRow(2500))
	mockDB.ExpectExec(`SET subtotal_cents = \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec(`SET expires_at = \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	// zero and duplicate seat ids collapse to one acquisition
	_, err := svc.Lock(context.Background(), LockRequest{
		Trips: []TripSelection{{TripID: 1, SeatIDs: []uint64{11, 11, 0}}},
	})
	require.NoError(t, err)
	lm.AssertExpectations(t)
}

func TestLockRejectsEmptySelection(t *testing.T) {
	svc, _, _, _ := newLockFixture(t)
	_, err := svc.Lock(context.Background(), LockRequest{})
	assert.Error(t, err)
}
