package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/iliyamo/bus-seat-reservation/internal/payment"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
)

type lockManagerMock struct{ mock.Mock }

func (m *lockManagerMock) Acquire(ctx context.Context, tripID uint64, seatIDs []uint64, token string, ttl time.Duration) ([]uint64, []uint64, error) {
	args := m.Called(ctx, tripID, seatIDs, token, ttl)
	return seatSlice(args.Get(0)), seatSlice(args.Get(1)), args.Error(2)
}

func (m *lockManagerMock) Renew(ctx context.Context, tripID uint64, seatIDs []uint64, token string, ttl time.Duration) error {
	return m.Called(ctx, tripID, seatIDs, token, ttl).Error(0)
}

func (m *lockManagerMock) Release(ctx context.Context, tripID uint64, seatIDs []uint64, token string) ([]uint64, error) {
	args := m.Called(ctx, tripID, seatIDs, token)
	return seatSlice(args.Get(0)), args.Error(1)
}

func (m *lockManagerMock) AssertOwned(ctx context.Context, tripID uint64, seatIDs []uint64, token string) error {
	return m.Called(ctx, tripID, seatIDs, token).Error(0)
}

func seatSlice(v any) []uint64 {
	if v == nil {
		return nil
	}
	return v.([]uint64)
}

type catalogMock struct{ mock.Mock }

func (m *catalogMock) SeatFare(ctx context.Context, tripID, seatID uint64) (string, int64, error) {
	args := m.Called(ctx, tripID, seatID)
	return args.String(0), args.Get(1).(int64), args.Error(2)
}

func (m *catalogMock) ResolveCoupon(ctx context.Context, code string, subtotalCents int64) (int64, error) {
	args := m.Called(ctx, code, subtotalCents)
	return args.Get(0).(int64), args.Error(1)
}

type notifierMock struct{ mock.Mock }

func (m *notifierMock) PublishSeatEvent(ctx context.Context, ev queue.SeatEvent) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *notifierMock) PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error {
	return m.Called(ctx, ev).Error(0)
}

// relaxedNotifier accepts every publish; for tests where events are not
// the subject.
func relaxedNotifier() *notifierMock {
	n := &notifierMock{}
	n.On("PublishSeatEvent", mock.Anything, mock.Anything).Return(nil).Maybe()
	n.On("PublishBookingConfirmed", mock.Anything, mock.Anything).Return(nil).Maybe()
	return n
}

type providerMock struct{ mock.Mock }

func (m *providerMock) CreatePaymentLink(ctx context.Context, req payment.LinkRequest) (*payment.Link, error) {
	args := m.Called(ctx, req)
	if l := args.Get(0); l != nil {
		return l.(*payment.Link), args.Error(1)
	}
	return nil, args.Error(1)
}
