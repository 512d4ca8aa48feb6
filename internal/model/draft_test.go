package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDraftStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to DraftStatus
		ok       bool
	}{
		{DraftPending, DraftPaying, true},
		{DraftPending, DraftPaid, true},
		{DraftPending, DraftExpired, true},
		{DraftPending, DraftCancelled, true},
		{DraftPaying, DraftPaid, true},
		{DraftPaying, DraftExpired, true},
		{DraftPaying, DraftCancelled, true},
		{DraftPaying, DraftPending, false},
		{DraftPaid, DraftCancelled, false},
		{DraftPaid, DraftPending, false},
		{DraftExpired, DraftPending, false},
		{DraftCancelled, DraftPaying, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.ok, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestDraftStatusTerminal(t *testing.T) {
	assert.False(t, DraftPending.Terminal())
	assert.False(t, DraftPaying.Terminal())
	assert.True(t, DraftPaid.Terminal())
	assert.True(t, DraftExpired.Terminal())
	assert.True(t, DraftCancelled.Terminal())
}

func TestDraftLive(t *testing.T) {
	now := time.Now().UTC()

	d := &DraftCheckout{Status: DraftPending, ExpiresAt: now.Add(time.Minute)}
	assert.True(t, d.Live(now))

	d.ExpiresAt = now.Add(-time.Second)
	assert.False(t, d.Live(now), "past expiry is dead even while pending")

	d = &DraftCheckout{Status: DraftCancelled, ExpiresAt: now.Add(time.Minute)}
	assert.False(t, d.Live(now), "terminal status is dead even before expiry")
}

func TestSeatIDsByTrip(t *testing.T) {
	d := &DraftCheckout{
		Legs: []DraftLeg{
			{TripID: 1, Items: []DraftItem{{SeatID: 11}, {SeatID: 12}}},
			{TripID: 2, Items: []DraftItem{{SeatID: 11}}},
		},
	}
	got := d.SeatIDsByTrip()
	assert.Equal(t, map[uint64][]uint64{1: {11, 12}, 2: {11}}, got)
}
