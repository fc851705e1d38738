package model

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSameLine(t *testing.T) {
	resource := uuid.New()
	target := uuid.New()
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	line := func(quota int, s, e time.Time) *Reservation {
		return &Reservation{
			Resource: resource,
			Target:   target,
			Quota:    quota,
			Start:    &s,
			End:      &e,
		}
	}

	assert.True(t, line(1, start, end).SameLine(line(1, start, end)))
	assert.False(t, line(1, start, end).SameLine(line(2, start, end)))
	assert.False(t, line(1, start, end).SameLine(line(1, start.Add(time.Hour), end.Add(time.Hour))))

	other := line(1, start, end)
	other.Resource = uuid.New()
	assert.False(t, line(1, start, end).SameLine(other))

	// group lines carry no span
	a := &Reservation{Resource: resource, Target: target, Quota: 1}
	b := &Reservation{Resource: resource, Target: target, Quota: 1}
	assert.True(t, a.SameLine(b))
}

func TestReservationErrorUnwrap(t *testing.T) {
	r := &Reservation{ID: 7, Token: uuid.New()}
	err := &ReservationError{Reservation: r, Err: ErrAlreadyReserved}

	assert.True(t, errors.Is(err, ErrAlreadyReserved))

	var rerr *ReservationError
	assert.True(t, errors.As(error(err), &rerr))
	assert.Equal(t, r, rerr.Reservation)
}

func TestIsPending(t *testing.T) {
	assert.True(t, (&Reservation{Status: ReservationStatusPending}).IsPending())
	assert.False(t, (&Reservation{Status: ReservationStatusApproved}).IsPending())
}

func TestLocationFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, (&Reservation{Timezone: "Not/AZone"}).Location())
	assert.Equal(t, time.UTC, (&Allocation{Timezone: ""}).Location())
}
