package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zurich(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)
	return loc
}

func TestLocalize(t *testing.T) {
	loc := zurich(t)

	naive := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	got := Localize(naive, loc)

	assert.Equal(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), got)
}

func TestOverlapsHalfOpen(t *testing.T) {
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	assert.True(t, Overlaps(base, base.Add(time.Hour), base.Add(30*time.Minute), base.Add(2*time.Hour)))
	assert.False(t, Overlaps(base, base.Add(time.Hour), base.Add(time.Hour), base.Add(2*time.Hour)))
	assert.False(t, Overlaps(base.Add(time.Hour), base.Add(2*time.Hour), base, base.Add(time.Hour)))
}

func TestAlignRangeToDay(t *testing.T) {
	loc := zurich(t)

	start := time.Date(2024, 6, 1, 10, 0, 0, 0, loc)
	end := time.Date(2024, 6, 1, 11, 0, 0, 0, loc)

	s, e := AlignRangeToDay(start.UTC(), end.UTC(), loc)
	assert.Equal(t, time.Date(2024, 5, 31, 22, 0, 0, 0, time.UTC), s)
	assert.Equal(t, time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC), e)

	// an end on midnight closes the previous day
	s, e = AlignRangeToDay(
		time.Date(2024, 6, 1, 0, 0, 0, 0, loc).UTC(),
		time.Date(2024, 6, 2, 0, 0, 0, 0, loc).UTC(),
		loc,
	)
	assert.Equal(t, time.Date(2024, 5, 31, 22, 0, 0, 0, time.UTC), s)
	assert.Equal(t, time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC), e)
}

func TestDailySpansWholeDay(t *testing.T) {
	loc := zurich(t)

	first := time.Date(2024, 6, 1, 0, 0, 0, 0, loc)
	last := time.Date(2024, 6, 3, 12, 0, 0, 0, loc)

	spans := DailySpans(first.UTC(), last.UTC(), TimeOfDay{}, TimeOfDay{}, loc, true)
	require.Len(t, spans, 3)

	for _, span := range spans {
		assert.Equal(t, 24*time.Hour, span.End.Sub(span.Start))
	}
	assert.Equal(t, time.Date(2024, 5, 31, 22, 0, 0, 0, time.UTC), spans[0].Start)
}

func TestDailySpansDSTTransition(t *testing.T) {
	loc := zurich(t)

	fallBack := time.Date(2024, 10, 27, 12, 0, 0, 0, loc)
	spans := DailySpans(fallBack.UTC(), fallBack.UTC(), TimeOfDay{}, TimeOfDay{}, loc, true)
	require.Len(t, spans, 1)
	assert.Equal(t, 25*time.Hour, spans[0].End.Sub(spans[0].Start))

	springForward := time.Date(2024, 3, 31, 12, 0, 0, 0, loc)
	spans = DailySpans(springForward.UTC(), springForward.UTC(), TimeOfDay{}, TimeOfDay{}, loc, true)
	require.Len(t, spans, 1)
	assert.Equal(t, 23*time.Hour, spans[0].End.Sub(spans[0].Start))
}

func TestDayShift(t *testing.T) {
	loc := zurich(t)

	assert.Equal(t, time.Duration(0), DayShift(time.Date(2024, 6, 1, 12, 0, 0, 0, loc), loc))
	assert.Equal(t, time.Hour, DayShift(time.Date(2024, 10, 27, 12, 0, 0, 0, loc), loc))
	assert.Equal(t, -time.Hour, DayShift(time.Date(2024, 3, 31, 12, 0, 0, 0, loc), loc))
}

func TestTransitionHour(t *testing.T) {
	loc := zurich(t)

	at, ok := TransitionHour(time.Date(2024, 10, 27, 12, 0, 0, 0, loc), loc)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 10, 27, 1, 0, 0, 0, time.UTC), at)

	_, ok = TransitionHour(time.Date(2024, 6, 1, 12, 0, 0, 0, loc), loc)
	assert.False(t, ok)
}

func TestIsWholeDay(t *testing.T) {
	loc := zurich(t)

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, loc).UTC()
	end := time.Date(2024, 6, 2, 0, 0, 0, 0, loc).UTC()

	assert.True(t, IsWholeDay(start, end, loc))
	assert.False(t, IsWholeDay(start.Add(time.Hour), end, loc))
	assert.False(t, IsWholeDay(start, end.Add(-time.Hour), loc))
}

func TestNormalizedAvailability(t *testing.T) {
	loc := zurich(t)

	normalDay := time.Date(2024, 6, 1, 12, 0, 0, 0, loc)
	fallBack := time.Date(2024, 10, 27, 12, 0, 0, 0, loc)
	springForward := time.Date(2024, 3, 31, 12, 0, 0, 0, loc)

	// a 15 minute reservation on a 25h day, scaled to a 24h grid
	total := float64(25 * 3600)
	free := total - 900
	got := NormalizedAvailability(free, total, loc, fallBack, true)
	assert.InDelta(t, 98.96, got, 0.01)

	// opting out keeps the raw percentage
	raw := NormalizedAvailability(free, total, loc, fallBack, false)
	assert.InDelta(t, 99.0, raw, 0.01)

	// the skipped hour on the 23h day counts as used
	total = float64(23 * 3600)
	got = NormalizedAvailability(total, total, loc, springForward, true)
	assert.InDelta(t, 95.83, got, 0.01)

	// regular days are untouched
	total = float64(24 * 3600)
	got = NormalizedAvailability(total/2, total, loc, normalDay, true)
	assert.InDelta(t, 50.0, got, 0.01)

	assert.Equal(t, 100.0, NormalizedAvailability(total, total, loc, normalDay, true))
	assert.Equal(t, 0.0, NormalizedAvailability(0, total, loc, normalDay, true))
}

func TestWeekday(t *testing.T) {
	loc := zurich(t)

	// friday 23:30 local is still friday, though saturday in UTC terms
	friday := time.Date(2024, 6, 7, 23, 30, 0, 0, loc)
	assert.Equal(t, time.Friday, Weekday(friday.UTC(), loc))
	assert.Equal(t, time.Saturday, friday.UTC().Weekday())
}
