package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourlyAllocation(start, end time.Time, raster int, partly bool) *Allocation {
	a := &Allocation{
		ID:              1,
		MirrorOf:        1,
		Resource:        uuid.New(),
		Group:           uuid.New(),
		Quota:           1,
		PartlyAvailable: partly,
		Timezone:        "Europe/Zurich",
		Start:           start,
		End:             end,
		Raster:          raster,
	}
	return a
}

func TestAllSlots(t *testing.T) {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	partly := hourlyAllocation(start, end, 15, true)
	slots := partly.AllSlots(time.Time{}, time.Time{})
	require.Len(t, slots, 12)
	assert.Equal(t, start, slots[0].Start)
	assert.Equal(t, end, slots[11].End)

	whole := hourlyAllocation(start, end, 15, false)
	slots = whole.AllSlots(time.Time{}, time.Time{})
	require.Len(t, slots, 1)
	assert.Equal(t, start, slots[0].Start)
	assert.Equal(t, end, slots[0].End)
}

func TestIsAvailable(t *testing.T) {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := hourlyAllocation(start, end, 15, true)

	reserved := map[time.Time]bool{
		start.Add(15 * time.Minute): true,
	}

	assert.True(t, a.IsAvailable(start, start.Add(15*time.Minute), reserved))
	assert.False(t, a.IsAvailable(start, start.Add(30*time.Minute), reserved))
	assert.False(t, a.IsAvailable(time.Time{}, time.Time{}, reserved))
}

func TestAvailability(t *testing.T) {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := hourlyAllocation(start, end, 15, true)

	assert.Equal(t, 100.0, a.Availability(nil))

	slots := []*ReservedSlot{
		{AllocationID: a.ID, Start: start, End: start.Add(15 * time.Minute)},
		{AllocationID: a.ID, Start: start.Add(15 * time.Minute), End: start.Add(30 * time.Minute)},
		{AllocationID: a.ID, Start: start.Add(30 * time.Minute), End: start.Add(45 * time.Minute)},
	}
	assert.InDelta(t, 75.0, a.Availability(slots), 0.01)
}

func TestNormalizedAvailabilityFallBackDay(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)

	// 2024-10-27 has 25 local hours
	start := time.Date(2024, 10, 27, 0, 0, 0, 0, loc).UTC()
	end := time.Date(2024, 10, 28, 0, 0, 0, 0, loc).UTC()
	require.Equal(t, 25*time.Hour, end.Sub(start))

	a := hourlyAllocation(start, end, 60, true)

	assert.Equal(t, 100.0, a.NormalizedAvailability(nil))

	// one reserved hour outside the repeated hour counts like on a
	// regular day
	slot := &ReservedSlot{
		AllocationID: a.ID,
		Start:        time.Date(2024, 10, 27, 10, 0, 0, 0, loc).UTC(),
		End:          time.Date(2024, 10, 27, 11, 0, 0, 0, loc).UTC(),
	}
	got := a.NormalizedAvailability([]*ReservedSlot{slot})
	assert.InDelta(t, 100.0-100.0/24.0, got, 0.01)

	// raw availability sees 25 slots instead
	assert.InDelta(t, 100.0-100.0/25.0, a.Availability([]*ReservedSlot{slot}), 0.01)
}

func TestAvailabilityPartitions(t *testing.T) {
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := hourlyAllocation(start, end, 60, true)

	free := a.AvailabilityPartitions(nil, false)
	require.Len(t, free, 1)
	assert.Equal(t, Partition{Percent: 100.0, Reserved: false}, free[0])

	slots := []*ReservedSlot{
		{AllocationID: a.ID, Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)},
	}
	parts := a.AvailabilityPartitions(slots, false)
	require.Len(t, parts, 3)
	assert.Equal(t, Partition{Percent: 25.0, Reserved: false}, parts[0])
	assert.Equal(t, Partition{Percent: 25.0, Reserved: true}, parts[1])
	assert.Equal(t, Partition{Percent: 50.0, Reserved: false}, parts[2])

	total := 0.0
	for _, p := range parts {
		total += p.Percent
	}
	assert.InDelta(t, 100.0, total, 0.0001)
}

func TestWholeDay(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, loc).UTC()
	end := time.Date(2024, 6, 2, 0, 0, 0, 0, loc).UTC()

	assert.True(t, hourlyAllocation(start, end, 5, false).WholeDay())
	assert.False(t, hourlyAllocation(start, end.Add(-time.Hour), 5, false).WholeDay())
}

func TestContainsAndOverlaps(t *testing.T) {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := hourlyAllocation(start, end, 15, true)

	assert.True(t, a.Contains(start, end))
	assert.True(t, a.Contains(start.Add(time.Hour), end.Add(-time.Hour)))
	assert.False(t, a.Contains(start.Add(-time.Minute), end))
	assert.False(t, a.Contains(start, end.Add(time.Minute)))

	assert.True(t, a.Overlaps(end.Add(-time.Minute), end.Add(time.Hour)))
	assert.False(t, a.Overlaps(end, end.Add(time.Hour)))
}
