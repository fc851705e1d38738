package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/seantis/libres/calendar"
)

// Allocation is a window of time on a resource within which
// reservations may be created.
//
// Allocations with a quota above one form a mirror family: the master
// row (MirrorOf == ID) plus quota-1 mirror rows sharing its temporal
// bounds. Each family member carries its own reserved slots, which is
// how the quota is distributed. Within a single resource, masters never
// overlap.
type Allocation struct {
	ID               int64
	Resource         uuid.UUID
	MirrorOf         int64 // equals ID on masters, the master's id on mirrors
	Group            uuid.UUID
	Quota            int
	QuotaLimit       int // 0 = unlimited per reservation
	PartlyAvailable  bool
	ApproveManually  bool
	WaitinglistSpots *int
	Timezone         string
	Start            time.Time // UTC, half-open [Start, End)
	End              time.Time
	Raster           int
	Data             json.RawMessage
	Created          time.Time
	Modified         time.Time
}

// IsMaster reports whether this allocation heads its mirror family.
func (a *Allocation) IsMaster() bool {
	return a.MirrorOf == a.ID
}

// Location resolves the allocation's IANA timezone. Falls back to UTC
// if the name cannot be loaded.
func (a *Allocation) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DisplayStart returns the start in the allocation's timezone.
func (a *Allocation) DisplayStart() time.Time {
	return a.Start.In(a.Location())
}

// DisplayEnd returns the end in the allocation's timezone.
func (a *Allocation) DisplayEnd() time.Time {
	return a.End.In(a.Location())
}

// WholeDay reports whether the allocation spans one or more whole local
// days.
func (a *Allocation) WholeDay() bool {
	return calendar.IsWholeDay(a.Start, a.End, a.Location())
}

// Overlaps reports whether [start, end) shares any instant with the
// allocation.
func (a *Allocation) Overlaps(start, end time.Time) bool {
	return calendar.Overlaps(start, end, a.Start, a.End)
}

// Contains reports whether [start, end) lies fully inside the
// allocation.
func (a *Allocation) Contains(start, end time.Time) bool {
	return !start.Before(a.Start) && !end.After(a.End) && start.Before(end)
}

// AlignDates clamps [start, end) to the allocation's bounds. Zero
// values select the corresponding bound.
func (a *Allocation) AlignDates(start, end time.Time) (time.Time, time.Time) {
	if start.IsZero() || start.Before(a.Start) {
		start = a.Start
	}
	if end.IsZero() || end.After(a.End) {
		end = a.End
	}
	return start, end
}

// AllSlots returns the atomic units of capacity within [start, end),
// reserved or free. Partly available allocations yield one span per
// raster tick; everything else is a single span covering the whole
// allocation.
func (a *Allocation) AllSlots(start, end time.Time) []calendar.Span {
	start, end = a.AlignDates(start, end)

	if a.PartlyAvailable {
		return calendar.IterateSpan(start, end, a.Raster)
	}
	return []calendar.Span{{Start: a.Start, End: a.End}}
}

// CountSlots returns the number of atomic units within [start, end).
func (a *Allocation) CountSlots(start, end time.Time) int {
	if !a.PartlyAvailable {
		return 1
	}
	start, end = a.AlignDates(start, end)
	return int(end.Sub(start) / (time.Duration(a.Raster) * time.Minute))
}

// IsAvailable reports whether every slot in [start, end) is free, given
// the set of reserved slot start times for this allocation. Zero values
// select the allocation's own bounds.
func (a *Allocation) IsAvailable(start, end time.Time, reserved map[time.Time]bool) bool {
	for _, slot := range a.AllSlots(start, end) {
		if reserved[slot.Start] {
			return false
		}
	}
	return true
}

// Availability returns the free percentage of the allocation given its
// reserved slots.
func (a *Allocation) Availability(slots []*ReservedSlot) float64 {
	total := a.CountSlots(time.Time{}, time.Time{})
	used := len(slots)

	if used >= total {
		return 0.0
	}
	if used == 0 {
		return 100.0
	}

	return 100.0 - float64(used)/float64(total)*100.0
}

// NormalizedAvailability is Availability with DST transition days
// scaled as if they had 24 hours, so a renderer's uniform day grid
// shows consistent percentages. Non-partly-available allocations and
// days without a transition are unaffected.
func (a *Allocation) NormalizedAvailability(slots []*ReservedSlot) float64 {
	if !a.PartlyAvailable {
		return a.Availability(slots)
	}

	loc := a.Location()
	shift := calendar.DayShift(a.Start, loc)
	if shift == 0 {
		return a.Availability(slots)
	}

	tick := time.Duration(a.Raster) * time.Minute
	total := int(calendar.Day / tick)

	var used int
	if shift > 0 {
		// fall-back day: ignore slots inside the repeated hour
		transition, ok := calendar.TransitionHour(a.Start, loc)
		for _, s := range slots {
			if ok && !s.Start.Before(transition) && s.Start.Before(transition.Add(shift)) {
				continue
			}
			used++
		}
	} else {
		// spring-forward day: the skipped hour counts as used
		used = len(slots) + int(-shift/tick)
	}

	if used == 0 {
		return 100.0
	}
	if used >= total {
		return 0.0
	}

	return 100.0 - float64(used)/float64(total)*100.0
}

// Partition is a block of consecutive slots sharing a reserved state,
// sized as a percentage of the whole allocation.
type Partition struct {
	Percent  float64
	Reserved bool
}

// AvailabilityPartitions divides the allocation into ordered blocks of
// free and reserved time for rendering. With normalizeDST, transition
// days are padded or trimmed to a uniform 24 hour grid: the skipped
// hour shows as reserved, the repeated hour is collapsed.
func (a *Allocation) AvailabilityPartitions(slots []*ReservedSlot, normalizeDST bool) []Partition {
	if len(slots) == 0 && !(normalizeDST && a.PartlyAvailable && calendar.DayShift(a.Start, a.Location()) != 0) {
		return []Partition{{Percent: 100.0, Reserved: false}}
	}

	reserved := make(map[time.Time]bool, len(slots))
	for _, s := range slots {
		reserved[s.Start] = true
	}

	pieces := a.normalizedPieces(reserved, normalizeDST)
	if len(pieces) == 0 {
		return []Partition{{Percent: 100.0, Reserved: false}}
	}

	step := 100.0 / float64(len(pieces))

	var partitions []Partition
	total := 0.0
	for i := 0; i < len(pieces); {
		j := i
		for j < len(pieces) && pieces[j] == pieces[i] {
			j++
		}
		pct := float64(j-i) * step
		partitions = append(partitions, Partition{Percent: pct, Reserved: pieces[i]})
		total += pct
		i = j
	}

	// push any float rounding error into the last block
	partitions[len(partitions)-1].Percent -= total - 100.0

	return partitions
}

// normalizedPieces returns one reserved-flag per slot, normalized to a
// 24h grid when requested.
func (a *Allocation) normalizedPieces(reserved map[time.Time]bool, normalizeDST bool) []bool {
	slots := a.AllSlots(time.Time{}, time.Time{})

	if !normalizeDST || !a.PartlyAvailable {
		pieces := make([]bool, len(slots))
		for i, s := range slots {
			pieces[i] = reserved[s.Start]
		}
		return pieces
	}

	loc := a.Location()
	shift := calendar.DayShift(a.Start, loc)
	if shift == 0 {
		pieces := make([]bool, len(slots))
		for i, s := range slots {
			pieces[i] = reserved[s.Start]
		}
		return pieces
	}

	tick := time.Duration(a.Raster) * time.Minute
	transition, _ := calendar.TransitionHour(a.Start, loc)

	var pieces []bool
	if shift > 0 {
		// fall-back day: drop the repeated hour's slots
		skip := int(shift / tick)
		for _, s := range slots {
			if skip > 0 && !s.Start.Before(transition) {
				skip--
				continue
			}
			pieces = append(pieces, reserved[s.Start])
		}
	} else {
		// spring-forward day: insert the non-existent hour as reserved
		for _, s := range slots {
			if s.Start.Equal(transition) {
				for n := 0; n < int(-shift/tick); n++ {
					pieces = append(pieces, true)
				}
			}
			pieces = append(pieces, reserved[s.Start])
		}
	}

	return pieces
}
