package model

import (
	"time"

	"github.com/google/uuid"
)

// ReservedSlot is a confirmed atomic unit of consumed capacity inside
// an allocation. Its primary key (resource, allocation_id, start) is
// the race-prevention primitive: two transactions confirming
// overlapping capacity collide on the key and exactly one wins.
type ReservedSlot struct {
	Resource         uuid.UUID
	AllocationID     int64
	Start            time.Time // UTC, raster-aligned when partly available
	End              time.Time
	ReservationToken uuid.UUID
}

// Key identifies the slot within its table.
func (s *ReservedSlot) Key() (uuid.UUID, int64, time.Time) {
	return s.Resource, s.AllocationID, s.Start
}
