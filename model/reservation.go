package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReservationStatus is the lifecycle state of a reservation. There is
// no way back from approved to pending; terminal states are deletions.
type ReservationStatus string

const (
	ReservationStatusPending  ReservationStatus = "pending"
	ReservationStatusApproved ReservationStatus = "approved"
	ReservationStatusDenied   ReservationStatus = "denied"
)

// TargetType distinguishes reservations aimed at a single allocation
// from those aimed at a group, where the engine picks a member with
// free capacity.
type TargetType string

const (
	TargetTypeAllocation TargetType = "allocation"
	TargetTypeGroup      TargetType = "group"
)

// ReservationType separates regular reservations from waitinglist
// entries on manually approved allocations.
type ReservationType string

const (
	ReservationTypeFree        ReservationType = "free"
	ReservationTypeWaitinglist ReservationType = "waitinglist"
)

// Reservation is a claim by an actor against an allocation or a group.
// Pending reservations live in a session cart and hold no capacity;
// approving one writes the reserved slots. The token is shared across
// all lines reserved together.
type Reservation struct {
	ID         int64
	Token      uuid.UUID
	Target     uuid.UUID // the group key of the targeted allocation(s)
	TargetType TargetType
	Resource   uuid.UUID
	Start      *time.Time // nil for group targets
	End        *time.Time
	Timezone   string
	Quota      int
	Status     ReservationStatus
	Type       ReservationType
	Email      string
	SessionID  *uuid.UUID
	Data       json.RawMessage
	Created    time.Time
	Modified   time.Time
}

// IsPending reports whether the reservation still sits in a cart.
func (r *Reservation) IsPending() bool {
	return r.Status == ReservationStatusPending
}

// Location resolves the reservation's IANA timezone, falling back to
// UTC.
func (r *Reservation) Location() *time.Location {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DisplayStart returns the start in the reservation's timezone. Only
// valid for allocation targets.
func (r *Reservation) DisplayStart() time.Time {
	return r.Start.In(r.Location())
}

// DisplayEnd returns the end in the reservation's timezone. Only valid
// for allocation targets.
func (r *Reservation) DisplayEnd() time.Time {
	return r.End.In(r.Location())
}

// Timespan is the half-open range claimed by an allocation-targeted
// reservation, or zero for group targets (whose span is implied by the
// resolved allocation).
func (r *Reservation) Timespan() (start, end time.Time) {
	if r.Start == nil || r.End == nil {
		return time.Time{}, time.Time{}
	}
	return *r.Start, *r.End
}

// SameLine reports whether the other reservation describes the same
// cart line: same resource, target, span and quota. Re-adding such a
// line to a session cart is rejected.
func (r *Reservation) SameLine(other *Reservation) bool {
	if r.Resource != other.Resource || r.Target != other.Target || r.Quota != other.Quota {
		return false
	}

	rs, re := r.Timespan()
	os, oe := other.Timespan()
	return rs.Equal(os) && re.Equal(oe)
}
