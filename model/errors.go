package model

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the engine. Scheduler operations return
// these (possibly wrapped in a ReservationError) so callers can match
// with errors.Is.
var (
	// ErrAlreadyReserved is returned when a reserved slot primary key
	// collides on approval, when a reserve request finds no free spot,
	// or when the same line is added to a session cart twice.
	ErrAlreadyReserved = errors.New("already reserved")

	// ErrNotReservable is returned when no allocation covers the
	// requested range.
	ErrNotReservable = errors.New("no allocation covers the requested range")

	// ErrInvalidAllocation is returned for allocate requests with empty
	// or inverted ranges, internal overlaps, or incompatible flags.
	ErrInvalidAllocation = errors.New("invalid allocation")

	// ErrInvalidEmailAddress is returned when the reservee email fails
	// validation.
	ErrInvalidEmailAddress = errors.New("invalid email address")

	ErrReservationTooLong           = errors.New("reservation exceeds 24 hours")
	ErrReservationOutOfBounds       = errors.New("reservation outside the allocation")
	ErrReservationParametersInvalid = errors.New("reservation parameters invalid")

	ErrQuotaOverLimit  = errors.New("reservation quota exceeds the allocation quota limit")
	ErrQuotaImpossible = errors.New("reservation quota exceeds the allocation quota")
	ErrInvalidQuota    = errors.New("reservation quota must be at least one")

	// ErrInvalidReservationToken is returned when a token matches no
	// reservation.
	ErrInvalidReservationToken = errors.New("unknown reservation token")

	// ErrNoReservationsToConfirm is returned when a session cart holds
	// nothing to confirm.
	ErrNoReservationsToConfirm = errors.New("no reservations to confirm")

	// ErrDirtyReadOnlySession is returned when the read-only session is
	// queried while the write session holds uncommitted changes.
	ErrDirtyReadOnlySession = errors.New("read-only session used while the write session is dirty")

	// ErrModifiedReadOnlySession is returned when a write is attempted
	// on the read-only session.
	ErrModifiedReadOnlySession = errors.New("write attempted on the read-only session")

	// ErrTransactionRollback is returned once the serializable retry
	// budget is exhausted.
	ErrTransactionRollback = errors.New("serializable transaction retries exhausted")
)

// OverlappingAllocationError is returned when a new or moved master
// allocation would overlap an existing one.
type OverlappingAllocationError struct {
	Start    time.Time
	End      time.Time
	Existing *Allocation
}

func (e *OverlappingAllocationError) Error() string {
	return fmt.Sprintf(
		"allocation %s - %s overlaps existing allocation %d",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.Existing.ID,
	)
}

// AffectedReservationError is returned when a destructive operation
// would lose confirmed capacity.
type AffectedReservationError struct {
	Slot *ReservedSlot
}

func (e *AffectedReservationError) Error() string {
	if e.Slot == nil {
		return "operation affects a confirmed reservation"
	}
	return fmt.Sprintf(
		"operation affects reserved slot of reservation %s at %s",
		e.Slot.ReservationToken, e.Slot.Start.Format(time.RFC3339),
	)
}

// AffectedPendingReservationError is returned when a destructive
// operation would lose a pending reservation.
type AffectedPendingReservationError struct {
	Reservation *Reservation
}

func (e *AffectedPendingReservationError) Error() string {
	if e.Reservation == nil {
		return "operation affects a pending reservation"
	}
	return fmt.Sprintf("operation affects pending reservation %d", e.Reservation.ID)
}

// ReservationError attaches the offending reservation to an error that
// arose while handling it. Unwrap exposes the underlying kind.
type ReservationError struct {
	Reservation *Reservation
	Err         error
}

func (e *ReservationError) Error() string {
	if e.Reservation == nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("reservation %s: %v", e.Reservation.Token, e.Err)
}

func (e *ReservationError) Unwrap() error {
	return e.Err
}
