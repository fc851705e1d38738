// Package events provides the named publish points the scheduler fires
// after state transitions. Listeners run synchronously inside the
// surrounding transaction, in registration order; they must not block
// indefinitely.
package events

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/seantis/libres/model"
)

// AllocationListener receives allocations affected by a transition.
type AllocationListener func(ctx context.Context, allocations []*model.Allocation)

// ReservationListener receives reservations affected by a transition.
type ReservationListener func(ctx context.Context, reservations []*model.Reservation)

// SessionListener receives the reservations of a confirmed session
// cart along with the session id.
type SessionListener func(ctx context.Context, reservations []*model.Reservation, sessionID uuid.UUID)

// SlotListener receives reserved slots that were written or released.
type SlotListener func(ctx context.Context, slots []*model.ReservedSlot)

// Hub holds the listeners of one context. The zero value is ready to
// use.
type Hub struct {
	mu sync.RWMutex

	allocationsAdded      []AllocationListener
	reservationsMade      []ReservationListener
	reservationsApproved  []ReservationListener
	reservationsDenied    []ReservationListener
	reservationsRemoved   []ReservationListener
	reservationsConfirmed []SessionListener
	slotsReserved         []SlotListener
	slotsReleased         []SlotListener
}

func (h *Hub) OnAllocationsAdded(fn AllocationListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allocationsAdded = append(h.allocationsAdded, fn)
}

func (h *Hub) OnReservationsMade(fn ReservationListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reservationsMade = append(h.reservationsMade, fn)
}

func (h *Hub) OnReservationsApproved(fn ReservationListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reservationsApproved = append(h.reservationsApproved, fn)
}

func (h *Hub) OnReservationsDenied(fn ReservationListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reservationsDenied = append(h.reservationsDenied, fn)
}

func (h *Hub) OnReservationsRemoved(fn ReservationListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reservationsRemoved = append(h.reservationsRemoved, fn)
}

func (h *Hub) OnReservationsConfirmed(fn SessionListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reservationsConfirmed = append(h.reservationsConfirmed, fn)
}

func (h *Hub) OnReservedSlotsReserved(fn SlotListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slotsReserved = append(h.slotsReserved, fn)
}

func (h *Hub) OnReservedSlotsReleased(fn SlotListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slotsReleased = append(h.slotsReleased, fn)
}

// AllocationsAdded fires after allocations were written.
func (h *Hub) AllocationsAdded(ctx context.Context, allocations []*model.Allocation) {
	h.mu.RLock()
	listeners := h.allocationsAdded
	h.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, allocations)
	}
}

// ReservationsMade fires after pending reservations were created.
func (h *Hub) ReservationsMade(ctx context.Context, reservations []*model.Reservation) {
	h.mu.RLock()
	listeners := h.reservationsMade
	h.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, reservations)
	}
}

// ReservationsApproved fires after reservations were promoted and
// their slots written.
func (h *Hub) ReservationsApproved(ctx context.Context, reservations []*model.Reservation) {
	h.mu.RLock()
	listeners := h.reservationsApproved
	h.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, reservations)
	}
}

// ReservationsDenied fires after pending reservations were denied.
func (h *Hub) ReservationsDenied(ctx context.Context, reservations []*model.Reservation) {
	h.mu.RLock()
	listeners := h.reservationsDenied
	h.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, reservations)
	}
}

// ReservationsRemoved fires after reservations and their slots were
// deleted.
func (h *Hub) ReservationsRemoved(ctx context.Context, reservations []*model.Reservation) {
	h.mu.RLock()
	listeners := h.reservationsRemoved
	h.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, reservations)
	}
}

// ReservationsConfirmed fires after a session cart was detached from
// its session.
func (h *Hub) ReservationsConfirmed(ctx context.Context, reservations []*model.Reservation, sessionID uuid.UUID) {
	h.mu.RLock()
	listeners := h.reservationsConfirmed
	h.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, reservations, sessionID)
	}
}

// ReservedSlotsReserved fires after slots were written on approval.
func (h *Hub) ReservedSlotsReserved(ctx context.Context, slots []*model.ReservedSlot) {
	h.mu.RLock()
	listeners := h.slotsReserved
	h.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, slots)
	}
}

// ReservedSlotsReleased fires after slots were deleted.
func (h *Hub) ReservedSlotsReleased(ctx context.Context, slots []*model.ReservedSlot) {
	h.mu.RLock()
	listeners := h.slotsReleased
	h.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, slots)
	}
}
