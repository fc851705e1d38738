package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seantis/libres/model"
	"github.com/seantis/libres/repository"
	"github.com/seantis/libres/session"
)

// ApproveReservations promotes every pending line of the token to
// approved, writing its reserved slots, and returns the approved
// reservations. A slot collision with a concurrent or earlier
// reservation fails the whole call with an AlreadyReserved error
// carrying the offending line.
func (s *Scheduler) ApproveReservations(ctx context.Context, token uuid.UUID) ([]*model.Reservation, error) {
	var approved []*model.Reservation

	err := s.serialized(ctx, func(ctx context.Context, db session.DB) error {
		var err error
		approved, err = s.approveToken(ctx, db, token)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservations approved",
		zap.String("resource", s.resource.String()),
		zap.String("token", token.String()),
		zap.Int("lines", len(approved)),
	)

	return approved, nil
}

// approveToken promotes every pending line of the token inside an open
// transaction.
func (s *Scheduler) approveToken(ctx context.Context, db session.DB, token uuid.UUID) ([]*model.Reservation, error) {
	lines, err := repository.NewReservationRepository(db).ByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, model.ErrInvalidReservationToken
	}

	return s.approveLines(ctx, db, token, lines)
}

// approveLines promotes the given pending lines, writing their slots.
// Reserve calls it with only the lines it just created, so a reused
// session token never drags older waitinglist lines into approval.
func (s *Scheduler) approveLines(ctx context.Context, db session.DB, token uuid.UUID, lines []*model.Reservation) ([]*model.Reservation, error) {
	reservations := repository.NewReservationRepository(db)

	var (
		approved []*model.Reservation
		written  []*model.ReservedSlot
	)

	for _, line := range lines {
		if !line.IsPending() {
			continue
		}

		master, start, end, err := s.resolveTarget(ctx, db, line)
		if err != nil {
			return nil, err
		}

		slots, err := s.writeSlots(ctx, db, master, start, end, line.Quota, token)
		if err != nil {
			// ReservationError unwraps, so retry detection and
			// errors.Is both see through it
			return nil, &model.ReservationError{Reservation: line, Err: err}
		}

		written = append(written, slots...)
		line.Status = model.ReservationStatusApproved
		line.SessionID = nil
		approved = append(approved, line)
	}

	if len(approved) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(approved))
	for i, line := range approved {
		ids[i] = line.ID
	}
	if _, err := reservations.UpdateStatusByIDs(ctx, ids, model.ReservationStatusPending, model.ReservationStatusApproved); err != nil {
		return nil, err
	}

	if s.hub != nil {
		s.hub.ReservedSlotsReserved(ctx, written)
		s.hub.ReservationsApproved(ctx, approved)
	}

	return approved, nil
}

// resolveTarget finds the concrete allocation a reservation line claims
// capacity from, along with the claimed range. Group targets pick the
// free member allocation with the smallest id.
func (s *Scheduler) resolveTarget(ctx context.Context, db session.DB, line *model.Reservation) (*model.Allocation, time.Time, time.Time, error) {
	allocs := repository.NewAllocationRepository(db)

	masters, err := allocs.ByGroup(ctx, s.resource, line.Target, true)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	if len(masters) == 0 {
		return nil, time.Time{}, time.Time{}, &model.ReservationError{Reservation: line, Err: model.ErrNotReservable}
	}

	if line.TargetType == model.TargetTypeAllocation {
		start, end := line.Timespan()
		for _, master := range masters {
			if master.Contains(start, end) {
				return master, start, end, nil
			}
		}
		return nil, time.Time{}, time.Time{}, &model.ReservationError{Reservation: line, Err: model.ErrNotReservable}
	}

	sort.Slice(masters, func(i, j int) bool { return masters[i].ID < masters[j].ID })

	for _, master := range masters {
		spots, err := s.freeSpots(ctx, db, master, master.Start, master.End)
		if err != nil {
			return nil, time.Time{}, time.Time{}, err
		}
		if spots >= line.Quota {
			return master, master.Start, master.End, nil
		}
	}

	return nil, time.Time{}, time.Time{}, &model.ReservationError{Reservation: line, Err: model.ErrAlreadyReserved}
}

// writeSlots claims quota spots over [start, end) in the master's
// family. Spots are placed on the family members with the smallest ids
// that are free for the whole range; the reserved-slot primary key
// catches anything a stale read missed.
func (s *Scheduler) writeSlots(ctx context.Context, db session.DB, master *model.Allocation, start, end time.Time, quota int, token uuid.UUID) ([]*model.ReservedSlot, error) {
	allocs := repository.NewAllocationRepository(db)
	slotRepo := repository.NewSlotRepository(db)

	family, err := allocs.Family(ctx, s.resource, master.ID)
	if err != nil {
		return nil, err
	}

	memberIDs := make([]int64, len(family))
	for i, member := range family {
		memberIDs[i] = member.ID
	}
	familySlots, err := slotRepo.ByAllocations(ctx, memberIDs)
	if err != nil {
		return nil, err
	}

	var chosen []*model.Allocation
	for _, member := range family {
		if len(chosen) == quota {
			break
		}
		reserved := make(map[time.Time]bool)
		for _, slot := range familySlots[member.ID] {
			reserved[slot.Start] = true
		}
		if member.IsAvailable(start, end, reserved) {
			chosen = append(chosen, member)
		}
	}
	if len(chosen) < quota {
		return nil, model.ErrAlreadyReserved
	}

	var written []*model.ReservedSlot
	for _, member := range chosen {
		for _, tick := range member.AllSlots(start, end) {
			slot := &model.ReservedSlot{
				Resource:         s.resource,
				AllocationID:     member.ID,
				Start:            tick.Start,
				End:              tick.End,
				ReservationToken: token,
			}
			if err := slotRepo.Insert(ctx, slot); err != nil {
				if session.IsUniqueViolation(err) {
					return nil, model.ErrAlreadyReserved
				}
				return nil, err
			}
			written = append(written, slot)
		}
	}

	return written, nil
}

// DenyReservation deletes the pending lines of the token. Approved
// lines are untouched; removing them takes RemoveReservation.
func (s *Scheduler) DenyReservation(ctx context.Context, token uuid.UUID) error {
	var denied []*model.Reservation

	err := s.serialized(ctx, func(ctx context.Context, db session.DB) error {
		reservations := repository.NewReservationRepository(db)

		lines, err := reservations.ByToken(ctx, token)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return model.ErrInvalidReservationToken
		}

		denied, err = reservations.DeletePending(ctx, token)
		if err != nil {
			return err
		}

		if s.hub != nil && len(denied) > 0 {
			s.hub.ReservationsDenied(ctx, denied)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("reservations denied",
		zap.String("resource", s.resource.String()),
		zap.String("token", token.String()),
		zap.Int("lines", len(denied)),
	)

	return nil
}

// RemoveReservation deletes the reservations of the token, pending or
// approved, releasing any reserved slots they hold. With an id given,
// only that line is removed; its slots are identified through the
// line's target allocation.
func (s *Scheduler) RemoveReservation(ctx context.Context, token uuid.UUID, id *int64) error {
	var (
		removed  []*model.Reservation
		released []*model.ReservedSlot
	)

	err := s.serialized(ctx, func(ctx context.Context, db session.DB) error {
		reservations := repository.NewReservationRepository(db)
		slots := repository.NewSlotRepository(db)

		rows, err := reservations.Delete(ctx, token, id)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return model.ErrInvalidReservationToken
		}
		removed = rows

		remaining, err := reservations.ByToken(ctx, token)
		if err != nil {
			return err
		}

		if len(remaining) == 0 {
			released, err = slots.DeleteByToken(ctx, token, nil)
			if err != nil {
				return err
			}
		} else {
			// other lines of the token survive; release only the
			// removed lines' slots
			for _, line := range removed {
				lineSlots, err := s.releaseLineSlots(ctx, db, line)
				if err != nil {
					return err
				}
				released = append(released, lineSlots...)
			}
		}

		if s.hub != nil {
			if len(released) > 0 {
				s.hub.ReservedSlotsReleased(ctx, released)
			}
			s.hub.ReservationsRemoved(ctx, removed)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("reservations removed",
		zap.String("resource", s.resource.String()),
		zap.String("token", token.String()),
		zap.Int("lines", len(removed)),
		zap.Int("slots_released", len(released)),
	)

	return nil
}

// releaseLineSlots deletes the slots one removed line held within its
// target allocation family.
func (s *Scheduler) releaseLineSlots(ctx context.Context, db session.DB, line *model.Reservation) ([]*model.ReservedSlot, error) {
	allocs := repository.NewAllocationRepository(db)
	slots := repository.NewSlotRepository(db)

	masters, err := allocs.ByGroup(ctx, s.resource, line.Target, true)
	if err != nil {
		return nil, err
	}

	start, end := line.Timespan()

	var released []*model.ReservedSlot
	for _, master := range masters {
		family, err := allocs.Family(ctx, s.resource, master.ID)
		if err != nil {
			return nil, err
		}
		for _, member := range family {
			var rows []*model.ReservedSlot
			if line.TargetType == model.TargetTypeAllocation {
				// other lines of the token may hold slots in the same
				// family, so only the line's own span is released
				rows, err = slots.DeleteRange(ctx, line.Token, member.ID, start, end)
			} else {
				rows, err = slots.DeleteByToken(ctx, line.Token, &member.ID)
			}
			if err != nil {
				return nil, err
			}
			released = append(released, rows...)
		}
	}

	return released, nil
}
