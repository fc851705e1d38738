package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seantis/libres/model"
	"github.com/seantis/libres/repository"
	"github.com/seantis/libres/session"
)

// ChangeReservation moves one allocation-targeted line of the token to
// a new range, optionally with a new quota. Approved lines release
// their slots and claim the new ones inside the same transaction, so
// the change is atomic. Returns false when the request matches the
// current state.
func (s *Scheduler) ChangeReservation(ctx context.Context, token uuid.UUID, id int64, newStart, newEnd time.Time, newQuota *int) (bool, error) {
	changed := false

	err := s.serialized(ctx, func(ctx context.Context, db session.DB) error {
		reservations := repository.NewReservationRepository(db)
		allocs := repository.NewAllocationRepository(db)

		line, err := reservations.OneByToken(ctx, token, &id)
		if err != nil {
			return err
		}
		if line == nil {
			return model.ErrInvalidReservationToken
		}
		if line.TargetType != model.TargetTypeAllocation {
			return model.ErrReservationParametersInvalid
		}

		quota := line.Quota
		if newQuota != nil {
			quota = *newQuota
		}
		if quota < 1 {
			return model.ErrInvalidQuota
		}

		start, end := newStart.UTC(), newEnd.UTC()
		curStart, curEnd := line.Timespan()
		if curStart.Equal(start) && curEnd.Equal(end) && quota == line.Quota {
			changed = false
			return nil
		}

		var master *model.Allocation
		candidates, err := allocs.ByGroup(ctx, s.resource, line.Target, true)
		if err != nil {
			return err
		}
		for _, candidate := range candidates {
			if candidate.Contains(start, end) {
				master = candidate
				break
			}
		}
		if master == nil {
			return &model.ReservationError{Reservation: line, Err: model.ErrReservationOutOfBounds}
		}

		if err := s.validateSpan(master, start, end); err != nil {
			return &model.ReservationError{Reservation: line, Err: err}
		}
		if err := s.checkQuota(master, quota); err != nil {
			return &model.ReservationError{Reservation: line, Err: err}
		}

		wasApproved := line.Status == model.ReservationStatusApproved

		if wasApproved {
			released, err := s.releaseLineSlots(ctx, db, line)
			if err != nil {
				return err
			}
			if s.hub != nil && len(released) > 0 {
				s.hub.ReservedSlotsReleased(ctx, released)
			}
		}

		if err := reservations.UpdateTimespan(ctx, line.ID, start, end); err != nil {
			return err
		}
		if quota != line.Quota {
			if err := reservations.UpdateQuota(ctx, line.ID, quota); err != nil {
				return err
			}
		}

		if wasApproved {
			written, err := s.writeSlots(ctx, db, master, start, end, quota, token)
			if err != nil {
				return &model.ReservationError{Reservation: line, Err: err}
			}
			if s.hub != nil {
				s.hub.ReservedSlotsReserved(ctx, written)
			}
		}

		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if changed {
		s.logger.Info("reservation changed",
			zap.String("resource", s.resource.String()),
			zap.String("token", token.String()),
			zap.Int64("reservation_id", id),
		)
	}

	return changed, nil
}

// ChangeEmail rewrites the reservee address on every line of the token.
func (s *Scheduler) ChangeEmail(ctx context.Context, token uuid.UUID, email string) error {
	if !s.rctx.ValidateEmail(email) {
		return model.ErrInvalidEmailAddress
	}

	return s.serialized(ctx, func(ctx context.Context, db session.DB) error {
		updated, err := repository.NewReservationRepository(db).UpdateEmail(ctx, token, email)
		if err != nil {
			return err
		}
		if updated == 0 {
			return model.ErrInvalidReservationToken
		}
		return nil
	})
}

// ChangeReservationData replaces the opaque data blob of one line.
func (s *Scheduler) ChangeReservationData(ctx context.Context, token uuid.UUID, id int64, data []byte) error {
	return s.serialized(ctx, func(ctx context.Context, db session.DB) error {
		reservations := repository.NewReservationRepository(db)

		line, err := reservations.OneByToken(ctx, token, &id)
		if err != nil {
			return err
		}
		if line == nil {
			return model.ErrInvalidReservationToken
		}

		return reservations.UpdateData(ctx, line.ID, data)
	})
}
