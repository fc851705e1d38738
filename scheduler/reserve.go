package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seantis/libres/calendar"
	"github.com/seantis/libres/model"
	"github.com/seantis/libres/repository"
	"github.com/seantis/libres/session"
)

// ReserveOptions configure a Reserve call. Exactly one of Dates and
// Group must be set.
type ReserveOptions struct {
	// Dates are the requested half-open UTC ranges, each covered by one
	// allocation on this resource.
	Dates []calendar.Span

	// Group targets a group key instead; the engine picks a member
	// allocation with free capacity at approval time.
	Group uuid.UUID

	// Quota is the number of spots the reservation claims. Defaults
	// to 1.
	Quota int

	// SessionID ties the reservation to a browser session cart.
	SessionID *uuid.UUID

	// SingleTokenPerSession reuses the token already present in the
	// session's cart instead of minting a new one.
	SingleTokenPerSession bool

	// Data is an opaque blob stored with each reservation line.
	Data json.RawMessage
}

// Reserve creates one pending reservation per requested line and
// returns the shared token. Lines targeting allocations that need no
// manual approval are approved immediately, writing their slots.
func (s *Scheduler) Reserve(ctx context.Context, email string, opts ReserveOptions) (uuid.UUID, error) {
	if !s.rctx.ValidateEmail(email) {
		return uuid.Nil, model.ErrInvalidEmailAddress
	}

	if opts.Quota == 0 {
		opts.Quota = 1
	}
	if opts.Quota < 1 {
		return uuid.Nil, model.ErrInvalidQuota
	}

	if (len(opts.Dates) == 0) == (opts.Group == uuid.Nil) {
		return uuid.Nil, model.ErrReservationParametersInvalid
	}

	var (
		token   uuid.UUID
		created []*model.Reservation
	)

	err := s.serialized(ctx, func(ctx context.Context, db session.DB) error {
		created = created[:0]

		reservations := repository.NewReservationRepository(db)

		var cart []*model.Reservation
		if opts.SessionID != nil {
			var err error
			cart, err = reservations.BySession(ctx, *opts.SessionID)
			if err != nil {
				return err
			}
		}

		token = uuid.New()
		if opts.SingleTokenPerSession && len(cart) > 0 {
			token = cart[0].Token
		}

		lines, err := s.buildLines(ctx, db, email, token, opts)
		if err != nil {
			return err
		}

		autoApprove := true
		for i, line := range lines {
			if line.Type == model.ReservationTypeWaitinglist {
				autoApprove = false
			}
			for _, existing := range cart {
				if line.SameLine(existing) {
					return &model.ReservationError{Reservation: existing, Err: model.ErrAlreadyReserved}
				}
			}
			for _, prior := range lines[:i] {
				if line.SameLine(prior) {
					return &model.ReservationError{Reservation: prior, Err: model.ErrAlreadyReserved}
				}
			}
		}

		for _, line := range lines {
			if err := reservations.Create(ctx, line); err != nil {
				return err
			}
			created = append(created, line)
		}

		if s.hub != nil {
			s.hub.ReservationsMade(ctx, created)
		}

		// only the new lines are approved, the reused token may still
		// carry pending waitinglist lines from earlier cart entries
		if autoApprove {
			if _, err := s.approveLines(ctx, db, token, created); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.logger.Info("reservations made",
		zap.String("resource", s.resource.String()),
		zap.String("token", token.String()),
		zap.Int("lines", len(created)),
	)

	return token, nil
}

// buildLines validates the request and produces the reservation rows to
// insert, without writing anything.
func (s *Scheduler) buildLines(ctx context.Context, db session.DB, email string, token uuid.UUID, opts ReserveOptions) ([]*model.Reservation, error) {
	allocs := repository.NewAllocationRepository(db)

	var lines []*model.Reservation

	if opts.Group != uuid.Nil {
		masters, err := allocs.ByGroup(ctx, s.resource, opts.Group, true)
		if err != nil {
			return nil, err
		}
		if len(masters) == 0 {
			return nil, model.ErrNotReservable
		}

		if err := s.checkQuota(masters[0], opts.Quota); err != nil {
			return nil, err
		}

		rtype := model.ReservationTypeFree
		if masters[0].ApproveManually {
			rtype = model.ReservationTypeWaitinglist
		} else {
			free := false
			for _, master := range masters {
				spots, err := s.freeSpots(ctx, db, master, master.Start, master.End)
				if err != nil {
					return nil, err
				}
				if spots >= opts.Quota {
					free = true
					break
				}
			}
			if !free {
				return nil, model.ErrAlreadyReserved
			}
		}

		lines = append(lines, &model.Reservation{
			Token:      token,
			Target:     opts.Group,
			TargetType: model.TargetTypeGroup,
			Resource:   s.resource,
			Timezone:   s.timezone,
			Quota:      opts.Quota,
			Status:     model.ReservationStatusPending,
			Type:       rtype,
			Email:      email,
			SessionID:  opts.SessionID,
			Data:       opts.Data,
		})

		return lines, nil
	}

	for _, span := range opts.Dates {
		start, end := span.Start.UTC(), span.End.UTC()

		masters, err := allocs.MastersInRange(ctx, s.resource, start, end)
		if err != nil {
			return nil, err
		}
		if len(masters) == 0 {
			return nil, model.ErrNotReservable
		}
		master := masters[0]

		if err := s.validateSpan(master, start, end); err != nil {
			return nil, err
		}
		if err := s.checkQuota(master, opts.Quota); err != nil {
			return nil, err
		}

		rtype := model.ReservationTypeFree
		if master.ApproveManually {
			rtype = model.ReservationTypeWaitinglist

			if master.WaitinglistSpots != nil {
				reservations := repository.NewReservationRepository(db)
				waiting, err := reservations.ByTarget(ctx, s.resource, master.Group, true)
				if err != nil {
					return nil, err
				}
				if len(waiting) >= *master.WaitinglistSpots {
					return nil, model.ErrAlreadyReserved
				}
			}
		} else {
			spots, err := s.freeSpots(ctx, db, master, start, end)
			if err != nil {
				return nil, err
			}
			if spots < opts.Quota {
				return nil, model.ErrAlreadyReserved
			}
		}

		lineStart, lineEnd := start, end
		lines = append(lines, &model.Reservation{
			Token:      token,
			Target:     master.Group,
			TargetType: model.TargetTypeAllocation,
			Resource:   s.resource,
			Start:      &lineStart,
			End:        &lineEnd,
			Timezone:   s.timezone,
			Quota:      opts.Quota,
			Status:     model.ReservationStatusPending,
			Type:       rtype,
			Email:      email,
			SessionID:  opts.SessionID,
			Data:       opts.Data,
		})
	}

	return lines, nil
}

// validateSpan checks a requested range against the covering
// allocation.
func (s *Scheduler) validateSpan(master *model.Allocation, start, end time.Time) error {
	if !master.Contains(start, end) {
		return model.ErrReservationOutOfBounds
	}

	if !master.PartlyAvailable {
		if !start.Equal(master.Start) || !end.Equal(master.End) {
			return model.ErrReservationParametersInvalid
		}
	} else {
		if !calendar.OnRaster(start, master.Raster) || !calendar.OnRaster(end, master.Raster) {
			return model.ErrReservationParametersInvalid
		}
	}

	// whole windows may exceed 24h on DST fall-back days
	fullSpan := start.Equal(master.Start) && end.Equal(master.End)
	if end.Sub(start) > calendar.Day && !fullSpan {
		return model.ErrReservationTooLong
	}

	return nil
}

func (s *Scheduler) checkQuota(master *model.Allocation, quota int) error {
	if master.QuotaLimit > 0 && quota > master.QuotaLimit {
		return model.ErrQuotaOverLimit
	}
	if quota > master.Quota {
		return model.ErrQuotaImpossible
	}
	return nil
}

// freeSpots counts the members of the master's family that are fully
// free over [start, end).
func (s *Scheduler) freeSpots(ctx context.Context, db session.DB, master *model.Allocation, start, end time.Time) (int, error) {
	allocs := repository.NewAllocationRepository(db)
	slots := repository.NewSlotRepository(db)

	family, err := allocs.Family(ctx, s.resource, master.ID)
	if err != nil {
		return 0, err
	}

	memberIDs := make([]int64, len(family))
	for i, member := range family {
		memberIDs[i] = member.ID
	}
	familySlots, err := slots.ByAllocations(ctx, memberIDs)
	if err != nil {
		return 0, err
	}

	spots := 0
	for _, member := range family {
		reserved := make(map[time.Time]bool)
		for _, slot := range familySlots[member.ID] {
			reserved[slot.Start] = true
		}
		if member.IsAvailable(start, end, reserved) {
			spots++
		}
	}

	return spots, nil
}
