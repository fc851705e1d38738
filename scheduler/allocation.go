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

// AllocationChanges lists the non-temporal attributes ChangeAllocation
// may modify. Nil fields are left untouched.
type AllocationChanges struct {
	Quota            *int
	QuotaLimit       *int
	ApproveManually  *bool
	WaitinglistSpots *int
	Data             *json.RawMessage
}

// ChangeAllocation modifies the non-temporal attributes of the master
// allocation with the given id and of its mirrors. Shrinking the quota
// below the number of family members holding reserved slots fails with
// an AffectedReservationError.
func (s *Scheduler) ChangeAllocation(ctx context.Context, id int64, changes AllocationChanges) error {
	err := s.serialized(ctx, func(ctx context.Context, db session.DB) error {
		allocs := repository.NewAllocationRepository(db)

		master, err := allocs.GetByID(ctx, s.resource, id)
		if err != nil {
			return err
		}
		if master == nil || !master.IsMaster() {
			return model.ErrInvalidAllocation
		}

		family, err := allocs.Family(ctx, s.resource, master.ID)
		if err != nil {
			return err
		}

		if changes.Quota != nil {
			family, err = s.changeQuota(ctx, db, master, family, *changes.Quota)
			if err != nil {
				return err
			}
		}

		for _, member := range family {
			if changes.QuotaLimit != nil {
				member.QuotaLimit = *changes.QuotaLimit
			}
			if changes.ApproveManually != nil {
				member.ApproveManually = *changes.ApproveManually
			}
			if changes.WaitinglistSpots != nil {
				member.WaitinglistSpots = changes.WaitinglistSpots
			}
			if changes.Data != nil {
				member.Data = *changes.Data
			}
			if err := allocs.Update(ctx, member); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("allocation changed",
		zap.String("resource", s.resource.String()),
		zap.Int64("allocation_id", id),
	)

	return nil
}

// changeQuota grows or shrinks the mirror family to the new quota and
// returns the resulting family. Only slot-free mirrors are removed when
// shrinking.
func (s *Scheduler) changeQuota(ctx context.Context, db session.DB, master *model.Allocation, family []*model.Allocation, quota int) ([]*model.Allocation, error) {
	if quota < 1 {
		return nil, model.ErrInvalidAllocation
	}

	allocs := repository.NewAllocationRepository(db)
	slots := repository.NewSlotRepository(db)

	for quota > len(family) {
		mirror := *master
		mirror.ID = 0
		mirror.MirrorOf = master.ID
		mirror.Quota = quota
		if err := allocs.Create(ctx, &mirror); err != nil {
			return nil, err
		}
		family = append(family, &mirror)
	}

	if quota < len(family) {
		used, err := slots.FamilyMembersWithSlots(ctx, s.resource, master.ID)
		if err != nil {
			return nil, err
		}
		inUse := make(map[int64]bool, len(used))
		for _, id := range used {
			inUse[id] = true
		}

		var removable []int64
		for i := len(family) - 1; i > 0; i-- {
			if !inUse[family[i].ID] {
				removable = append(removable, family[i].ID)
			}
		}

		excess := len(family) - quota
		if len(removable) < excess {
			return nil, &model.AffectedReservationError{}
		}

		removed := make(map[int64]bool, excess)
		for _, id := range removable[:excess] {
			removed[id] = true
		}
		if _, err := allocs.Delete(ctx, s.resource, removable[:excess]); err != nil {
			return nil, err
		}

		kept := family[:0]
		for _, member := range family {
			if !removed[member.ID] {
				kept = append(kept, member)
			}
		}
		family = kept
	}

	for _, member := range family {
		member.Quota = quota
	}

	return family, nil
}

// MoveAllocation changes the temporal bounds of a master allocation and
// its mirrors, optionally adjusting the quota. The move is rejected if
// any reserved slot would fall outside the new range or if the new
// range overlaps another master. Full-span reservations follow the
// move, approved ones together with their slots.
func (s *Scheduler) MoveAllocation(ctx context.Context, id int64, newStart, newEnd time.Time, newQuota *int) error {
	if !newStart.Before(newEnd) {
		return model.ErrInvalidAllocation
	}

	err := s.serialized(ctx, func(ctx context.Context, db session.DB) error {
		allocs := repository.NewAllocationRepository(db)
		slots := repository.NewSlotRepository(db)
		reservations := repository.NewReservationRepository(db)

		master, err := allocs.GetByID(ctx, s.resource, id)
		if err != nil {
			return err
		}
		if master == nil || !master.IsMaster() {
			return model.ErrInvalidAllocation
		}

		if master.PartlyAvailable &&
			(!calendar.OnRaster(newStart, master.Raster) || !calendar.OnRaster(newEnd, master.Raster)) {
			return model.ErrInvalidAllocation
		}

		others, err := allocs.MastersInRange(ctx, s.resource, newStart, newEnd)
		if err != nil {
			return err
		}
		for _, other := range others {
			if other.ID != master.ID {
				return &model.OverlappingAllocationError{
					Start:    newStart,
					End:      newEnd,
					Existing: other,
				}
			}
		}

		family, err := allocs.Family(ctx, s.resource, master.ID)
		if err != nil {
			return err
		}

		memberIDs := make([]int64, len(family))
		for i, member := range family {
			memberIDs[i] = member.ID
		}
		familySlots, err := slots.ByAllocations(ctx, memberIDs)
		if err != nil {
			return err
		}
		for _, memberSlots := range familySlots {
			for _, slot := range memberSlots {
				if slot.Start.Before(newStart) || slot.End.After(newEnd) {
					return &model.AffectedReservationError{Slot: slot}
				}
			}
		}

		if newQuota != nil {
			family, err = s.changeQuota(ctx, db, master, family, *newQuota)
			if err != nil {
				return err
			}
		}

		oldStart, oldEnd := master.Start, master.End
		master.Start, master.End = newStart, newEnd
		for _, member := range family {
			member.Start = newStart
			member.End = newEnd
			if err := allocs.Update(ctx, member); err != nil {
				return err
			}
		}

		// reservations spanning the whole window follow it, approved
		// ones re-claim their slots against the new bounds
		targeted, err := reservations.ByTarget(ctx, s.resource, master.Group, false)
		if err != nil {
			return err
		}
		for _, r := range targeted {
			if r.Start == nil || r.End == nil {
				continue
			}
			if !r.Start.Equal(oldStart) || !r.End.Equal(oldEnd) {
				continue
			}

			approved := r.Status == model.ReservationStatusApproved
			if approved {
				if _, err := s.releaseLineSlots(ctx, db, r); err != nil {
					return err
				}
			}
			if err := reservations.UpdateTimespan(ctx, r.ID, newStart, newEnd); err != nil {
				return err
			}
			if approved {
				if _, err := s.writeSlots(ctx, db, master, newStart, newEnd, r.Quota, r.Token); err != nil {
					return &model.ReservationError{Reservation: r, Err: err}
				}
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("allocation moved",
		zap.String("resource", s.resource.String()),
		zap.Int64("allocation_id", id),
		zap.Time("start", newStart),
		zap.Time("end", newEnd),
	)

	return nil
}

// RemoveAllocation deletes the master with the given id together with
// its mirrors. Families holding reserved slots or targeted by pending
// reservations are protected.
func (s *Scheduler) RemoveAllocation(ctx context.Context, id int64) error {
	return s.removeAllocations(ctx, &id, nil)
}

// RemoveAllocationsByGroup deletes every allocation of a group, with
// the same protections as RemoveAllocation.
func (s *Scheduler) RemoveAllocationsByGroup(ctx context.Context, group uuid.UUID) error {
	return s.removeAllocations(ctx, nil, &group)
}

func (s *Scheduler) removeAllocations(ctx context.Context, id *int64, group *uuid.UUID) error {
	var removed int64

	err := s.serialized(ctx, func(ctx context.Context, db session.DB) error {
		allocs := repository.NewAllocationRepository(db)
		slots := repository.NewSlotRepository(db)
		reservations := repository.NewReservationRepository(db)

		var masters []*model.Allocation
		if id != nil {
			master, err := allocs.GetByID(ctx, s.resource, *id)
			if err != nil {
				return err
			}
			if master == nil || !master.IsMaster() {
				return model.ErrInvalidAllocation
			}
			masters = []*model.Allocation{master}
		} else {
			var err error
			masters, err = allocs.ByGroup(ctx, s.resource, *group, true)
			if err != nil {
				return err
			}
			if len(masters) == 0 {
				return model.ErrInvalidAllocation
			}
		}

		var ids []int64
		for _, master := range masters {
			family, err := allocs.Family(ctx, s.resource, master.ID)
			if err != nil {
				return err
			}
			for _, member := range family {
				memberSlots, err := slots.ByAllocation(ctx, member.ID)
				if err != nil {
					return err
				}
				if len(memberSlots) > 0 {
					return &model.AffectedReservationError{Slot: memberSlots[0]}
				}
				ids = append(ids, member.ID)
			}

			pending, err := reservations.ByTarget(ctx, s.resource, master.Group, true)
			if err != nil {
				return err
			}
			if len(pending) > 0 {
				return &model.AffectedPendingReservationError{Reservation: pending[0]}
			}
		}

		var err error
		removed, err = allocs.Delete(ctx, s.resource, ids)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("allocations removed",
		zap.String("resource", s.resource.String()),
		zap.Int64("count", removed),
	)

	return nil
}

// UnusedOptions narrow a RemoveUnusedAllocations call.
type UnusedOptions struct {
	// Group restricts removal to one group.
	Group *uuid.UUID

	// Days restricts removal to allocations starting on the listed
	// local weekdays. Setting it forces ExcludeGroups, since removing
	// single days out of a group would leave it inconsistent.
	Days []time.Weekday

	// ExcludeGroups skips allocations that share their group with
	// others.
	ExcludeGroups bool
}

// RemoveUnusedAllocations deletes the resource's allocations inside
// [start, end] that carry no reserved slots and are targeted by no
// reservation. A slot without a referencing reservation still protects
// its allocation. Returns the number of rows removed.
func (s *Scheduler) RemoveUnusedAllocations(ctx context.Context, start, end time.Time, opts UnusedOptions) (int64, error) {
	excludeGroups := opts.ExcludeGroups || len(opts.Days) > 0

	days := make(map[time.Weekday]bool, len(opts.Days))
	for _, d := range opts.Days {
		days[d] = true
	}

	var removed int64

	err := s.serialized(ctx, func(ctx context.Context, db session.DB) error {
		allocs := repository.NewAllocationRepository(db)

		candidates, err := allocs.UnusedInRange(ctx, s.resource, start, end, excludeGroups)
		if err != nil {
			return err
		}

		var ids []int64
		for _, a := range candidates {
			if opts.Group != nil && a.Group != *opts.Group {
				continue
			}
			if len(days) > 0 && !days[calendar.Weekday(a.Start, a.Location())] {
				continue
			}
			ids = append(ids, a.ID)
		}

		if len(ids) == 0 {
			removed = 0
			return nil
		}

		removed, err = allocs.Delete(ctx, s.resource, ids)
		return err
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		s.logger.Info("unused allocations removed",
			zap.String("resource", s.resource.String()),
			zap.Int64("count", removed),
		)
	}

	return removed, nil
}

// ExtinguishManagedRecords wipes every reservation, reserved slot and
// allocation of the resource.
func (s *Scheduler) ExtinguishManagedRecords(ctx context.Context) error {
	err := s.serialized(ctx, func(ctx context.Context, db session.DB) error {
		if err := repository.NewReservationRepository(db).DeleteAllOnResource(ctx, s.resource); err != nil {
			return err
		}
		if err := repository.NewSlotRepository(db).DeleteAllOnResource(ctx, s.resource); err != nil {
			return err
		}
		return repository.NewAllocationRepository(db).DeleteAllOnResource(ctx, s.resource)
	})
	if err != nil {
		return err
	}

	s.logger.Warn("managed records extinguished",
		zap.String("resource", s.resource.String()),
	)

	return nil
}
