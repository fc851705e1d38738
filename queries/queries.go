// Package queries bundles the read-only lookups and aggregates of the
// engine. Pure reads run on the guarded read session; the session-cart
// maintenance calls open a serializable transaction like any other
// mutation.
package queries

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seantis/libres/calendar"
	"github.com/seantis/libres/events"
	"github.com/seantis/libres/model"
	"github.com/seantis/libres/repository"
	"github.com/seantis/libres/session"
)

type Queries struct {
	provider *session.Provider
	hub      *events.Hub
	logger   *zap.Logger
}

func New(provider *session.Provider, hub *events.Hub, logger *zap.Logger) *Queries {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queries{provider: provider, hub: hub, logger: logger}
}

func (q *Queries) read() session.DB {
	return q.provider.Read()
}

// Allocation returns one allocation by id, or nil.
func (q *Queries) Allocation(ctx context.Context, resource uuid.UUID, id int64) (*model.Allocation, error) {
	return repository.NewAllocationRepository(q.read()).GetByID(ctx, resource, id)
}

// AllocationsInRange returns the master allocations overlapping the
// half-open range.
func (q *Queries) AllocationsInRange(ctx context.Context, resource uuid.UUID, start, end time.Time) ([]*model.Allocation, error) {
	return repository.NewAllocationRepository(q.read()).MastersInRange(ctx, resource, start, end)
}

// AllocationsByGroup returns the master allocations of a group.
func (q *Queries) AllocationsByGroup(ctx context.Context, resource, group uuid.UUID) ([]*model.Allocation, error) {
	return repository.NewAllocationRepository(q.read()).ByGroup(ctx, resource, group, true)
}

// familyAvailability is the free percentage across a mirror family,
// restricted to [start, end) and averaged over its members.
func familyAvailability(family []*model.Allocation, slots map[int64][]*model.ReservedSlot, start, end time.Time) float64 {
	if len(family) == 0 {
		return 0
	}

	var sum float64
	for _, member := range family {
		reserved := make(map[time.Time]bool)
		for _, s := range slots[member.ID] {
			reserved[s.Start] = true
		}

		s, e := member.AlignDates(start, end)
		all := member.AllSlots(s, e)
		if len(all) == 0 {
			sum += 100.0
			continue
		}

		free := 0
		for _, slot := range all {
			if !reserved[slot.Start] {
				free++
			}
		}
		sum += float64(free) / float64(len(all)) * 100.0
	}

	return sum / float64(len(family))
}

// loadFamilies fetches the mirror families and slots of the given
// masters in two queries.
func (q *Queries) loadFamilies(ctx context.Context, db session.DB, masters []*model.Allocation) (map[int64][]*model.Allocation, map[int64][]*model.ReservedSlot, error) {
	allocs := repository.NewAllocationRepository(db)
	slots := repository.NewSlotRepository(db)

	families := make(map[int64][]*model.Allocation, len(masters))
	var memberIDs []int64
	for _, master := range masters {
		family, err := allocs.Family(ctx, master.Resource, master.ID)
		if err != nil {
			return nil, nil, err
		}
		families[master.ID] = family
		for _, member := range family {
			memberIDs = append(memberIDs, member.ID)
		}
	}

	if len(memberIDs) == 0 {
		return families, map[int64][]*model.ReservedSlot{}, nil
	}

	bySlot, err := slots.ByAllocations(ctx, memberIDs)
	if err != nil {
		return nil, nil, err
	}

	return families, bySlot, nil
}

// Availability returns the percentage of free capacity on the resource
// over [start, end), averaged across the overlapping allocations.
func (q *Queries) Availability(ctx context.Context, resource uuid.UUID, start, end time.Time) (float64, error) {
	db := q.read()

	masters, err := repository.NewAllocationRepository(db).MastersInRange(ctx, resource, start, end)
	if err != nil {
		return 0, err
	}
	if len(masters) == 0 {
		return 0, nil
	}

	families, slots, err := q.loadFamilies(ctx, db, masters)
	if err != nil {
		return 0, err
	}

	var sum float64
	for _, master := range masters {
		sum += familyAvailability(families[master.ID], slots, start, end)
	}

	return sum / float64(len(masters)), nil
}

// DayAvailability is the aggregate availability of one local calendar
// day.
type DayAvailability struct {
	Day       time.Time // midnight of the local day, UTC instant
	Percent   float64
	Resources []uuid.UUID
}

// AvailabilityByDay splits [start, end) into local calendar days and
// returns the availability of each day across the given resources,
// ordered by day. Days without allocations are omitted.
func (q *Queries) AvailabilityByDay(ctx context.Context, resources []uuid.UUID, start, end time.Time, loc *time.Location) ([]DayAvailability, error) {
	db := q.read()
	allocs := repository.NewAllocationRepository(db)

	type dayAgg struct {
		sum       float64
		count     int
		resources map[uuid.UUID]bool
	}
	byDay := make(map[time.Time]*dayAgg)

	for _, resource := range resources {
		masters, err := allocs.MastersInRange(ctx, resource, start, end)
		if err != nil {
			return nil, err
		}
		if len(masters) == 0 {
			continue
		}

		families, slots, err := q.loadFamilies(ctx, db, masters)
		if err != nil {
			return nil, err
		}

		for _, master := range masters {
			dayStart, _ := calendar.DayBounds(master.Start, loc)

			agg, ok := byDay[dayStart]
			if !ok {
				agg = &dayAgg{resources: make(map[uuid.UUID]bool)}
				byDay[dayStart] = agg
			}

			agg.sum += familyAvailability(families[master.ID], slots, start, end)
			agg.count++
			agg.resources[resource] = true
		}
	}

	days := make([]DayAvailability, 0, len(byDay))
	for day, agg := range byDay {
		ids := make([]uuid.UUID, 0, len(agg.resources))
		for id := range agg.resources {
			ids = append(ids, id)
		}
		days = append(days, DayAvailability{
			Day:       day,
			Percent:   agg.sum / float64(agg.count),
			Resources: ids,
		})
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Day.Before(days[j].Day) })

	return days, nil
}

// SearchOptions narrow a SearchAllocations call. The zero value matches
// every allocation overlapping the range.
type SearchOptions struct {
	// Days keeps only allocations whose local weekday is listed.
	Days []time.Weekday

	// MinSpots keeps only families with at least this many fully free
	// members.
	MinSpots int

	// AvailableOnly keeps only allocations with free capacity in the
	// searched range.
	AvailableOnly bool

	// WholeDay filters by whole-day coverage when non-nil.
	WholeDay *bool

	// Strict requires allocations to lie fully inside the range instead
	// of merely overlapping it.
	Strict bool

	// Groups keeps only allocations belonging to the listed groups.
	Groups []uuid.UUID
}

// SearchAllocations returns the master allocations overlapping (or,
// strictly, contained in) [start, end) that pass the given filters,
// ordered by start.
func (q *Queries) SearchAllocations(ctx context.Context, resource uuid.UUID, start, end time.Time, opts SearchOptions) ([]*model.Allocation, error) {
	db := q.read()

	masters, err := repository.NewAllocationRepository(db).MastersInRange(ctx, resource, start, end)
	if err != nil {
		return nil, err
	}
	if len(masters) == 0 {
		return nil, nil
	}

	groups := make(map[uuid.UUID]bool, len(opts.Groups))
	for _, g := range opts.Groups {
		groups[g] = true
	}
	days := make(map[time.Weekday]bool, len(opts.Days))
	for _, d := range opts.Days {
		days[d] = true
	}

	var candidates []*model.Allocation
	for _, master := range masters {
		if opts.Strict && (master.Start.Before(start) || master.End.After(end)) {
			continue
		}
		if len(groups) > 0 && !groups[master.Group] {
			continue
		}
		if len(days) > 0 && !days[calendar.Weekday(master.Start, master.Location())] {
			continue
		}
		if opts.WholeDay != nil && master.WholeDay() != *opts.WholeDay {
			continue
		}
		candidates = append(candidates, master)
	}

	if !opts.AvailableOnly && opts.MinSpots == 0 {
		return candidates, nil
	}

	families, slots, err := q.loadFamilies(ctx, db, candidates)
	if err != nil {
		return nil, err
	}

	var matched []*model.Allocation
	for _, master := range candidates {
		family := families[master.ID]

		if opts.AvailableOnly && familyAvailability(family, slots, start, end) <= 0 {
			continue
		}

		if opts.MinSpots > 0 {
			spots := 0
			for _, member := range family {
				reserved := make(map[time.Time]bool)
				for _, s := range slots[member.ID] {
					reserved[s.Start] = true
				}
				if member.IsAvailable(start, end, reserved) {
					spots++
				}
			}
			if spots < opts.MinSpots {
				continue
			}
		}

		matched = append(matched, master)
	}

	return matched, nil
}

// FreeAllocationsCount returns how many members of the master's mirror
// family carry no reserved slot at all, using a single aggregate query.
func (q *Queries) FreeAllocationsCount(ctx context.Context, resource uuid.UUID, masterID int64) (int, error) {
	query := `
		SELECT count(*)
		FROM allocations a
		WHERE a.resource = $1 AND a.mirror_of = $2
		  AND NOT EXISTS (
			SELECT 1 FROM reserved_slots s WHERE s.allocation_id = a.id
		  )
	`

	var count int
	if err := q.read().QueryRow(ctx, query, resource, masterID).Scan(&count); err != nil {
		return 0, fmt.Errorf("free allocations count: %w", err)
	}

	return count, nil
}

// ReservationsByToken returns all lines of a reservation token.
func (q *Queries) ReservationsByToken(ctx context.Context, token uuid.UUID) ([]*model.Reservation, error) {
	return repository.NewReservationRepository(q.read()).ByToken(ctx, token)
}

// ReservationsBySession returns the pending cart of a browser session.
func (q *Queries) ReservationsBySession(ctx context.Context, sessionID uuid.UUID) ([]*model.Reservation, error) {
	return repository.NewReservationRepository(q.read()).BySession(ctx, sessionID)
}

// ReservationsByGroup returns the reservations targeting a group key.
func (q *Queries) ReservationsByGroup(ctx context.Context, resource, group uuid.UUID) ([]*model.Reservation, error) {
	return repository.NewReservationRepository(q.read()).ByTarget(ctx, resource, group, false)
}

// ReservationsByAllocation returns the reservations targeting the
// given allocation, via its group key.
func (q *Queries) ReservationsByAllocation(ctx context.Context, resource uuid.UUID, allocationID int64) ([]*model.Reservation, error) {
	allocation, err := repository.NewAllocationRepository(q.read()).GetByID(ctx, resource, allocationID)
	if err != nil {
		return nil, err
	}
	if allocation == nil {
		return nil, nil
	}

	return q.ReservationsByGroup(ctx, resource, allocation.Group)
}

// ConfirmReservationsForSession detaches the reservations of a browser
// session from their cart so they survive session expiry. With a token
// given, only that token's lines are confirmed. Returns the confirmed
// reservations and fires the confirmed hook.
func (q *Queries) ConfirmReservationsForSession(ctx context.Context, sessionID uuid.UUID, token *uuid.UUID) ([]*model.Reservation, error) {
	var confirmed []*model.Reservation

	err := q.provider.Serialized(ctx, func(ctx context.Context) error {
		reservations := repository.NewReservationRepository(q.provider.Write())

		rows, err := reservations.ConfirmSession(ctx, sessionID, token)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return model.ErrNoReservationsToConfirm
		}

		confirmed = rows

		if q.hub != nil {
			q.hub.ReservationsConfirmed(ctx, confirmed, sessionID)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	q.logger.Info("reservations confirmed",
		zap.String("session_id", sessionID.String()),
		zap.Int("count", len(confirmed)),
	)

	return confirmed, nil
}

// RemoveExpiredReservationSessions deletes the pending reservations,
// and any slots they hold, of every browser session inactive since the
// cutoff. Returns the purged session ids.
func (q *Queries) RemoveExpiredReservationSessions(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	var (
		purged  []uuid.UUID
		removed []*model.Reservation
	)

	err := q.provider.Serialized(ctx, func(ctx context.Context) error {
		purged = purged[:0]
		removed = removed[:0]

		db := q.provider.Write()
		reservations := repository.NewReservationRepository(db)
		slots := repository.NewSlotRepository(db)

		expired, err := reservations.ExpiredSessions(ctx, cutoff)
		if err != nil {
			return err
		}

		for _, sessionID := range expired {
			rows, err := reservations.DeleteBySession(ctx, sessionID)
			if err != nil {
				return err
			}
			for _, r := range rows {
				if _, err := slots.DeleteByToken(ctx, r.Token, nil); err != nil {
					return err
				}
			}
			removed = append(removed, rows...)
			purged = append(purged, sessionID)
		}

		if q.hub != nil && len(removed) > 0 {
			q.hub.ReservationsRemoved(ctx, removed)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(purged) > 0 {
		q.logger.Info("expired reservation sessions removed",
			zap.Int("sessions", len(purged)),
			zap.Int("reservations", len(removed)),
		)
	}

	return purged, nil
}
