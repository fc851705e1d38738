// Package scheduler exposes the public mutating API of the engine. A
// Scheduler is bound to one resource within a registry context; every
// mutating call runs inside a single serializable transaction and is
// retried on serialization conflicts.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seantis/libres/events"
	"github.com/seantis/libres/model"
	"github.com/seantis/libres/queries"
	"github.com/seantis/libres/registry"
	"github.com/seantis/libres/session"
)

// Scheduler manages the allocations and reservations of one resource.
// The resource id is derived from the context and scheduler names, so
// the same name always addresses the same rows.
type Scheduler struct {
	rctx     *registry.Context
	name     string
	resource uuid.UUID
	timezone string
	loc      *time.Location
	logger   *zap.Logger
	hub      *events.Hub
}

// New binds a scheduler to a named resource on the given context. The
// timezone overrides the context default when non-empty.
func New(rctx *registry.Context, name, timezone string) (*Scheduler, error) {
	if timezone == "" {
		timezone = rctx.Settings().Timezone
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	return &Scheduler{
		rctx:     rctx,
		name:     name,
		resource: rctx.ResourceID(name),
		timezone: timezone,
		loc:      loc,
		logger:   rctx.Logger(),
		hub:      rctx.Events(),
	}, nil
}

// Name returns the scheduler's name within its context.
func (s *Scheduler) Name() string {
	return s.name
}

// Resource returns the derived resource id.
func (s *Scheduler) Resource() uuid.UUID {
	return s.resource
}

// Location returns the scheduler's timezone.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// Queries returns the read-only query surface of the context.
func (s *Scheduler) Queries(ctx context.Context) (*queries.Queries, error) {
	provider, err := s.rctx.SessionProvider(ctx)
	if err != nil {
		return nil, err
	}
	return queries.New(provider, s.hub, s.logger), nil
}

func (s *Scheduler) provider(ctx context.Context) (*session.Provider, error) {
	return s.rctx.SessionProvider(ctx)
}

// serialized runs fn inside the context's serializable write
// transaction, handing it the write session.
func (s *Scheduler) serialized(ctx context.Context, fn func(ctx context.Context, db session.DB) error) error {
	provider, err := s.provider(ctx)
	if err != nil {
		return err
	}

	return provider.Serialized(ctx, func(ctx context.Context) error {
		return fn(ctx, provider.Write())
	})
}

// Availability returns the free percentage of the resource over the
// half-open range.
func (s *Scheduler) Availability(ctx context.Context, start, end time.Time) (float64, error) {
	q, err := s.Queries(ctx)
	if err != nil {
		return 0, err
	}
	return q.Availability(ctx, s.resource, start, end)
}

// SearchAllocations returns the resource's master allocations matching
// the filters.
func (s *Scheduler) SearchAllocations(ctx context.Context, start, end time.Time, opts queries.SearchOptions) ([]*model.Allocation, error) {
	q, err := s.Queries(ctx)
	if err != nil {
		return nil, err
	}
	return q.SearchAllocations(ctx, s.resource, start, end, opts)
}

// Allocation returns one of the resource's allocations by id, or nil.
func (s *Scheduler) Allocation(ctx context.Context, id int64) (*model.Allocation, error) {
	q, err := s.Queries(ctx)
	if err != nil {
		return nil, err
	}
	return q.Allocation(ctx, s.resource, id)
}

// ReservationsByToken returns all lines of a reservation token.
func (s *Scheduler) ReservationsByToken(ctx context.Context, token uuid.UUID) ([]*model.Reservation, error) {
	q, err := s.Queries(ctx)
	if err != nil {
		return nil, err
	}
	return q.ReservationsByToken(ctx, token)
}

// AllocationData decodes the allocation's data blob through the
// context's configured decoder.
func (s *Scheduler) AllocationData(a *model.Allocation) (any, error) {
	return s.rctx.DecodeAllocationData(a.Data)
}

// ReservationData decodes the reservation's data blob through the
// context's configured decoder.
func (s *Scheduler) ReservationData(r *model.Reservation) (any, error) {
	return s.rctx.DecodeReservationData(r.Data)
}
