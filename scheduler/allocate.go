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

// AllocateOptions configure an Allocate call. The zero value creates
// quota-1, fully-booked-or-free, manually approved allocations.
type AllocateOptions struct {
	// Quota is the number of times each window may be reserved in
	// parallel. Defaults to 1.
	Quota int

	// QuotaLimit caps the quota a single reservation may claim.
	// Zero means unlimited.
	QuotaLimit int

	// PartlyAvailable allows reservations covering only part of the
	// window, in raster-sized steps.
	PartlyAvailable bool

	// Raster is the minute granularity of partly available windows.
	// Defaults to calendar.MinRaster.
	Raster int

	// ApproveManually keeps reservations pending until an explicit
	// approval. Without it, Reserve approves immediately.
	ApproveManually bool

	// Grouped ties all created windows to one group key, so a single
	// reservation can target any of them.
	Grouped bool

	// WholeDay expands each date pair to cover its whole local days.
	WholeDay bool

	// WaitinglistSpots caps the waiting list, nil meaning unlimited.
	WaitinglistSpots *int

	// Data is an opaque blob stored with each allocation.
	Data json.RawMessage
}

func (o *AllocateOptions) withDefaults() AllocateOptions {
	out := *o
	if out.Quota == 0 {
		out.Quota = 1
	}
	if out.Raster == 0 {
		out.Raster = calendar.MinRaster
	}
	return out
}

// Allocate creates one master allocation per date pair, plus quota-1
// mirrors each, and returns the created masters. Pairs are half-open
// UTC instants; with WholeDay they are expanded across their local
// calendar days first. A pair overlapping an existing master fails the
// whole call with an OverlappingAllocationError.
func (s *Scheduler) Allocate(ctx context.Context, dates []calendar.Span, opts AllocateOptions) ([]*model.Allocation, error) {
	opts = opts.withDefaults()

	if len(dates) == 0 {
		return nil, model.ErrInvalidAllocation
	}
	if opts.Quota < 1 || opts.QuotaLimit < 0 {
		return nil, model.ErrInvalidAllocation
	}
	if opts.PartlyAvailable && !calendar.IsValidRaster(opts.Raster) {
		return nil, model.ErrInvalidAllocation
	}

	spans, err := s.expandDates(dates, opts.WholeDay)
	if err != nil {
		return nil, err
	}

	for i, a := range spans {
		for _, b := range spans[i+1:] {
			if calendar.Overlaps(a.Start, a.End, b.Start, b.End) {
				return nil, model.ErrInvalidAllocation
			}
		}
	}

	var created []*model.Allocation

	err = s.serialized(ctx, func(ctx context.Context, db session.DB) error {
		created = created[:0]

		allocs := repository.NewAllocationRepository(db)

		if err := s.checkOverlap(ctx, allocs, spans); err != nil {
			return err
		}

		// one shared key when the windows form a group
		sharedGroup := uuid.Nil
		if opts.Grouped || len(spans) > 1 {
			sharedGroup = uuid.New()
		}

		for _, span := range spans {
			group := sharedGroup
			if group == uuid.Nil {
				group = uuid.New()
			}

			master := &model.Allocation{
				Resource:         s.resource,
				Group:            group,
				Quota:            opts.Quota,
				QuotaLimit:       opts.QuotaLimit,
				PartlyAvailable:  opts.PartlyAvailable,
				ApproveManually:  opts.ApproveManually,
				WaitinglistSpots: opts.WaitinglistSpots,
				Timezone:         s.timezone,
				Start:            span.Start,
				End:              span.End,
				Raster:           opts.Raster,
				Data:             opts.Data,
			}

			if err := allocs.Create(ctx, master); err != nil {
				return err
			}
			if err := allocs.SetMirrorOf(ctx, master.ID, master.ID); err != nil {
				return err
			}
			master.MirrorOf = master.ID

			for i := 1; i < opts.Quota; i++ {
				mirror := *master
				mirror.ID = 0
				mirror.MirrorOf = master.ID
				if err := allocs.Create(ctx, &mirror); err != nil {
					return err
				}
			}

			created = append(created, master)
		}

		if s.hub != nil {
			s.hub.AllocationsAdded(ctx, created)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("allocations added",
		zap.String("resource", s.resource.String()),
		zap.Int("count", len(created)),
		zap.Int("quota", opts.Quota),
	)

	return created, nil
}

// expandDates validates the raw pairs and applies whole-day expansion.
func (s *Scheduler) expandDates(dates []calendar.Span, wholeDay bool) ([]calendar.Span, error) {
	var spans []calendar.Span

	for _, pair := range dates {
		if !pair.Start.Before(pair.End) {
			return nil, model.ErrInvalidAllocation
		}

		if !wholeDay {
			spans = append(spans, calendar.Span{Start: pair.Start.UTC(), End: pair.End.UTC()})
			continue
		}

		// an end on local midnight already closes the previous day
		last := pair.End
		e := last.In(s.loc)
		if e.Hour() == 0 && e.Minute() == 0 && e.Second() == 0 && e.Nanosecond() == 0 {
			last = last.Add(-time.Nanosecond)
		}

		daily := calendar.DailySpans(pair.Start, last, calendar.TimeOfDay{}, calendar.TimeOfDay{}, s.loc, true)
		spans = append(spans, daily...)
	}

	if len(spans) == 0 {
		return nil, model.ErrInvalidAllocation
	}

	return spans, nil
}

// checkOverlap fetches all masters inside the envelope of the new spans
// with a single query and rejects the first colliding pair.
func (s *Scheduler) checkOverlap(ctx context.Context, allocs *repository.AllocationRepository, spans []calendar.Span) error {
	envStart, envEnd := spans[0].Start, spans[0].End
	for _, span := range spans[1:] {
		if span.Start.Before(envStart) {
			envStart = span.Start
		}
		if span.End.After(envEnd) {
			envEnd = span.End
		}
	}

	masters, err := allocs.MastersInRange(ctx, s.resource, envStart, envEnd)
	if err != nil {
		return err
	}

	for _, span := range spans {
		for _, master := range masters {
			if master.Overlaps(span.Start, span.End) {
				return &model.OverlappingAllocationError{
					Start:    span.Start,
					End:      span.End,
					Existing: master,
				}
			}
		}
	}

	return nil
}
