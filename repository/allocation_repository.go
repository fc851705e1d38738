// Package repository implements row-level access to the engine's three
// tables. Repositories are built over a session handle, so the same
// code serves the write transaction and the guarded read session.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/seantis/libres/model"
	"github.com/seantis/libres/session"
)

const allocationColumns = `
	id, resource, mirror_of, group_key, quota, quota_limit,
	partly_available, approve_manually, waitinglist_spots, timezone,
	start_at, end_at, raster, data, created, modified`

type AllocationRepository struct {
	db session.DB
}

func NewAllocationRepository(db session.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

func scanAllocation(row pgx.Row) (*model.Allocation, error) {
	var a model.Allocation
	err := row.Scan(
		&a.ID,
		&a.Resource,
		&a.MirrorOf,
		&a.Group,
		&a.Quota,
		&a.QuotaLimit,
		&a.PartlyAvailable,
		&a.ApproveManually,
		&a.WaitinglistSpots,
		&a.Timezone,
		&a.Start,
		&a.End,
		&a.Raster,
		&a.Data,
		&a.Created,
		&a.Modified,
	)
	if err != nil {
		return nil, err
	}

	a.Start = a.Start.UTC()
	a.End = a.End.UTC()

	return &a, nil
}

func (r *AllocationRepository) collect(rows pgx.Rows) ([]*model.Allocation, error) {
	defer rows.Close()

	var allocations []*model.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		allocations = append(allocations, a)
	}

	return allocations, rows.Err()
}

// Create inserts the allocation and fills in its generated fields.
func (r *AllocationRepository) Create(ctx context.Context, a *model.Allocation) error {
	query := `
		INSERT INTO allocations (
			resource, mirror_of, group_key, quota, quota_limit,
			partly_available, approve_manually, waitinglist_spots,
			timezone, start_at, end_at, raster, data
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created, modified
	`

	err := r.db.QueryRow(
		ctx, query,
		a.Resource,
		a.MirrorOf,
		a.Group,
		a.Quota,
		a.QuotaLimit,
		a.PartlyAvailable,
		a.ApproveManually,
		a.WaitinglistSpots,
		a.Timezone,
		a.Start,
		a.End,
		a.Raster,
		a.Data,
	).Scan(&a.ID, &a.Created, &a.Modified)

	if err != nil {
		return fmt.Errorf("create allocation: %w", err)
	}

	return nil
}

// SetMirrorOf points a freshly created master at itself.
func (r *AllocationRepository) SetMirrorOf(ctx context.Context, id, mirrorOf int64) error {
	_, err := r.db.Exec(
		ctx, `UPDATE allocations SET mirror_of = $1, modified = now() WHERE id = $2`,
		mirrorOf, id,
	)
	if err != nil {
		return fmt.Errorf("set mirror_of: %w", err)
	}
	return nil
}

// GetByID returns the allocation with the given id on the resource, or
// nil if there is none.
func (r *AllocationRepository) GetByID(ctx context.Context, resource uuid.UUID, id int64) (*model.Allocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM allocations WHERE resource = $1 AND id = $2`

	a, err := scanAllocation(r.db.QueryRow(ctx, query, resource, id))
	if err != nil {
		if session.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get allocation by id: %w", err)
	}

	return a, nil
}

// MastersInRange returns the master allocations on the resource
// overlapping the half-open range, ordered by start.
func (r *AllocationRepository) MastersInRange(ctx context.Context, resource uuid.UUID, start, end time.Time) ([]*model.Allocation, error) {
	query := `
		SELECT ` + allocationColumns + `
		FROM allocations
		WHERE resource = $1 AND mirror_of = id
		  AND start_at < $3 AND end_at > $2
		ORDER BY start_at, id
	`

	rows, err := r.db.Query(ctx, query, resource, start, end)
	if err != nil {
		return nil, fmt.Errorf("masters in range: %w", err)
	}

	return r.collect(rows)
}

// Family returns the master and its mirrors, ordered by id (master
// first, since it is created first).
func (r *AllocationRepository) Family(ctx context.Context, resource uuid.UUID, masterID int64) ([]*model.Allocation, error) {
	query := `
		SELECT ` + allocationColumns + `
		FROM allocations
		WHERE resource = $1 AND mirror_of = $2
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, resource, masterID)
	if err != nil {
		return nil, fmt.Errorf("allocation family: %w", err)
	}

	return r.collect(rows)
}

// ByGroup returns the allocations belonging to the group, masters only
// unless told otherwise, ordered by start then id.
func (r *AllocationRepository) ByGroup(ctx context.Context, resource uuid.UUID, group uuid.UUID, mastersOnly bool) ([]*model.Allocation, error) {
	query := `
		SELECT ` + allocationColumns + `
		FROM allocations
		WHERE resource = $1 AND group_key = $2
	`
	if mastersOnly {
		query += ` AND mirror_of = id`
	}
	query += ` ORDER BY start_at, id`

	rows, err := r.db.Query(ctx, query, resource, group)
	if err != nil {
		return nil, fmt.Errorf("allocations by group: %w", err)
	}

	return r.collect(rows)
}

// ByIDs returns the allocations with the given ids, ordered by start.
func (r *AllocationRepository) ByIDs(ctx context.Context, resource uuid.UUID, ids []int64) ([]*model.Allocation, error) {
	query := `
		SELECT ` + allocationColumns + `
		FROM allocations
		WHERE resource = $1 AND id = ANY($2)
		ORDER BY start_at, id
	`

	rows, err := r.db.Query(ctx, query, resource, ids)
	if err != nil {
		return nil, fmt.Errorf("allocations by ids: %w", err)
	}

	return r.collect(rows)
}

// Update writes the allocation's mutable attributes back.
func (r *AllocationRepository) Update(ctx context.Context, a *model.Allocation) error {
	query := `
		UPDATE allocations
		SET group_key = $1, quota = $2, quota_limit = $3,
		    partly_available = $4, approve_manually = $5,
		    waitinglist_spots = $6, start_at = $7, end_at = $8,
		    data = $9, modified = now()
		WHERE id = $10
	`

	tag, err := r.db.Exec(
		ctx, query,
		a.Group,
		a.Quota,
		a.QuotaLimit,
		a.PartlyAvailable,
		a.ApproveManually,
		a.WaitinglistSpots,
		a.Start,
		a.End,
		a.Data,
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("update allocation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update allocation: %w", model.ErrInvalidAllocation)
	}

	return nil
}

// Delete removes the allocations with the given ids.
func (r *AllocationRepository) Delete(ctx context.Context, resource uuid.UUID, ids []int64) (int64, error) {
	tag, err := r.db.Exec(
		ctx, `DELETE FROM allocations WHERE resource = $1 AND id = ANY($2)`,
		resource, ids,
	)
	if err != nil {
		return 0, fmt.Errorf("delete allocations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAllOnResource wipes every allocation of the resource.
func (r *AllocationRepository) DeleteAllOnResource(ctx context.Context, resource uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM allocations WHERE resource = $1`, resource); err != nil {
		return fmt.Errorf("delete allocations of resource: %w", err)
	}
	return nil
}

// UnusedInRange returns the allocations on the resource that lie fully
// inside [start, end], carry no reserved slot anywhere in their mirror
// family, have no reservation targeting their group and whose group is
// fully contained in the range. An allocation whose family has a slot
// is treated as reserved even if no reservation references the slot.
// With excludeGroups, allocations sharing their group with others are
// skipped entirely.
func (r *AllocationRepository) UnusedInRange(ctx context.Context, resource uuid.UUID, start, end time.Time, excludeGroups bool) ([]*model.Allocation, error) {
	query := `
		SELECT ` + allocationColumns + `
		FROM allocations a
		WHERE a.resource = $1
		  AND a.start_at >= $2 AND a.end_at <= $3
		  AND NOT EXISTS (
			SELECT 1 FROM reserved_slots s
			JOIN allocations fam ON fam.id = s.allocation_id
			WHERE fam.mirror_of = a.mirror_of
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM reservations r
			WHERE r.resource = a.resource AND r.target = a.group_key
		  )
		  AND a.group_key IN (
			SELECT g.group_key FROM allocations g
			WHERE g.resource = $1 AND g.mirror_of = g.id
			GROUP BY g.group_key
			HAVING min(g.start_at) >= $2 AND max(g.end_at) <= $3
	`
	if excludeGroups {
		query += ` AND count(g.id) = 1`
	}
	query += `
		  )
		ORDER BY a.start_at, a.id
	`

	rows, err := r.db.Query(ctx, query, resource, start, end)
	if err != nil {
		return nil, fmt.Errorf("unused allocations: %w", err)
	}

	return r.collect(rows)
}
