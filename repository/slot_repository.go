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

const slotColumns = `resource, allocation_id, start_at, end_at, reservation_token`

type SlotRepository struct {
	db session.DB
}

func NewSlotRepository(db session.DB) *SlotRepository {
	return &SlotRepository{db: db}
}

func scanSlot(row pgx.Row) (*model.ReservedSlot, error) {
	var s model.ReservedSlot
	err := row.Scan(
		&s.Resource,
		&s.AllocationID,
		&s.Start,
		&s.End,
		&s.ReservationToken,
	)
	if err != nil {
		return nil, err
	}

	s.Start = s.Start.UTC()
	s.End = s.End.UTC()

	return &s, nil
}

func (r *SlotRepository) collect(rows pgx.Rows) ([]*model.ReservedSlot, error) {
	defer rows.Close()

	var slots []*model.ReservedSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reserved slot: %w", err)
		}
		slots = append(slots, s)
	}

	return slots, rows.Err()
}

// Insert writes one reserved slot. A primary key collision means the
// slot is already taken by a concurrent or earlier reservation; callers
// translate that with session.IsUniqueViolation.
func (r *SlotRepository) Insert(ctx context.Context, s *model.ReservedSlot) error {
	query := `
		INSERT INTO reserved_slots (resource, allocation_id, start_at, end_at, reservation_token)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Exec(ctx, query, s.Resource, s.AllocationID, s.Start, s.End, s.ReservationToken)
	if err != nil {
		return fmt.Errorf("insert reserved slot: %w", err)
	}

	return nil
}

// ByAllocation returns the slots consumed inside one allocation.
func (r *SlotRepository) ByAllocation(ctx context.Context, allocationID int64) ([]*model.ReservedSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM reserved_slots WHERE allocation_id = $1 ORDER BY start_at`

	rows, err := r.db.Query(ctx, query, allocationID)
	if err != nil {
		return nil, fmt.Errorf("slots by allocation: %w", err)
	}

	return r.collect(rows)
}

// ByAllocations returns the slots of several allocations at once,
// keyed by allocation id.
func (r *SlotRepository) ByAllocations(ctx context.Context, allocationIDs []int64) (map[int64][]*model.ReservedSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM reserved_slots WHERE allocation_id = ANY($1) ORDER BY start_at`

	rows, err := r.db.Query(ctx, query, allocationIDs)
	if err != nil {
		return nil, fmt.Errorf("slots by allocations: %w", err)
	}

	slots, err := r.collect(rows)
	if err != nil {
		return nil, err
	}

	grouped := make(map[int64][]*model.ReservedSlot, len(allocationIDs))
	for _, s := range slots {
		grouped[s.AllocationID] = append(grouped[s.AllocationID], s)
	}

	return grouped, nil
}

// ByToken returns the slots held by a reservation token.
func (r *SlotRepository) ByToken(ctx context.Context, token uuid.UUID) ([]*model.ReservedSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM reserved_slots WHERE reservation_token = $1 ORDER BY allocation_id, start_at`

	rows, err := r.db.Query(ctx, query, token)
	if err != nil {
		return nil, fmt.Errorf("slots by token: %w", err)
	}

	return r.collect(rows)
}

// DeleteByToken releases the slots of a token, optionally restricted to
// one allocation, and returns the released rows.
func (r *SlotRepository) DeleteByToken(ctx context.Context, token uuid.UUID, allocationID *int64) ([]*model.ReservedSlot, error) {
	query := `DELETE FROM reserved_slots WHERE reservation_token = $1`
	args := []any{token}
	if allocationID != nil {
		query += ` AND allocation_id = $2`
		args = append(args, *allocationID)
	}
	query += ` RETURNING ` + slotColumns

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("delete slots by token: %w", err)
	}

	return r.collect(rows)
}

// DeleteRange releases the slots of a token within an allocation whose
// start falls inside the half-open range. Used when a reservation
// shrinks in place.
func (r *SlotRepository) DeleteRange(ctx context.Context, token uuid.UUID, allocationID int64, start, end time.Time) ([]*model.ReservedSlot, error) {
	query := `
		DELETE FROM reserved_slots
		WHERE reservation_token = $1 AND allocation_id = $2
		  AND start_at >= $3 AND start_at < $4
		RETURNING ` + slotColumns

	rows, err := r.db.Query(ctx, query, token, allocationID, start, end)
	if err != nil {
		return nil, fmt.Errorf("delete slot range: %w", err)
	}

	return r.collect(rows)
}

// FamilyMembersWithSlots returns, for a master allocation, the ids of
// family members that hold at least one slot.
func (r *SlotRepository) FamilyMembersWithSlots(ctx context.Context, resource uuid.UUID, masterID int64) ([]int64, error) {
	query := `
		SELECT DISTINCT s.allocation_id
		FROM reserved_slots s
		JOIN allocations a ON a.id = s.allocation_id
		WHERE a.resource = $1 AND a.mirror_of = $2
		ORDER BY s.allocation_id
	`

	rows, err := r.db.Query(ctx, query, resource, masterID)
	if err != nil {
		return nil, fmt.Errorf("family members with slots: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan allocation id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// DeleteAllOnResource wipes every slot of the resource.
func (r *SlotRepository) DeleteAllOnResource(ctx context.Context, resource uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM reserved_slots WHERE resource = $1`, resource); err != nil {
		return fmt.Errorf("delete slots of resource: %w", err)
	}
	return nil
}
