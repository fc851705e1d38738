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

const reservationColumns = `
	id, token, target, target_type, resource, start_at, end_at,
	timezone, quota, status, type, email, session_id, data,
	created, modified`

type ReservationRepository struct {
	db session.DB
}

func NewReservationRepository(db session.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func scanReservation(row pgx.Row) (*model.Reservation, error) {
	var (
		r         model.Reservation
		start     *time.Time
		end       *time.Time
		sessionID uuid.NullUUID
	)

	err := row.Scan(
		&r.ID,
		&r.Token,
		&r.Target,
		&r.TargetType,
		&r.Resource,
		&start,
		&end,
		&r.Timezone,
		&r.Quota,
		&r.Status,
		&r.Type,
		&r.Email,
		&sessionID,
		&r.Data,
		&r.Created,
		&r.Modified,
	)
	if err != nil {
		return nil, err
	}

	if start != nil {
		utc := start.UTC()
		r.Start = &utc
	}
	if end != nil {
		utc := end.UTC()
		r.End = &utc
	}
	if sessionID.Valid {
		id := sessionID.UUID
		r.SessionID = &id
	}

	return &r, nil
}

func (r *ReservationRepository) collect(rows pgx.Rows) ([]*model.Reservation, error) {
	defer rows.Close()

	var reservations []*model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		reservations = append(reservations, res)
	}

	return reservations, rows.Err()
}

// Create inserts the reservation and fills in its generated fields.
func (r *ReservationRepository) Create(ctx context.Context, res *model.Reservation) error {
	query := `
		INSERT INTO reservations (
			token, target, target_type, resource, start_at, end_at,
			timezone, quota, status, type, email, session_id, data
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created, modified
	`

	var sessionID uuid.NullUUID
	if res.SessionID != nil {
		sessionID = uuid.NullUUID{UUID: *res.SessionID, Valid: true}
	}

	err := r.db.QueryRow(
		ctx, query,
		res.Token,
		res.Target,
		res.TargetType,
		res.Resource,
		res.Start,
		res.End,
		res.Timezone,
		res.Quota,
		res.Status,
		res.Type,
		res.Email,
		sessionID,
		res.Data,
	).Scan(&res.ID, &res.Created, &res.Modified)

	if err != nil {
		return fmt.Errorf("create reservation: %w", err)
	}

	return nil
}

// GetByID returns the reservation with the given id, or nil.
func (r *ReservationRepository) GetByID(ctx context.Context, id int64) (*model.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	res, err := scanReservation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if session.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get reservation by id: %w", err)
	}

	return res, nil
}

// ByToken returns all reservations sharing the token, ordered by id.
func (r *ReservationRepository) ByToken(ctx context.Context, token uuid.UUID) ([]*model.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE token = $1 ORDER BY id`

	rows, err := r.db.Query(ctx, query, token)
	if err != nil {
		return nil, fmt.Errorf("reservations by token: %w", err)
	}

	return r.collect(rows)
}

// OneByToken returns a single reservation of the token, optionally
// pinned to an id, or nil.
func (r *ReservationRepository) OneByToken(ctx context.Context, token uuid.UUID, id *int64) (*model.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE token = $1`
	args := []any{token}
	if id != nil {
		query += ` AND id = $2`
		args = append(args, *id)
	}
	query += ` ORDER BY id LIMIT 1`

	res, err := scanReservation(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if session.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reservation by token: %w", err)
	}

	return res, nil
}

// BySession returns the pending cart of the given browser session,
// ordered by creation.
func (r *ReservationRepository) BySession(ctx context.Context, sessionID uuid.UUID) ([]*model.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE session_id = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reservations by session: %w", err)
	}

	return r.collect(rows)
}

// ByTarget returns the reservations pointed at the given target group
// key, newest last. With pendingOnly, approved and denied lines are
// skipped.
func (r *ReservationRepository) ByTarget(ctx context.Context, resource, target uuid.UUID, pendingOnly bool) ([]*model.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE resource = $1 AND target = $2
	`
	if pendingOnly {
		query += ` AND status = 'pending'`
	}
	query += ` ORDER BY id`

	rows, err := r.db.Query(ctx, query, resource, target)
	if err != nil {
		return nil, fmt.Errorf("reservations by target: %w", err)
	}

	return r.collect(rows)
}

// ByTargets returns reservations pointed at any of the target keys.
func (r *ReservationRepository) ByTargets(ctx context.Context, resource uuid.UUID, targets []uuid.UUID) ([]*model.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE resource = $1 AND target = ANY($2)
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, resource, targets)
	if err != nil {
		return nil, fmt.Errorf("reservations by targets: %w", err)
	}

	return r.collect(rows)
}

// UpdateStatusByIDs moves the listed reservations into a new status and
// detaches them from their session. Returns the number of rows touched.
func (r *ReservationRepository) UpdateStatusByIDs(ctx context.Context, ids []int64, from, to model.ReservationStatus) (int64, error) {
	tag, err := r.db.Exec(
		ctx, `
		UPDATE reservations
		SET status = $1, session_id = NULL, modified = now()
		WHERE id = ANY($2) AND status = $3`,
		to, ids, from,
	)
	if err != nil {
		return 0, fmt.Errorf("update reservation status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpdateEmail rewrites the reservee address on every line of the token.
func (r *ReservationRepository) UpdateEmail(ctx context.Context, token uuid.UUID, email string) (int64, error) {
	tag, err := r.db.Exec(
		ctx, `UPDATE reservations SET email = $1, modified = now() WHERE token = $2`,
		email, token,
	)
	if err != nil {
		return 0, fmt.Errorf("update reservation email: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpdateData replaces the data blob on a single reservation.
func (r *ReservationRepository) UpdateData(ctx context.Context, id int64, data []byte) error {
	tag, err := r.db.Exec(
		ctx, `UPDATE reservations SET data = $1, modified = now() WHERE id = $2`,
		data, id,
	)
	if err != nil {
		return fmt.Errorf("update reservation data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update reservation data: %w", model.ErrInvalidReservationToken)
	}
	return nil
}

// UpdateTimespan moves a single reservation to a new start and end.
func (r *ReservationRepository) UpdateTimespan(ctx context.Context, id int64, start, end time.Time) error {
	tag, err := r.db.Exec(
		ctx, `UPDATE reservations SET start_at = $1, end_at = $2, modified = now() WHERE id = $3`,
		start, end, id,
	)
	if err != nil {
		return fmt.Errorf("update reservation timespan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update reservation timespan: %w", model.ErrInvalidReservationToken)
	}
	return nil
}

// UpdateQuota changes the claimed spots of a single reservation.
func (r *ReservationRepository) UpdateQuota(ctx context.Context, id int64, quota int) error {
	tag, err := r.db.Exec(
		ctx, `UPDATE reservations SET quota = $1, modified = now() WHERE id = $2`,
		quota, id,
	)
	if err != nil {
		return fmt.Errorf("update reservation quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update reservation quota: %w", model.ErrInvalidReservationToken)
	}
	return nil
}

// DeletePending removes only the pending lines of the token and
// returns them.
func (r *ReservationRepository) DeletePending(ctx context.Context, token uuid.UUID) ([]*model.Reservation, error) {
	query := `DELETE FROM reservations WHERE token = $1 AND status = 'pending' RETURNING ` + reservationColumns

	rows, err := r.db.Query(ctx, query, token)
	if err != nil {
		return nil, fmt.Errorf("delete pending reservations: %w", err)
	}

	return r.collect(rows)
}

// Delete removes the reservations of the token, optionally a single
// line of it, and returns the removed rows.
func (r *ReservationRepository) Delete(ctx context.Context, token uuid.UUID, id *int64) ([]*model.Reservation, error) {
	query := `DELETE FROM reservations WHERE token = $1`
	args := []any{token}
	if id != nil {
		query += ` AND id = $2`
		args = append(args, *id)
	}
	query += ` RETURNING ` + reservationColumns

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("delete reservations: %w", err)
	}

	return r.collect(rows)
}

// ConfirmSession detaches the reservations of the browser session from
// their cart, making them survive session expiry. With a token given,
// only that token's lines are detached. Returns the confirmed rows.
func (r *ReservationRepository) ConfirmSession(ctx context.Context, sessionID uuid.UUID, token *uuid.UUID) ([]*model.Reservation, error) {
	query := `
		UPDATE reservations
		SET session_id = NULL, modified = now()
		WHERE session_id = $1`
	args := []any{sessionID}
	if token != nil {
		query += ` AND token = $2`
		args = append(args, *token)
	}
	query += ` RETURNING ` + reservationColumns

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("confirm session: %w", err)
	}

	return r.collect(rows)
}

// ExpiredSessions returns the distinct session ids whose newest cart
// line was created before the cutoff.
func (r *ReservationRepository) ExpiredSessions(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	query := `
		SELECT session_id
		FROM reservations
		WHERE session_id IS NOT NULL
		GROUP BY session_id
		HAVING max(created) < $1
	`

	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("expired sessions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// DeleteBySession removes every reservation of the browser session and
// returns the removed rows.
func (r *ReservationRepository) DeleteBySession(ctx context.Context, sessionID uuid.UUID) ([]*model.Reservation, error) {
	query := `DELETE FROM reservations WHERE session_id = $1 RETURNING ` + reservationColumns

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("delete session reservations: %w", err)
	}

	return r.collect(rows)
}

// DeleteAllOnResource wipes every reservation of the resource.
func (r *ReservationRepository) DeleteAllOnResource(ctx context.Context, resource uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM reservations WHERE resource = $1`, resource); err != nil {
		return fmt.Errorf("delete reservations of resource: %w", err)
	}
	return nil
}
