// Package session manages the two logical database sessions of a
// context: a serializable write session and a guarded read-only
// session, both sharing one pgx connection pool.
//
// Every mutating scheduler operation runs inside exactly one
// serializable transaction opened through Serialized; nested calls
// join the outermost transaction. Serialization conflicts are retried
// a bounded number of times with exponential backoff before
// surfacing a rollback error.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/seantis/libres/model"
)

const (
	defaultMaxRetries  = 5
	defaultBaseBackoff = 5 * time.Millisecond
	maxBackoff         = 40 * time.Millisecond
)

// DB is the common query surface of the write and read sessions.
// Repositories are built against this interface so the same code runs
// inside a transaction or against the pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Provider owns the connection pool and hands out the two session
// handles.
type Provider struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	maxRetries  uint64
	baseBackoff time.Duration

	// number of write transactions holding uncommitted changes; the
	// read session refuses to serve while this is non-zero
	dirty atomic.Int32

	// total serialization-conflict retries, exposed as a metric
	retries atomic.Int64
}

// New connects to the given DSN and returns a provider. The logger may
// be nil.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Provider, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	return NewWithPool(pool, logger), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		pool:        pool,
		logger:      logger,
		maxRetries:  defaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// Pool returns the underlying connection pool.
func (p *Provider) Pool() *pgxpool.Pool {
	return p.pool
}

// Close releases the pool.
func (p *Provider) Close() {
	p.pool.Close()
}

// RetryCount returns the total number of serialization-conflict
// retries performed so far.
func (p *Provider) RetryCount() int64 {
	return p.retries.Load()
}

// Write returns the serializable write session handle.
func (p *Provider) Write() *WriteSession {
	return &WriteSession{provider: p}
}

// Read returns the guarded read-only session handle.
func (p *Provider) Read() *ReadSession {
	return &ReadSession{provider: p}
}

type txKey struct{}

// writeTx tracks one open write transaction and whether it has made
// the session dirty.
type writeTx struct {
	tx       pgx.Tx
	provider *Provider
	dirty    bool
}

func (w *writeTx) markDirty() {
	if !w.dirty {
		w.dirty = true
		w.provider.dirty.Add(1)
	}
}

func (w *writeTx) done() {
	if w.dirty {
		w.dirty = false
		w.provider.dirty.Add(-1)
	}
}

func txFrom(ctx context.Context) *writeTx {
	wtx, _ := ctx.Value(txKey{}).(*writeTx)
	return wtx
}

// InTransaction reports whether ctx already carries a write
// transaction.
func InTransaction(ctx context.Context) bool {
	return txFrom(ctx) != nil
}

// Serialized runs fn inside a single serializable transaction. If ctx
// already carries one, fn joins it and the outermost caller owns the
// commit. On serialization failure the transaction is retried with
// fresh reads; once the budget is exhausted ErrTransactionRollback is
// returned.
func (p *Provider) Serialized(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	backoff := retry.WithCappedDuration(maxBackoff, retry.NewExponential(p.baseBackoff))
	backoff = retry.WithMaxRetries(p.maxRetries, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		err := p.runSerialized(ctx, fn)
		if IsSerializationFailure(err) {
			p.retries.Add(1)
			p.logger.Debug("serialization conflict, retrying",
				zap.Int("attempt", attempt),
				zap.Int64("total_retries", p.retries.Load()),
			)
			return retry.RetryableError(err)
		}

		return err
	})

	if IsSerializationFailure(err) {
		return fmt.Errorf("%w: %w", model.ErrTransactionRollback, err)
	}

	return err
}

func (p *Provider) runSerialized(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	wtx := &writeTx{tx: tx, provider: p}
	defer wtx.done()
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey{}, wtx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	wtx.done()

	return nil
}

// WriteSession executes statements inside the current write
// transaction. Outside a transaction it falls through to the pool in
// autocommit mode.
type WriteSession struct {
	provider *Provider
}

func (s *WriteSession) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if wtx := txFrom(ctx); wtx != nil {
		wtx.markDirty()
		return wtx.tx.Exec(ctx, sql, args...)
	}
	return s.provider.pool.Exec(ctx, sql, args...)
}

func (s *WriteSession) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if wtx := txFrom(ctx); wtx != nil {
		return wtx.tx.Query(ctx, sql, args...)
	}
	return s.provider.pool.Query(ctx, sql, args...)
}

func (s *WriteSession) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if wtx := txFrom(ctx); wtx != nil {
		return wtx.tx.QueryRow(ctx, sql, args...)
	}
	return s.provider.pool.QueryRow(ctx, sql, args...)
}

// ReadSession serves pure queries. The guard refuses writes outright
// and refuses reads while the write session holds uncommitted changes,
// since those would not see a consistent state.
type ReadSession struct {
	provider *Provider
}

func (s *ReadSession) guard() error {
	if s.provider.dirty.Load() > 0 {
		return model.ErrDirtyReadOnlySession
	}
	return nil
}

func (s *ReadSession) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, model.ErrModifiedReadOnlySession
}

func (s *ReadSession) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.provider.pool.Query(ctx, sql, args...)
}

func (s *ReadSession) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := s.guard(); err != nil {
		return errRow{err}
	}
	return s.provider.pool.QueryRow(ctx, sql, args...)
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// IsSerializationFailure reports whether err is a serializable-isolation
// conflict between concurrent transactions.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

// IsUniqueViolation reports whether err is a primary-key or unique
// constraint conflict. The reserved-slot primary key turns
// double-booking into exactly this error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsNotFound reports whether err means no row matched.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
