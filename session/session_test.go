package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/seantis/libres/model"
)

func TestInTransaction(t *testing.T) {
	ctx := context.Background()
	assert.False(t, InTransaction(ctx))

	ctx = context.WithValue(ctx, txKey{}, &writeTx{})
	assert.True(t, InTransaction(ctx))
}

func TestReadSessionRejectsWrites(t *testing.T) {
	p := NewWithPool(nil, nil)

	_, err := p.Read().Exec(context.Background(), "DELETE FROM allocations")
	assert.ErrorIs(t, err, model.ErrModifiedReadOnlySession)
}

func TestReadSessionRejectsDirtyReads(t *testing.T) {
	p := NewWithPool(nil, nil)
	p.dirty.Add(1)
	defer p.dirty.Add(-1)

	_, err := p.Read().Query(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, model.ErrDirtyReadOnlySession)

	err = p.Read().QueryRow(context.Background(), "SELECT 1").Scan()
	assert.ErrorIs(t, err, model.ErrDirtyReadOnlySession)
}

func TestWriteTxDirtyTracking(t *testing.T) {
	p := NewWithPool(nil, nil)
	wtx := &writeTx{provider: p}

	wtx.markDirty()
	wtx.markDirty()
	assert.Equal(t, int32(1), p.dirty.Load())

	wtx.done()
	wtx.done()
	assert.Equal(t, int32(0), p.dirty.Load())
}

func TestIsSerializationFailure(t *testing.T) {
	serialization := &pgconn.PgError{Code: "40001"}

	assert.True(t, IsSerializationFailure(serialization))
	assert.True(t, IsSerializationFailure(fmt.Errorf("commit: %w", serialization)))
	assert.False(t, IsSerializationFailure(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsSerializationFailure(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}

	assert.True(t, IsUniqueViolation(unique))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", unique)))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "40001"}))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(pgx.ErrNoRows))
	assert.True(t, IsNotFound(fmt.Errorf("scan: %w", pgx.ErrNoRows)))
	assert.False(t, IsNotFound(fmt.Errorf("boom")))
}

func TestSerializedJoinsExistingTransaction(t *testing.T) {
	p := NewWithPool(nil, nil)

	outer := context.WithValue(context.Background(), txKey{}, &writeTx{provider: p})

	called := false
	err := p.Serialized(outer, func(ctx context.Context) error {
		called = true
		assert.True(t, InTransaction(ctx))
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, called)
}
