package registry

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seantis/libres/session"
)

// DefaultUUIDNamespace seeds the derivation of resource ids from
// context and scheduler names. Changing it after records were created
// severs the link between names and rows, so leave it alone.
var DefaultUUIDNamespace = uuid.MustParse("49326ef9-fbc0-4ac0-9508-b0bbd75d42f7")

// Settings configures a context. The zero value is usable for
// everything except DSN.
type Settings struct {
	// DSN is the PostgreSQL connection URL.
	DSN string

	// Timezone is the default IANA timezone of schedulers on this
	// context. Defaults to UTC.
	Timezone string

	// JSONMarshal and JSONUnmarshal encode and decode the opaque data
	// blobs on allocations and reservations. Default to encoding/json.
	JSONMarshal   func(v any) ([]byte, error)
	JSONUnmarshal func(data []byte, v any) error

	// DecodeAllocationData and DecodeReservationData are the extension
	// point for callers needing a richer data shape: instead of
	// subclassing entities they provide a decoder for the raw blob.
	DecodeAllocationData  func(data []byte) (any, error)
	DecodeReservationData func(data []byte) (any, error)

	// UUIDNamespace derives resource ids from names. Defaults to
	// DefaultUUIDNamespace.
	UUIDNamespace uuid.UUID

	// EmailValidator validates reservee addresses. Defaults to a
	// validator/v10 "required,email" check.
	EmailValidator func(email string) bool

	// SessionProvider overrides the session provider factory, mainly
	// for tests that share a pool.
	SessionProvider func(ctx context.Context, settings *Settings, logger *zap.Logger) (*session.Provider, error)

	// Logger receives the engine's structured logs. Defaults to a nop
	// logger.
	Logger *zap.Logger
}

func (s *Settings) withDefaults() Settings {
	out := *s

	if out.Timezone == "" {
		out.Timezone = "UTC"
	}
	if out.JSONMarshal == nil {
		out.JSONMarshal = json.Marshal
	}
	if out.JSONUnmarshal == nil {
		out.JSONUnmarshal = json.Unmarshal
	}
	if out.UUIDNamespace == uuid.Nil {
		out.UUIDNamespace = DefaultUUIDNamespace
	}
	if out.EmailValidator == nil {
		out.EmailValidator = defaultEmailValidator()
	}
	if out.SessionProvider == nil {
		out.SessionProvider = func(ctx context.Context, settings *Settings, logger *zap.Logger) (*session.Provider, error) {
			return session.New(ctx, settings.DSN, logger)
		}
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}

	return out
}

func defaultEmailValidator() func(string) bool {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return func(email string) bool {
		return validate.Var(email, "required,email") == nil
	}
}
