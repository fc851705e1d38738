package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seantis/libres/events"
	"github.com/seantis/libres/session"
)

// Context bundles the settings and lazily built services one consumer
// of the engine operates on. Multiple consumers co-exist in a process
// by using separate contexts.
type Context struct {
	name     string
	settings Settings
	hub      *events.Hub

	mu       sync.Mutex
	isLocked bool
	provider *session.Provider
	provErr  error
}

func newContext(name string, settings Settings) *Context {
	return &Context{
		name:     name,
		settings: settings.withDefaults(),
		hub:      &events.Hub{},
	}
}

// Name returns the context's registered name.
func (c *Context) Name() string {
	return c.name
}

// Settings returns a copy of the context's settings with defaults
// applied.
func (c *Context) Settings() Settings {
	return c.settings
}

// Events returns the context's hook hub.
func (c *Context) Events() *events.Hub {
	return c.hub
}

// Logger returns the context's logger.
func (c *Context) Logger() *zap.Logger {
	return c.settings.Logger
}

// SessionProvider returns the context's session provider, building it
// on first use and caching it afterwards.
func (c *Context) SessionProvider(ctx context.Context) (*session.Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.provider == nil && c.provErr == nil {
		c.provider, c.provErr = c.settings.SessionProvider(ctx, &c.settings, c.settings.Logger)
		if c.provErr != nil {
			c.provErr = fmt.Errorf("build session provider: %w", c.provErr)
		}
	}

	return c.provider, c.provErr
}

// ResourceID derives the stable resource id for a scheduler name on
// this context.
func (c *Context) ResourceID(name string) uuid.UUID {
	return uuid.NewSHA1(c.settings.UUIDNamespace, []byte(c.name+"/"+name))
}

// ValidateEmail runs the context's email validator.
func (c *Context) ValidateEmail(email string) bool {
	return c.settings.EmailValidator(email)
}

// EncodeData serializes a value into the blob format stored on
// allocations and reservations.
func (c *Context) EncodeData(v any) (json.RawMessage, error) {
	data, err := c.settings.JSONMarshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	return data, nil
}

// DecodeAllocationData decodes an allocation data blob through the
// configured decoder. Without one the blob decodes into generic JSON
// values.
func (c *Context) DecodeAllocationData(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if c.settings.DecodeAllocationData != nil {
		return c.settings.DecodeAllocationData(data)
	}

	var v any
	if err := c.settings.JSONUnmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode allocation data: %w", err)
	}
	return v, nil
}

// DecodeReservationData decodes a reservation data blob through the
// configured decoder. Without one the blob decodes into generic JSON
// values.
func (c *Context) DecodeReservationData(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if c.settings.DecodeReservationData != nil {
		return c.settings.DecodeReservationData(data)
	}

	var v any
	if err := c.settings.JSONUnmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode reservation data: %w", err)
	}
	return v, nil
}

// Lock prevents further replacement of this context in its registry.
func (c *Context) Lock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isLocked = true
}

func (c *Context) locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLocked
}

// Stop releases the context's cached services.
func (c *Context) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.provider != nil {
		c.provider.Close()
		c.provider = nil
		c.provErr = nil
	}
}
