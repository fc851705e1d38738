// Package registry manages named scheduler contexts. An application
// owns a Registry, registers one context per consumer and hands those
// contexts to schedulers. A package-level default registry exists for
// convenience.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrContextAlreadyExists is returned when registering a name twice
	// without asking for replacement.
	ErrContextAlreadyExists = errors.New("context already exists")

	// ErrUnknownContext is returned when looking up an unregistered
	// name.
	ErrUnknownContext = errors.New("unknown context")

	// ErrContextIsLocked is returned when changing settings on a locked
	// context.
	ErrContextIsLocked = errors.New("context is locked")
)

// Registry holds a number of contexts and manages their creation.
type Registry struct {
	mu       sync.RWMutex
	contexts map[string]*Context
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{contexts: make(map[string]*Context)}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the shared process-wide registry. Applications that
// avoid global state create their own with New.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New()
	})
	return defaultRegistry
}

// Register creates a new context under the given name.
func (r *Registry) Register(name string, settings Settings) (*Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.contexts[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrContextAlreadyExists, name)
	}

	ctx := newContext(name, settings)
	r.contexts[name] = ctx

	return ctx, nil
}

// Replace registers a context under the given name, replacing and
// stopping any existing one.
func (r *Registry) Replace(name string, settings Settings) (*Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.contexts[name]; ok {
		if existing.locked() {
			return nil, fmt.Errorf("%w: %s", ErrContextIsLocked, name)
		}
		existing.Stop()
	}

	ctx := newContext(name, settings)
	r.contexts[name] = ctx

	return ctx, nil
}

// Get returns the context registered under the given name.
func (r *Registry) Get(name string) (*Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctx, ok := r.contexts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContext, name)
	}

	return ctx, nil
}

// Exists reports whether a context is registered under the given name.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.contexts[name]
	return ok
}

// Stop stops every registered context and empties the registry.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ctx := range r.contexts {
		ctx.Stop()
	}
	r.contexts = make(map[string]*Context)
}
