// Package registry maps event methods to their handlers.
// Handlers are registered on a Builder during startup; Build freezes them into
// a Registry that has no mutating methods and is safe to share.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/0xmhha/event-indexer/pkg/storage"
	"github.com/0xmhha/event-indexer/pkg/types"
)

var (
	// ErrDuplicateMethod is returned when a method is registered twice
	ErrDuplicateMethod = errors.New("method is already registered")

	// ErrEmptyMethod is returned when registering an empty method name
	ErrEmptyMethod = errors.New("method cannot be empty")

	// ErrNilHandler is returned when registering a nil handler
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrSealed is returned when registering after Build
	ErrSealed = errors.New("registry is sealed")
)

// Handler processes a single event. Writes go through store and become durable
// only when the whole block commits.
type Handler func(ctx context.Context, event *types.Event, store storage.Handle) error

// Builder collects handler registrations during startup
type Builder struct {
	mu       sync.Mutex
	handlers map[string]Handler
	sealed   bool
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{handlers: make(map[string]Handler)}
}

// Register adds a handler for method
func (b *Builder) Register(method string, handler Handler) error {
	if method == "" {
		return ErrEmptyMethod
	}
	if handler == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, method)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrSealed, method)
	}
	if _, exists := b.handlers[method]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, method)
	}

	b.handlers[method] = handler
	return nil
}

// MustRegister registers a handler and panics on error
// This is useful for init() functions
func (b *Builder) MustRegister(method string, handler Handler) {
	if err := b.Register(method, handler); err != nil {
		panic(fmt.Sprintf("failed to register handler: %v", err))
	}
}

// Build seals the builder and returns the immutable registry
func (b *Builder) Build() *Registry {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sealed = true
	handlers := make(map[string]Handler, len(b.handlers))
	for m, h := range b.handlers {
		handlers[m] = h
	}
	return &Registry{handlers: handlers}
}

// Registry is a read-only method to handler mapping
type Registry struct {
	handlers map[string]Handler
}

// New builds a registry from a processing pack in one step
func New(pack map[string]Handler) (*Registry, error) {
	b := NewBuilder()
	for _, method := range sortedKeys(pack) {
		if err := b.Register(method, pack[method]); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// Lookup returns the handler for method. ok is false for unrecognized methods.
func (r *Registry) Lookup(method string) (handler Handler, ok bool) {
	if r == nil {
		return nil, false
	}
	handler, ok = r.handlers[method]
	return handler, ok
}

// Has checks if a method is registered
func (r *Registry) Has(method string) bool {
	_, ok := r.Lookup(method)
	return ok
}

// Methods returns all registered methods in sorted order
func (r *Registry) Methods() []string {
	if r == nil {
		return nil
	}
	return sortedKeys(r.handlers)
}

// Len returns the number of registered methods
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.handlers)
}

func sortedKeys(m map[string]Handler) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
