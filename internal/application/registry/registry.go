// Package registry maps a job's type string to an executor capability.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/haldenlab/jobqueue/internal/domain"
)

// ProgressReporter is the capability a Handler uses to report progress.
// It must be safe to call any number of times, including zero.
type ProgressReporter func(percent *int, message *string)

// Handler is the executor capability: given a job's id and payload, it
// runs to completion and returns a result, or returns an error.
type Handler interface {
	Handle(ctx context.Context, id int64, payload map[string]any, report ProgressReporter) (map[string]any, error)
}

// HandlerFunc adapts a plain function to a Handler.
type HandlerFunc func(ctx context.Context, id int64, payload map[string]any, report ProgressReporter) (map[string]any, error)

func (f HandlerFunc) Handle(ctx context.Context, id int64, payload map[string]any, report ProgressReporter) (map[string]any, error) {
	return f(ctx, id, payload, report)
}

// ServiceLocator is an optional external collaborator consulted before
// the registry constructs a fresh instance. It answers whether it can
// supply an executor for typeKey and, if so, supplies it.
type ServiceLocator interface {
	Has(typeKey string) bool
	Get(typeKey string) (Handler, error)
}

// Registry maps job type strings to Handler constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]func() (Handler, error)
	locator      ServiceLocator
}

// New creates an empty Registry. locator may be nil.
func New(locator ServiceLocator) *Registry {
	return &Registry{
		constructors: make(map[string]func() (Handler, error)),
		locator:      locator,
	}
}

// Register associates typeKey with a constructor. The constructor is
// invoked once, immediately, to check the resulting executor conforms to
// Handler; a non-conforming constructor is rejected at registration time,
// not at dispatch time.
func (r *Registry) Register(typeKey string, constructor func() (Handler, error)) error {
	h, err := constructor()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidExecutor, typeKey, err)
	}
	if h == nil {
		return fmt.Errorf("%w: %s: constructor returned nil", domain.ErrInvalidExecutor, typeKey)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[typeKey] = constructor
	return nil
}

// RegisterHandler is a convenience for registering an already-built,
// shared Handler instance under typeKey.
func (r *Registry) RegisterHandler(typeKey string, h Handler) error {
	return r.Register(typeKey, func() (Handler, error) { return h, nil })
}

// Lookup resolves typeKey to an executor. It consults the optional
// ServiceLocator first; if absent or it does not yield a conforming
// instance, it constructs a fresh instance via the registered
// constructor. Returns domain.ErrHandlerNotRegistered for unknown types.
func (r *Registry) Lookup(typeKey string) (Handler, error) {
	if r.locator != nil && r.locator.Has(typeKey) {
		h, err := r.locator.Get(typeKey)
		if err == nil && h != nil {
			return h, nil
		}
	}

	r.mu.RLock()
	constructor, ok := r.constructors[typeKey]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrHandlerNotRegistered, typeKey)
	}
	return constructor()
}
