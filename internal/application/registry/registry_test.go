package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haldenlab/jobqueue/internal/application/registry"
	"github.com/haldenlab/jobqueue/internal/domain"
)

func noopHandler() (registry.Handler, error) {
	return registry.HandlerFunc(func(ctx context.Context, id int64, payload map[string]any, report registry.ProgressReporter) (map[string]any, error) {
		return nil, nil
	}), nil
}

func TestRegister_RejectsConstructorError(t *testing.T) {
	r := registry.New(nil)
	err := r.Register("broken", func() (registry.Handler, error) {
		return nil, errors.New("boom")
	})
	require.ErrorIs(t, err, domain.ErrInvalidExecutor)
}

func TestRegister_RejectsNilHandler(t *testing.T) {
	r := registry.New(nil)
	err := r.Register("nilhandler", func() (registry.Handler, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, domain.ErrInvalidExecutor)
}

func TestLookup_UnknownTypeReturnsErrHandlerNotRegistered(t *testing.T) {
	r := registry.New(nil)
	_, err := r.Lookup("unknown")
	require.ErrorIs(t, err, domain.ErrHandlerNotRegistered)
}

func TestLookup_ReturnsRegisteredHandler(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Register("noop", noopHandler))

	h, err := r.Lookup("noop")
	require.NoError(t, err)
	require.NotNil(t, h)
}

func TestRegisterHandler_SharesSingleInstance(t *testing.T) {
	r := registry.New(nil)
	calls := 0
	h := registry.HandlerFunc(func(ctx context.Context, id int64, payload map[string]any, report registry.ProgressReporter) (map[string]any, error) {
		calls++
		return nil, nil
	})
	require.NoError(t, r.RegisterHandler("shared", h))

	got1, err := r.Lookup("shared")
	require.NoError(t, err)
	got2, err := r.Lookup("shared")
	require.NoError(t, err)

	_, _ = got1.Handle(context.Background(), 1, nil, nil)
	_, _ = got2.Handle(context.Background(), 1, nil, nil)
	require.Equal(t, 2, calls)
}

type fakeLocator struct {
	handlers map[string]registry.Handler
}

func (f *fakeLocator) Has(typeKey string) bool { _, ok := f.handlers[typeKey]; return ok }
func (f *fakeLocator) Get(typeKey string) (registry.Handler, error) {
	h, ok := f.handlers[typeKey]
	if !ok {
		return nil, errors.New("not found")
	}
	return h, nil
}

func TestLookup_PrefersServiceLocatorOverRegisteredConstructor(t *testing.T) {
	locatorHandler := registry.HandlerFunc(func(ctx context.Context, id int64, payload map[string]any, report registry.ProgressReporter) (map[string]any, error) {
		return map[string]any{"source": "locator"}, nil
	})
	locator := &fakeLocator{handlers: map[string]registry.Handler{"dual": locatorHandler}}

	r := registry.New(locator)
	require.NoError(t, r.Register("dual", func() (registry.Handler, error) {
		return registry.HandlerFunc(func(ctx context.Context, id int64, payload map[string]any, report registry.ProgressReporter) (map[string]any, error) {
			return map[string]any{"source": "constructor"}, nil
		}), nil
	}))

	h, err := r.Lookup("dual")
	require.NoError(t, err)
	result, err := h.Handle(context.Background(), 1, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "locator", result["source"])
}

func TestLookup_FallsBackToConstructorWhenLocatorMisses(t *testing.T) {
	locator := &fakeLocator{handlers: map[string]registry.Handler{}}
	r := registry.New(locator)
	require.NoError(t, r.Register("fallback", noopHandler))

	h, err := r.Lookup("fallback")
	require.NoError(t, err)
	require.NotNil(t, h)
}
