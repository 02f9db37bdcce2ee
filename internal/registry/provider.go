package registry

import (
	"context"
	"sync"

	"github.com/rendis/catalyst/pkg/schema"
)

// Provider is a named bundle of lazily-resolved functionality: one memoized
// initializer, one on-demand resolver, and one lister.
//
// Init runs at most once per registry; every concurrent caller shares the
// single execution and its outcome. ResolveAction is invoked on a lookup miss
// for a key naming this plugin and is expected to register the action into r
// as a side effect. ListActions reports resolvable action metadata without
// paying the full initialization cost.
type Provider interface {
	Name() string
	Init(ctx context.Context, r *Registry) error
	ResolveAction(ctx context.Context, r *Registry, atype schema.ActionType, name string) error
	ListActions(ctx context.Context) ([]schema.ActionMetadata, error)
}

// pluginState pairs a provider with its initialization gate. The gate
// guarantees the initializer runs to completion at most once; the cached
// outcome (success or failure) is shared by all waiters for the registry's
// lifetime. There is no cancellation of an in-flight initialization.
type pluginState struct {
	provider Provider

	mu      sync.Mutex
	started bool
	done    chan struct{}
	err     error
}

func newPluginState(p Provider) *pluginState {
	return &pluginState{provider: p, done: make(chan struct{})}
}

// init runs the provider's initializer exactly once. Late callers block until
// the first execution finishes and observe its result.
func (ps *pluginState) init(ctx context.Context, r *Registry) error {
	ps.mu.Lock()
	if ps.started {
		ps.mu.Unlock()
		<-ps.done
		return ps.err
	}
	ps.started = true
	ps.mu.Unlock()

	defer close(ps.done)
	ps.err = ps.provider.Init(ctx, r)
	return ps.err
}

// initialized reports whether init has already completed.
func (ps *pluginState) initialized() bool {
	select {
	case <-ps.done:
		return true
	default:
		return false
	}
}
