// Package registry implements the process-wide catalog of actions, plugins,
// and shared values, with lazy plugin-driven resolution and parent/child
// overlay for test or request isolation.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/rendis/catalyst/internal/action"
	"github.com/rendis/catalyst/internal/logging"
	"github.com/rendis/catalyst/internal/runctx"
	"github.com/rendis/catalyst/internal/selector"
	"github.com/rendis/catalyst/pkg/schema"
)

// Registry owns an action table, a plugin table, and a value table.
// A child registry delegates to its parent on lookup misses and never writes
// into the parent's tables. All methods are safe for concurrent use; the
// mutex is held only for table reads and writes, never across plugin
// initialization, resolution, or action invocation.
type Registry struct {
	parent *Registry
	logger *slog.Logger

	// Filters is a cross-cutting singleton shared by reference with child
	// registries, like the logger.
	Filters *selector.Set

	mu             sync.Mutex
	actions        map[string]*entry
	plugins        map[string]*pluginState
	values         map[string]any
	resolving      map[string]*resolveGate
	allInitialized bool
}

// resolveGate serializes plugin resolution per key: one caller runs the
// resolver, concurrent callers for the same key wait and share its outcome.
type resolveGate struct {
	done chan struct{}
	err  error
}

// entry is a slot in the action table: either a resolved action or a pending
// registration forced on first demand.
type entry struct {
	act     action.Action
	pending *future
}

// future memoizes a deferred registration. All callers share the single
// resolution outcome.
type future struct {
	atype   schema.ActionType
	resolve func(ctx context.Context) (action.Action, error)

	once sync.Once
	act  action.Action
	err  error
}

func (f *future) get(ctx context.Context) (action.Action, error) {
	f.once.Do(func() {
		f.act, f.err = f.resolve(ctx)
		if f.err == nil && f.act == nil {
			f.err = schema.NewError(schema.ErrCodeValidation,
				"async registration resolved a nil action")
			return
		}
		if f.err == nil && f.act.Type() != f.atype {
			got := f.act.Type()
			f.act = nil
			f.err = schema.NewErrorf(schema.ErrCodeTypeMismatch,
				"async registration declared type %q but resolved an action of type %q",
				f.atype, got)
		}
	})
	return f.act, f.err
}

// New creates a root registry. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:    logger,
		Filters:   selector.NewSet(logger),
		actions:   make(map[string]*entry),
		plugins:   make(map[string]*pluginState),
		values:    make(map[string]any),
		resolving: make(map[string]*resolveGate),
	}
}

// NewChild creates a child registry that shares cross-cutting singletons with
// the parent by reference but owns independent tables. The child sees
// everything the parent holds unless shadowed locally; the parent never sees
// the child's registrations.
func (r *Registry) NewChild() *Registry {
	return &Registry{
		parent:    r,
		logger:    r.logger,
		Filters:   r.Filters,
		actions:   make(map[string]*entry),
		plugins:   make(map[string]*pluginState),
		values:    make(map[string]any),
		resolving: make(map[string]*resolveGate),
	}
}

// Parent returns the parent registry, or nil for a root.
func (r *Registry) Parent() *Registry { return r.parent }

// Logger returns the registry's logger.
func (r *Registry) Logger() *slog.Logger { return r.logger }

// keyFor computes the table key for a type and name. Names may carry a
// plugin prefix ("openai/gpt-4") or nested folders; the string form is the
// same either way.
func keyFor(atype schema.ActionType, name string) string {
	return "/" + string(atype) + "/" + name
}

// RegisterAction records the action under the key computed from its type and
// name. Registering an action whose declared type disagrees with atype is a
// TYPE_MISMATCH; re-registering a key is a CONFLICT. A key, once registered,
// is immutable for the registry's lifetime.
func (r *Registry) RegisterAction(atype schema.ActionType, a action.Action) error {
	if a == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	if a.Name() == "" {
		return schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}
	if strings.HasPrefix(a.Name(), "/") {
		// Such a name would format into a key with an empty segment, which
		// ParseKey rejects, leaving the action unreachable by lookup.
		return schema.NewErrorf(schema.ErrCodeValidation,
			"action name %q must not begin with %q", a.Name(), "/")
	}
	if a.Type() != atype {
		return schema.NewErrorf(schema.ErrCodeTypeMismatch,
			"action %q declares type %q, registered as %q", a.Name(), a.Type(), atype)
	}
	key := keyFor(atype, a.Name())

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[key]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action already registered").WithKey(key)
	}
	r.actions[key] = &entry{act: a}
	r.logger.Debug("RegisterAction", "key", key)
	return nil
}

// RegisterActionAsync records a pending registration under the key computed
// from atype and name. The resolve function runs at most once, on first
// demand; every waiter shares its outcome. The duplicate policy matches
// RegisterAction.
func (r *Registry) RegisterActionAsync(atype schema.ActionType, name string, resolve func(ctx context.Context) (action.Action, error)) error {
	if resolve == nil {
		return schema.NewError(schema.ErrCodeValidation, "resolve function is nil")
	}
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}
	if strings.HasPrefix(name, "/") {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"action name %q must not begin with %q", name, "/")
	}
	key := keyFor(atype, name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[key]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action already registered").WithKey(key)
	}
	r.actions[key] = &entry{pending: &future{atype: atype, resolve: resolve}}
	r.logger.Debug("RegisterActionAsync", "key", key)
	return nil
}

// LookupAction returns the action for the given key string.
//
// A local hit returns immediately without touching any plugin. On a miss,
// when the key names a locally-registered plugin, the plugin's initializer is
// run (memoized) and, if the key is still absent, its resolver is invoked so
// it can register the action as a side effect. Still-absent keys delegate to
// the parent. Absence is not an error: the second result is false and the
// caller must branch on it.
//
// Plugin initialization and resolution run on a context detached from any
// ambient per-call scope so plugin code does not inherit caller-specific
// session or run state.
func (r *Registry) LookupAction(ctx context.Context, key string) (action.Action, bool, error) {
	k, err := schema.ParseKey(key)
	if err != nil {
		return nil, false, err
	}

	if act, ok, err := r.lookupLocal(ctx, key); err != nil || ok {
		return act, ok, err
	}

	if k.Plugin != "" {
		r.mu.Lock()
		ps := r.plugins[k.Plugin]
		r.mu.Unlock()

		if ps != nil {
			dctx := logging.WithPlugin(runctx.Detach(ctx), k.Plugin)

			if err := ps.init(dctx, r); err != nil {
				return nil, false, schema.NewErrorf(schema.ErrCodePlugin,
					"plugin %q initialization failed", k.Plugin).WithKey(key).WithCause(err)
			}
			if act, ok, err := r.lookupLocal(ctx, key); err != nil || ok {
				return act, ok, err
			}

			if err := r.resolveKey(dctx, ps, k, key); err != nil {
				return nil, false, schema.NewErrorf(schema.ErrCodePlugin,
					"plugin %q failed to resolve action", k.Plugin).WithKey(key).WithCause(err)
			}
			if act, ok, err := r.lookupLocal(ctx, key); err != nil || ok {
				return act, ok, err
			}
		}
	}

	if r.parent != nil {
		return r.parent.LookupAction(ctx, key)
	}
	return nil, false, nil
}

// resolveKey invokes the plugin's resolver for a key, guarded so that only
// one caller resolves a given key at a time; concurrent callers for the same
// key wait for the in-flight resolution and share its outcome.
func (r *Registry) resolveKey(ctx context.Context, ps *pluginState, k schema.ActionKey, key string) error {
	r.mu.Lock()
	if _, ok := r.actions[key]; ok {
		// Registered while this caller was between the miss and the gate.
		r.mu.Unlock()
		return nil
	}
	if g, ok := r.resolving[key]; ok {
		r.mu.Unlock()
		<-g.done
		return g.err
	}
	g := &resolveGate{done: make(chan struct{})}
	r.resolving[key] = g
	r.mu.Unlock()

	g.err = ps.provider.ResolveAction(ctx, r, k.Type, k.Name)
	close(g.done)

	r.mu.Lock()
	delete(r.resolving, key)
	r.mu.Unlock()
	return g.err
}

// lookupLocal checks this registry's table only, forcing a pending
// registration if one is found.
func (r *Registry) lookupLocal(ctx context.Context, key string) (action.Action, bool, error) {
	r.mu.Lock()
	e, ok := r.actions[key]
	if !ok {
		r.mu.Unlock()
		return nil, false, nil
	}
	if e.act != nil {
		act := e.act
		r.mu.Unlock()
		return act, true, nil
	}
	pending := e.pending
	r.mu.Unlock()

	act, err := pending.get(ctx)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	e.act = act
	r.mu.Unlock()
	return act, true, nil
}

// RegisterPlugin records the provider under name. Duplicate names are a
// CONFLICT. Registering a plugin clears the fully-initialized flag.
func (r *Registry) RegisterPlugin(name string, p Provider) error {
	if p == nil {
		return schema.NewError(schema.ErrCodeValidation, "plugin provider is nil")
	}
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "plugin name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "plugin %q already registered", name)
	}
	r.plugins[name] = newPluginState(p)
	r.allInitialized = false
	r.logger.Debug("RegisterPlugin", "name", name)
	return nil
}

// LookupPlugin returns the provider for the given name, delegating to the
// parent on a local miss.
func (r *Registry) LookupPlugin(name string) (Provider, bool) {
	r.mu.Lock()
	ps := r.plugins[name]
	r.mu.Unlock()

	if ps != nil {
		return ps.provider, true
	}
	if r.parent != nil {
		return r.parent.LookupPlugin(name)
	}
	return nil, false
}

// InitializePlugin runs the named plugin's initializer. The call is
// idempotent: subsequent and concurrent callers share the first execution's
// cached outcome. A locally-unknown name delegates to the parent; an unknown
// plugin is NOT_FOUND.
func (r *Registry) InitializePlugin(ctx context.Context, name string) error {
	r.mu.Lock()
	ps := r.plugins[name]
	r.mu.Unlock()

	if ps == nil {
		if r.parent != nil {
			return r.parent.InitializePlugin(ctx, name)
		}
		return schema.NewErrorf(schema.ErrCodeNotFound, "plugin %q not registered", name)
	}

	dctx := logging.WithPlugin(runctx.Detach(ctx), name)
	if err := ps.init(dctx, r); err != nil {
		return schema.NewErrorf(schema.ErrCodePlugin,
			"plugin %q initialization failed", name).WithCause(err)
	}
	return nil
}

// InitializeAllPlugins runs every uninitialized local plugin's initializer.
// A registry-wide flag skips redundant work on repeat calls.
func (r *Registry) InitializeAllPlugins(ctx context.Context) error {
	r.mu.Lock()
	if r.allInitialized {
		r.mu.Unlock()
		return nil
	}
	states := make(map[string]*pluginState, len(r.plugins))
	for name, ps := range r.plugins {
		states[name] = ps
	}
	r.mu.Unlock()

	for name, ps := range states {
		if ps.initialized() {
			if ps.err != nil {
				return schema.NewErrorf(schema.ErrCodePlugin,
					"plugin %q initialization failed", name).WithCause(ps.err)
			}
			continue
		}
		dctx := logging.WithPlugin(runctx.Detach(ctx), name)
		if err := ps.init(dctx, r); err != nil {
			return schema.NewErrorf(schema.ErrCodePlugin,
				"plugin %q initialization failed", name).WithCause(err)
		}
	}

	r.mu.Lock()
	r.allInitialized = true
	r.mu.Unlock()
	return nil
}

// RegisterValue records an arbitrary shared value under (namespace, name).
// Duplicates are a CONFLICT.
func (r *Registry) RegisterValue(namespace, name string, value any) error {
	if namespace == "" || name == "" {
		return schema.NewError(schema.ErrCodeValidation, "value namespace and name are required")
	}
	key := namespace + "/" + name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.values[key]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "value %q already registered", key)
	}
	r.values[key] = value
	r.logger.Debug("RegisterValue", "key", key)
	return nil
}

// LookupValue returns the value for (namespace, name). When the name carries
// a plugin prefix ("openai/defaultModel") and that plugin is known locally,
// its initializer runs first, mirroring action lookup. Local misses delegate
// to the parent; absence is not an error.
func (r *Registry) LookupValue(ctx context.Context, namespace, name string) (any, bool, error) {
	key := namespace + "/" + name

	r.mu.Lock()
	v, ok := r.values[key]
	r.mu.Unlock()
	if ok {
		return v, true, nil
	}

	if plugin, _, found := strings.Cut(name, "/"); found {
		r.mu.Lock()
		ps := r.plugins[plugin]
		r.mu.Unlock()

		if ps != nil {
			dctx := logging.WithPlugin(runctx.Detach(ctx), plugin)
			if err := ps.init(dctx, r); err != nil {
				return nil, false, schema.NewErrorf(schema.ErrCodePlugin,
					"plugin %q initialization failed", plugin).WithCause(err)
			}

			r.mu.Lock()
			v, ok = r.values[key]
			r.mu.Unlock()
			if ok {
				return v, true, nil
			}
		}
	}

	if r.parent != nil {
		return r.parent.LookupValue(ctx, namespace, name)
	}
	return nil, false, nil
}

// ListValues merges the namespace's values across the ancestor chain, with
// child entries shadowing parent entries of the same name.
func (r *Registry) ListValues(namespace string) map[string]any {
	merged := make(map[string]any)
	prefix := namespace + "/"
	for _, reg := range r.chainRootFirst() {
		reg.mu.Lock()
		for key, v := range reg.values {
			if name, ok := strings.CutPrefix(key, prefix); ok {
				merged[name] = v
			}
		}
		reg.mu.Unlock()
	}
	return merged
}

// ListActions waits for every pending registration in this registry and all
// ancestors and returns the merged metadata, child entries shadowing parent
// entries of the same key, sorted by key.
func (r *Registry) ListActions(ctx context.Context) ([]schema.ActionMetadata, error) {
	merged := make(map[string]schema.ActionMetadata)
	for _, reg := range r.chainRootFirst() {
		reg.mu.Lock()
		keys := make([]string, 0, len(reg.actions))
		for key := range reg.actions {
			keys = append(keys, key)
		}
		reg.mu.Unlock()

		for _, key := range keys {
			act, ok, err := reg.lookupLocal(ctx, key)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			desc := act.Desc()
			desc.Key = key
			merged[key] = desc
		}
	}
	return sortedMetadata(merged), nil
}

// ListResolvableActions merges the metadata every plugin's lister reports,
// without running full initialization, with the metadata of
// already-registered actions; registered entries win on key collision.
// A failing or panicking lister is logged and skipped so one broken plugin
// cannot fail the overall listing. Pending registrations are not forced.
func (r *Registry) ListResolvableActions(ctx context.Context) []schema.ActionMetadata {
	merged := make(map[string]schema.ActionMetadata)

	for _, reg := range r.chainRootFirst() {
		reg.mu.Lock()
		states := make(map[string]*pluginState, len(reg.plugins))
		for name, ps := range reg.plugins {
			states[name] = ps
		}
		reg.mu.Unlock()

		for name, ps := range states {
			metas, err := listPluginActions(ctx, ps.provider)
			if err != nil {
				reg.logger.Warn("plugin lister failed, skipping its entries",
					slog.String("plugin", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			for _, meta := range metas {
				if meta.Key == "" {
					meta.Key = keyFor(meta.Type, meta.Name)
				}
				merged[meta.Key] = meta
			}
		}
	}

	// Registered actions shadow lister-reported metadata for the same key.
	for _, reg := range r.chainRootFirst() {
		reg.mu.Lock()
		for key, e := range reg.actions {
			if e.act == nil {
				continue
			}
			desc := e.act.Desc()
			desc.Key = key
			merged[key] = desc
		}
		reg.mu.Unlock()
	}

	return sortedMetadata(merged)
}

// listPluginActions invokes a plugin's lister, converting panics to errors.
func listPluginActions(ctx context.Context, p Provider) (metas []schema.ActionMetadata, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			metas = nil
			err = schema.NewErrorf(schema.ErrCodePlugin, "lister panicked: %v", rec)
		}
	}()
	return p.ListActions(ctx)
}

// chainRootFirst returns the ancestor chain ordered root to leaf, so later
// (child) entries overwrite earlier (parent) ones during merges.
func (r *Registry) chainRootFirst() []*Registry {
	var chain []*Registry
	for reg := r; reg != nil; reg = reg.parent {
		chain = append([]*Registry{reg}, chain...)
	}
	return chain
}

func sortedMetadata(merged map[string]schema.ActionMetadata) []schema.ActionMetadata {
	out := make([]schema.ActionMetadata, 0, len(merged))
	for _, meta := range merged {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
