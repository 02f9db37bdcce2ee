package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/catalyst/internal/action"
	"github.com/rendis/catalyst/internal/registry"
	"github.com/rendis/catalyst/internal/runctx"
	"github.com/rendis/catalyst/internal/scheduler"
	"github.com/rendis/catalyst/internal/store"
	"github.com/rendis/catalyst/pkg/schema"
)

// Environment selects runtime behavior defaults.
type Environment string

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"
)

// Options configures a Runtime.
type Options struct {
	// Logger receives all runtime logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Store persists run state. Nil disables persistence and scheduling.
	Store store.Store

	// Environment defaults to EnvProd.
	Environment Environment

	// EagerInit initializes all registered plugins during Start instead of
	// on first lookup.
	EagerInit bool

	// EnableScheduler starts the cron scheduler during Start. Requires Store.
	EnableScheduler bool
}

// Runtime owns the registry and the background machinery around it: the run
// store and the cron scheduler. Hosts construct one Runtime, register plugins
// and actions through Registry(), then Start it.
type Runtime struct {
	reg       *registry.Registry
	store     store.Store
	sched     *scheduler.Scheduler
	logger    *slog.Logger
	env       Environment
	eagerInit bool

	mu      sync.Mutex
	started bool
}

// New creates a Runtime. The registry is usable immediately; Start is only
// required for store migration, eager plugin init, and scheduling.
func New(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	env := opts.Environment
	if env == "" {
		env = EnvProd
	}

	rt := &Runtime{
		reg:    registry.New(logger),
		store:  opts.Store,
		logger: logger,
		env:    env,
	}
	if opts.EnableScheduler && opts.Store != nil {
		rt.sched = scheduler.New(opts.Store, rt, logger)
	}
	rt.eagerInit = opts.EagerInit
	return rt
}

// Registry returns the runtime's root registry.
func (rt *Runtime) Registry() *registry.Registry { return rt.reg }

// Env reports the configured environment.
func (rt *Runtime) Env() Environment { return rt.env }

// Start migrates the store, optionally initializes all plugins, and starts
// the scheduler.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.started {
		return fmt.Errorf("runtime already started")
	}

	if rt.store != nil {
		if err := rt.store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
	}
	if rt.eagerInit {
		if err := rt.reg.InitializeAllPlugins(ctx); err != nil {
			return err
		}
	}
	if rt.sched != nil {
		if err := rt.sched.Start(ctx); err != nil {
			return err
		}
	}

	rt.started = true
	rt.logger.Info("runtime started", slog.String("environment", string(rt.env)))
	return nil
}

// Stop shuts down the scheduler and closes the store.
func (rt *Runtime) Stop(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.started {
		return nil
	}

	if rt.sched != nil {
		if err := rt.sched.Stop(); err != nil {
			return err
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			return err
		}
	}

	rt.started = false
	rt.logger.Info("runtime stopped")
	return nil
}

// RunAction looks up an action by key, runs it under a fresh run scope, and
// persists the run record when a store is configured. A missing action is
// NOT_FOUND.
func (rt *Runtime) RunAction(ctx context.Context, key string, input json.RawMessage) (json.RawMessage, error) {
	act, ok, err := rt.reg.LookupAction(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %q not found", key).WithKey(key)
	}
	return rt.run(ctx, key, act, input)
}

// RunActionJSON satisfies scheduler.ActionRunner.
func (rt *Runtime) RunActionJSON(ctx context.Context, actionKey string, input json.RawMessage) (json.RawMessage, error) {
	return rt.RunAction(ctx, actionKey, input)
}

func (rt *Runtime) run(ctx context.Context, key string, act action.Action, input json.RawMessage) (json.RawMessage, error) {
	parent, _ := runctx.RunFromContext(ctx)
	run := runctx.NewRun(key, parent)
	ctx = runctx.WithRun(ctx, run)

	rec := rt.beginRun(ctx, run, key, input)
	output, err := act.RunJSON(ctx, input, nil)
	rt.finishRun(ctx, rec, output, err)
	return output, err
}

func (rt *Runtime) beginRun(ctx context.Context, run *runctx.Run, key string, input json.RawMessage) *store.Run {
	if rt.store == nil {
		return nil
	}
	now := time.Now().UTC()
	rec := &store.Run{
		ID:        run.ID,
		ActionKey: key,
		Status:    store.RunStatusRunning,
		Input:     input,
		CreatedAt: now,
		StartedAt: &now,
	}
	if sess, ok := runctx.SessionFromContext(ctx); ok {
		rec.SessionID = sess.ID
	}
	if err := rt.store.SaveRun(ctx, rec); err != nil {
		rt.logger.Error("failed to persist run start",
			slog.String("run_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
	return rec
}

func (rt *Runtime) finishRun(ctx context.Context, rec *store.Run, output json.RawMessage, runErr error) {
	if rec == nil {
		return
	}
	now := time.Now().UTC()
	rec.CompletedAt = &now
	if runErr != nil {
		rec.Status = store.RunStatusFailed
		rec.Error = runErr.Error()
		if ctx.Err() != nil {
			rec.Status = store.RunStatusCancelled
		}
	} else {
		rec.Status = store.RunStatusSucceeded
		rec.Output = output
	}
	if err := rt.store.SaveRun(ctx, rec); err != nil {
		rt.logger.Error("failed to persist run completion",
			slog.String("run_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

// SetDefaultModel records the key of the model to fall back to when a caller
// names none. Setting it twice is a CONFLICT, like any value registration.
func (rt *Runtime) SetDefaultModel(modelKey string) error {
	return rt.reg.RegisterValue(schema.ValueNamespace, schema.DefaultModelName, modelKey)
}

// DefaultModel returns the configured fallback model key, if any.
func (rt *Runtime) DefaultModel(ctx context.Context) (string, bool, error) {
	return rt.lookupStringValue(ctx, schema.DefaultModelName)
}

// SetPromptDir records the directory prompt actions are loaded from.
func (rt *Runtime) SetPromptDir(dir string) error {
	return rt.reg.RegisterValue(schema.ValueNamespace, schema.PromptDirName, dir)
}

// PromptDir returns the configured prompt directory, if any.
func (rt *Runtime) PromptDir(ctx context.Context) (string, bool, error) {
	return rt.lookupStringValue(ctx, schema.PromptDirName)
}

func (rt *Runtime) lookupStringValue(ctx context.Context, name string) (string, bool, error) {
	v, ok, err := rt.reg.LookupValue(ctx, schema.ValueNamespace, name)
	if err != nil || !ok {
		return "", false, err
	}
	s, ok := v.(string)
	if !ok {
		return "", false, schema.NewErrorf(schema.ErrCodeTypeMismatch,
			"value %s/%s holds %T, want string", schema.ValueNamespace, name, v)
	}
	return s, true, nil
}

// FindActions lists every action the runtime could serve, including ones
// plugins advertise without registering, filtered by an expression in the
// given engine ("cel", "expr", or "jq"). An empty expression returns the
// full list.
func (rt *Runtime) FindActions(ctx context.Context, engine, expression string) ([]schema.ActionMetadata, error) {
	metas := rt.reg.ListResolvableActions(ctx)
	if expression == "" {
		return metas, nil
	}
	return rt.reg.Filters.Filter(ctx, engine, metas, expression)
}

// ScheduleAction registers a recurring invocation of an action. The job ID is
// returned for later management through the store.
func (rt *Runtime) ScheduleAction(ctx context.Context, actionKey, cronExpr string, input json.RawMessage) (string, error) {
	if rt.store == nil {
		return "", schema.NewError(schema.ErrCodeValidation, "scheduling requires a configured store")
	}
	if rt.sched == nil {
		return "", schema.NewError(schema.ErrCodeValidation, "scheduler is not enabled")
	}
	if _, err := rt.sched.NextRun(cronExpr, time.Now().UTC()); err != nil {
		return "", schema.NewError(schema.ErrCodeValidation, "invalid cron expression").WithCause(err)
	}

	job := &store.ScheduledJob{
		ID:        uuid.NewString(),
		ActionKey: actionKey,
		CronExpr:  cronExpr,
		Input:     input,
		Enabled:   true,
	}
	if err := rt.store.CreateScheduledJob(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}
