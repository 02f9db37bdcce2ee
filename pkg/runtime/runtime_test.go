package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/catalyst/internal/action"
	"github.com/rendis/catalyst/internal/store"
	"github.com/rendis/catalyst/pkg/schema"
)

type echoInput struct {
	Message string `json:"message"`
}

type echoOutput struct {
	Echo string `json:"echo"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRuntime(t *testing.T, opts Options) *Runtime {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	rt := New(opts)
	require.NoError(t, rt.Registry().RegisterAction(schema.ActionTypeFlow,
		action.New(schema.ActionTypeFlow, "echo", func(_ context.Context, in echoInput) (echoOutput, error) {
			return echoOutput{Echo: in.Message}, nil
		})))
	return rt
}

func TestRunAction(t *testing.T) {
	rt := newTestRuntime(t, Options{})

	out, err := rt.RunAction(context.Background(), "/flow/echo", json.RawMessage(`{"message":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"hi"}`, string(out))
}

func TestRunActionNotFound(t *testing.T) {
	rt := newTestRuntime(t, Options{})

	_, err := rt.RunAction(context.Background(), "/flow/missing", nil)
	require.Error(t, err)
	var cerr *schema.CatalystError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, schema.ErrCodeNotFound, cerr.Code)
}

func TestRunActionPersistsRun(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	rt := newTestRuntime(t, Options{Store: fs})
	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(ctx)

	_, err = rt.RunAction(ctx, "/flow/echo", json.RawMessage(`{"message":"hi"}`))
	require.NoError(t, err)

	runs, err := fs.ListRuns(ctx, store.RunFilter{ActionKey: "/flow/echo"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunStatusSucceeded, runs[0].Status)
	assert.JSONEq(t, `{"echo":"hi"}`, string(runs[0].Output))
	require.NotNil(t, runs[0].CompletedAt)
}

func TestRunActionPersistsFailure(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	rt := New(Options{Logger: testLogger(), Store: fs})
	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(ctx)

	require.NoError(t, rt.Registry().RegisterAction(schema.ActionTypeFlow,
		action.New(schema.ActionTypeFlow, "boom", func(_ context.Context, _ echoInput) (echoOutput, error) {
			return echoOutput{}, errors.New("kaboom")
		})))

	_, err = rt.RunAction(ctx, "/flow/boom", json.RawMessage(`{"message":"x"}`))
	require.Error(t, err)

	runs, err := fs.ListRuns(ctx, store.RunFilter{Status: store.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Contains(t, runs[0].Error, "kaboom")
}

func TestStartStopLifecycle(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	ctx := context.Background()

	require.NoError(t, rt.Start(ctx))
	require.Error(t, rt.Start(ctx), "second start must fail")
	require.NoError(t, rt.Stop(ctx))
	require.NoError(t, rt.Stop(ctx), "stop is idempotent")
	require.NoError(t, rt.Start(ctx), "restart after stop")
	require.NoError(t, rt.Stop(ctx))
}

func TestScheduleActionValidatesCron(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	rt := newTestRuntime(t, Options{Store: fs, EnableScheduler: true})
	ctx := context.Background()

	_, err = rt.ScheduleAction(ctx, "/flow/echo", "not a cron", nil)
	require.Error(t, err)
	var cerr *schema.CatalystError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, schema.ErrCodeValidation, cerr.Code)

	id, err := rt.ScheduleAction(ctx, "/flow/echo", "*/5 * * * *", json.RawMessage(`{"message":"tick"}`))
	require.NoError(t, err)

	job, err := fs.GetScheduledJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/flow/echo", job.ActionKey)
	assert.True(t, job.Enabled)
}

func TestScheduleActionRequiresScheduler(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	_, err := rt.ScheduleAction(context.Background(), "/flow/echo", "* * * * *", nil)
	require.Error(t, err)
}

func TestFindActions(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	ctx := context.Background()
	require.NoError(t, rt.Registry().RegisterAction(schema.ActionTypeTool,
		action.New(schema.ActionTypeTool, "lookup", func(_ context.Context, in echoInput) (echoOutput, error) {
			return echoOutput{Echo: in.Message}, nil
		})))

	all, err := rt.FindActions(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	flows, err := rt.FindActions(ctx, "cel", `type == "flow"`)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "echo", flows[0].Name)

	_, err = rt.FindActions(ctx, "nope", "true")
	require.Error(t, err)
}

func TestDefaultModelValue(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	ctx := context.Background()

	_, ok, err := rt.DefaultModel(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, rt.SetDefaultModel("/model/openai/gpt-4"))
	model, ok, err := rt.DefaultModel(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/model/openai/gpt-4", model)

	err = rt.SetDefaultModel("/model/other")
	require.Error(t, err)
	var cerr *schema.CatalystError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, schema.ErrCodeConflict, cerr.Code)
}

func TestPromptDirValue(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	ctx := context.Background()

	require.NoError(t, rt.SetPromptDir("prompts"))
	dir, ok, err := rt.PromptDir(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "prompts", dir)
}

func TestDefaultEnvironment(t *testing.T) {
	assert.Equal(t, EnvProd, New(Options{Logger: testLogger()}).Env())
	assert.Equal(t, EnvDev, New(Options{Logger: testLogger(), Environment: EnvDev}).Env())
}
