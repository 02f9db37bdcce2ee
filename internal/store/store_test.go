package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/catalyst/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// stores under test share the same behavioral contract
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("libsql", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("file", func(t *testing.T) { fn(t, newTestFileStore(t)) })
}

func seedRun(t *testing.T, s Store, key string, status RunStatus) *Run {
	t.Helper()
	run := &Run{
		ID:        uuid.New().String(),
		ActionKey: key,
		Status:    status,
		Input:     json.RawMessage(`{"subject":"world"}`),
	}
	require.NoError(t, s.SaveRun(context.Background(), run))
	return run
}

// --- Run Tests ---

func TestSaveAndGetRun(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		run := seedRun(t, s, "/flow/greeting", RunStatusPending)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, "/flow/greeting", got.ActionKey)
		assert.Equal(t, RunStatusPending, got.Status)
		assert.JSONEq(t, `{"subject":"world"}`, string(got.Input))
		assert.False(t, got.CreatedAt.IsZero())
	})
}

func TestSaveRunUpdatesExisting(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		run := seedRun(t, s, "/flow/greeting", RunStatusRunning)

		now := time.Now().UTC()
		run.Status = RunStatusSucceeded
		run.Output = json.RawMessage(`{"greeting":"hello, world"}`)
		run.CompletedAt = &now
		require.NoError(t, s.SaveRun(ctx, run))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, RunStatusSucceeded, got.Status)
		assert.JSONEq(t, `{"greeting":"hello, world"}`, string(got.Output))
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.Terminal())
	})
}

func TestGetRunNotFound(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetRun(context.Background(), "does-not-exist")
		require.Error(t, err)
		var cerr *schema.CatalystError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, schema.ErrCodeNotFound, cerr.Code)
	})
}

func TestSaveRunRequiresIDAndKey(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		err := s.SaveRun(context.Background(), &Run{ID: "", ActionKey: "/flow/x"})
		require.Error(t, err)
		var cerr *schema.CatalystError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, schema.ErrCodeValidation, cerr.Code)
	})
}

func TestListRunsFiltering(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedRun(t, s, "/flow/a", RunStatusSucceeded)
		seedRun(t, s, "/flow/a", RunStatusFailed)
		seedRun(t, s, "/flow/b", RunStatusSucceeded)

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		byKey, err := s.ListRuns(ctx, RunFilter{ActionKey: "/flow/a"})
		require.NoError(t, err)
		assert.Len(t, byKey, 2)

		byStatus, err := s.ListRuns(ctx, RunFilter{Status: RunStatusFailed})
		require.NoError(t, err)
		require.Len(t, byStatus, 1)
		assert.Equal(t, "/flow/a", byStatus[0].ActionKey)

		limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}

func TestDeleteRun(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		run := seedRun(t, s, "/flow/a", RunStatusSucceeded)

		require.NoError(t, s.DeleteRun(ctx, run.ID))

		_, err := s.GetRun(ctx, run.ID)
		require.Error(t, err)

		err = s.DeleteRun(ctx, run.ID)
		var cerr *schema.CatalystError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, schema.ErrCodeNotFound, cerr.Code)
	})
}

// --- Scheduled Job Tests ---

func TestCreateAndGetScheduledJob(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		job := &ScheduledJob{
			ID:        uuid.New().String(),
			ActionKey: "/background-job/nightly-index",
			CronExpr:  "0 3 * * *",
			Input:     json.RawMessage(`{"corpus":"docs"}`),
			Enabled:   true,
		}
		require.NoError(t, s.CreateScheduledJob(ctx, job))

		got, err := s.GetScheduledJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ActionKey, got.ActionKey)
		assert.Equal(t, "0 3 * * *", got.CronExpr)
		assert.True(t, got.Enabled)
		assert.Nil(t, got.NextRunAt)
	})
}

func TestScheduledJobValidation(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		err := s.CreateScheduledJob(context.Background(), &ScheduledJob{ID: "x"})
		require.Error(t, err)
		var cerr *schema.CatalystError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, schema.ErrCodeValidation, cerr.Code)
	})
}

func TestListScheduledJobsDue(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC()
		past := now.Add(-time.Hour)
		future := now.Add(time.Hour)

		mk := func(next *time.Time, enabled bool) *ScheduledJob {
			job := &ScheduledJob{
				ID:        uuid.New().String(),
				ActionKey: "/background-job/tick",
				CronExpr:  "* * * * *",
				Enabled:   enabled,
				NextRunAt: next,
			}
			require.NoError(t, s.CreateScheduledJob(ctx, job))
			return job
		}

		due := mk(&past, true)
		mk(&future, true)      // not yet due
		mk(&past, false)       // disabled
		neverRan := mk(nil, true) // never computed, always due

		jobs, err := s.ListScheduledJobs(ctx, now)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		ids := []string{jobs[0].ID, jobs[1].ID}
		assert.Contains(t, ids, due.ID)
		assert.Contains(t, ids, neverRan.ID)
	})
}

func TestUpdateScheduledJobTimes(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		job := &ScheduledJob{
			ID:        uuid.New().String(),
			ActionKey: "/background-job/tick",
			CronExpr:  "* * * * *",
			Enabled:   true,
		}
		require.NoError(t, s.CreateScheduledJob(ctx, job))

		last := time.Now().UTC().Truncate(time.Second)
		next := last.Add(time.Minute)
		require.NoError(t, s.UpdateScheduledJobTimes(ctx, job.ID, last, next))

		got, err := s.GetScheduledJob(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastRunAt)
		require.NotNil(t, got.NextRunAt)
		assert.WithinDuration(t, last, *got.LastRunAt, time.Second)
		assert.WithinDuration(t, next, *got.NextRunAt, time.Second)

		err = s.UpdateScheduledJobTimes(ctx, "missing", last, next)
		var cerr *schema.CatalystError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, schema.ErrCodeNotFound, cerr.Code)
	})
}

func TestDeleteScheduledJob(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		job := &ScheduledJob{
			ID:        uuid.New().String(),
			ActionKey: "/background-job/tick",
			CronExpr:  "* * * * *",
		}
		require.NoError(t, s.CreateScheduledJob(ctx, job))
		require.NoError(t, s.DeleteScheduledJob(ctx, job.ID))

		_, err := s.GetScheduledJob(ctx, job.ID)
		require.Error(t, err)
	})
}

func TestFileStoreSanitizesIDs(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	run := &Run{
		ID:        "../escape/attempt",
		ActionKey: "/flow/x",
		Status:    RunStatusPending,
	}
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, "../escape/attempt")
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)

	// nothing written outside the runs directory
	entries, err := os.ReadDir(s.runDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
