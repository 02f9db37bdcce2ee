package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rendis/catalyst/pkg/schema"
)

// FileStore persists runs and scheduled jobs as one JSON document per record
// under a base directory. It is intended for development environments where a
// database is not available.
type FileStore struct {
	mu     sync.Mutex
	runDir string
	jobDir string
}

// NewFileStore creates a FileStore rooted at dir, creating the directory
// structure if needed.
func NewFileStore(dir string) (*FileStore, error) {
	runDir := filepath.Join(dir, "runs")
	jobDir := filepath.Join(dir, "jobs")
	for _, d := range []string{runDir, jobDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "create store directory").WithCause(err)
		}
	}
	return &FileStore{runDir: runDir, jobDir: jobDir}, nil
}

// Migrate is a no-op for the file store.
func (s *FileStore) Migrate(ctx context.Context) error { return nil }

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

// cleanID makes an ID safe to use as a filename.
func cleanID(id string) string {
	return strings.ReplaceAll(filepath.Clean(id), "/", "_")
}

func (s *FileStore) runPath(id string) string {
	return filepath.Join(s.runDir, cleanID(id)+".json")
}

func (s *FileStore) jobPath(id string) string {
	return filepath.Join(s.jobDir, cleanID(id)+".json")
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal record").WithCause(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return schema.NewError(schema.ErrCodeStore, "write record").WithCause(err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// --- Runs ---

func (s *FileStore) SaveRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == "" || run.ActionKey == "" {
		return schema.NewError(schema.ErrCodeValidation, "run id and action key are required")
	}
	cp := *run
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = time.Now().UTC()
	return writeJSON(s.runPath(run.ID), &cp)
}

func (s *FileStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var run Run
	err := readJSON(s.runPath(id), &run)
	if os.IsNotExist(err) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "read run").WithCause(err)
	}
	return &run, nil
}

func (s *FileStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.runDir)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list runs").WithCause(err)
	}
	var runs []*Run
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var run Run
		if err := readJSON(filepath.Join(s.runDir, e.Name()), &run); err != nil {
			continue
		}
		if filter.ActionKey != "" && run.ActionKey != filter.ActionKey {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		runs = append(runs, &run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

func (s *FileStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.runPath(id))
	if os.IsNotExist(err) {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "delete run").WithCause(err)
	}
	return nil
}

// --- Scheduled Jobs ---

func (s *FileStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" || job.ActionKey == "" || job.CronExpr == "" {
		return schema.NewError(schema.ErrCodeValidation, "job id, action key, and cron expression are required")
	}
	cp := *job
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	return writeJSON(s.jobPath(job.ID), &cp)
}

func (s *FileStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var job ScheduledJob
	err := readJSON(s.jobPath(id), &job)
	if os.IsNotExist(err) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", id)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "read scheduled job").WithCause(err)
	}
	return &job, nil
}

func (s *FileStore) ListScheduledJobs(ctx context.Context, dueBefore time.Time) ([]*ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.jobDir)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list scheduled jobs").WithCause(err)
	}
	var jobs []*ScheduledJob
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var job ScheduledJob
		if err := readJSON(filepath.Join(s.jobDir, e.Name()), &job); err != nil {
			continue
		}
		if !job.Enabled {
			continue
		}
		if job.NextRunAt != nil && job.NextRunAt.After(dueBefore) {
			continue
		}
		jobs = append(jobs, &job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

func (s *FileStore) UpdateScheduledJobTimes(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var job ScheduledJob
	err := readJSON(s.jobPath(id), &job)
	if os.IsNotExist(err) {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", id)
	}
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "read scheduled job").WithCause(err)
	}
	job.LastRunAt = &lastRun
	job.NextRunAt = &nextRun
	return writeJSON(s.jobPath(id), &job)
}

func (s *FileStore) DeleteScheduledJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.jobPath(id))
	if os.IsNotExist(err) {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", id)
	}
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "delete scheduled job").WithCause(err)
	}
	return nil
}
