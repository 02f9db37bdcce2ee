package store

import (
	"encoding/json"
	"time"
)

// RunStatus enumerates the lifecycle states of a persisted run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is the persisted state of a single action invocation. Flow runs and
// long-lived background-job operations survive process restarts through it.
type Run struct {
	ID          string          `json:"id"`
	ActionKey   string          `json:"action_key"`
	SessionID   string          `json:"session_id,omitempty"`
	Status      RunStatus       `json:"status"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Terminal reports whether the run reached a final state.
func (r *Run) Terminal() bool {
	switch r.Status {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// ScheduledJob is a recurring invocation of a registered action.
type ScheduledJob struct {
	ID        string          `json:"id"`
	ActionKey string          `json:"action_key"`
	CronExpr  string          `json:"cron_expr"`
	Input     json.RawMessage `json:"input,omitempty"`
	Enabled   bool            `json:"enabled"`
	LastRunAt *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt *time.Time      `json:"next_run_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
