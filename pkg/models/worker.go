// Package models defines the core data types shared across the mission
// control core: workers, sessions, pipelines, conversations, and the
// security/elevation records that gate privileged tool calls.
package models

import "time"

// WorkerStatus is the lifecycle state of a managed child process.
type WorkerStatus string

const (
	WorkerStarting  WorkerStatus = "starting"
	WorkerRunning   WorkerStatus = "running"
	WorkerSuspended WorkerStatus = "suspended"
	WorkerStopped   WorkerStatus = "stopped"
	WorkerError     WorkerStatus = "error"
	WorkerCrashed   WorkerStatus = "crashed"
)

// RepoContext is the optional repository identity a worker operates against.
type RepoContext struct {
	Owner  string `json:"owner,omitempty"`
	Repo   string `json:"repo,omitempty"`
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
}

// WorkerConfig is the configuration snapshot a worker was created with.
type WorkerConfig struct {
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	HookURL     string            `json:"hook_url"`
	AutoApprove bool              `json:"auto_approve,omitempty"`
}

// Worker represents one long-running child process bound to a working
// directory. Owned by the worker manager.
type Worker struct {
	ID            string       `json:"id"`
	WorkingDir    string       `json:"working_dir"`
	Status        WorkerStatus `json:"status"`
	StartedAt     time.Time    `json:"started_at"`
	LastActivity  time.Time    `json:"last_activity"`
	Repo          *RepoContext `json:"repo,omitempty"`
	SessionID     string       `json:"session_id,omitempty"`
	Config        WorkerConfig `json:"config"`
	ExitCode      *int         `json:"exit_code,omitempty"`
	PID           int          `json:"pid,omitempty"`
	SuspendedSoft bool         `json:"suspended_soft,omitempty"`
}

// Terminal reports whether the worker has reached a terminal lifecycle state.
func (w *Worker) Terminal() bool {
	switch w.Status {
	case WorkerStopped, WorkerError, WorkerCrashed:
		return true
	default:
		return false
	}
}

// WorkerStatistics aggregates usage across a worker's lifetime.
type WorkerStatistics struct {
	WorkerID       string    `json:"worker_id"`
	PromptCount    int64     `json:"prompt_count"`
	ToolCallCount  int64     `json:"tool_call_count"`
	ByteCount      int64     `json:"byte_count"`
	TotalCostUSD   float64   `json:"total_cost_usd"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// SessionStatus is the terminal outcome of a worker session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// WorkerSession is a single request/response turn within a worker. Distinct
// from Session, which is the meta-agent loop's own conversation-thread
// record.
type WorkerSession struct {
	SessionID    string        `json:"session_id"`
	WorkerID     string        `json:"worker_id"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      time.Time     `json:"ended_at,omitempty"`
	Status       SessionStatus `json:"status"`
	InputTokens  int64         `json:"input_tokens"`
	OutputTokens int64         `json:"output_tokens"`
	CostUSD      float64       `json:"cost_usd"`
}
