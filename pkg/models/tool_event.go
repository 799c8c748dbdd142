package models

import (
	"encoding/json"
	"time"
)

// HookToolEventStatus is the pairing status of a correlated pre/post tool call.
type HookToolEventStatus string

const (
	HookToolEventPending HookToolEventStatus = "pending"
	HookToolEventSuccess HookToolEventStatus = "success"
	HookToolEventFailed  HookToolEventStatus = "failed"
)

// HookToolEvent is a correlated pair of PreToolUse/PostToolUse notifications
// observed by the hook ingestion server. Distinct from ToolEvent, which is
// the meta-agent loop's own tool-call lifecycle telemetry.
type HookToolEvent struct {
	ToolCallID      string              `json:"tool_call_id"`
	WorkerID        string              `json:"worker_id"`
	SessionID       string              `json:"session_id"`
	ToolName        string              `json:"tool_name"`
	Input           json.RawMessage     `json:"input,omitempty"`
	Output          json.RawMessage     `json:"output,omitempty"`
	Status          HookToolEventStatus `json:"status"`
	ExecutionTimeMs *int64              `json:"execution_time_ms,omitempty"`
	ErrorMessage    string              `json:"error_message,omitempty"`
	PreTimestamp    time.Time           `json:"pre_timestamp"`
	PostTimestamp   time.Time           `json:"post_timestamp,omitempty"`
	PairingLost     bool                `json:"pairing_lost,omitempty"`
}

// ToolEventStage describes the lifecycle stage of a tool invocation for
// observability within the meta-agent loop.
type ToolEventStage string

const (
	ToolEventRequested        ToolEventStage = "requested"
	ToolEventStarted          ToolEventStage = "started"
	ToolEventSucceeded        ToolEventStage = "succeeded"
	ToolEventFailed           ToolEventStage = "failed"
	ToolEventDenied           ToolEventStage = "denied"
	ToolEventRetrying         ToolEventStage = "retrying"
	ToolEventApprovalRequired ToolEventStage = "approval_required"
)

// ToolEvent represents a lifecycle event for a tool call inside the
// meta-agent loop, including timing and results.
type ToolEvent struct {
	ToolCallID   string          `json:"tool_call_id"`
	ToolName     string          `json:"tool_name"`
	Stage        ToolEventStage  `json:"stage"`
	Attempt      int             `json:"attempt,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       string          `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	PolicyReason string          `json:"policy_reason,omitempty"`
	StartedAt    time.Time       `json:"started_at,omitempty"`
	FinishedAt   time.Time       `json:"finished_at,omitempty"`
}
