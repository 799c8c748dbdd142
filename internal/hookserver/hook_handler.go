package hookserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ralphline/ralphline/pkg/models"
)

const maxHookBodyBytes = 256 * 1024

// hookEventName mirrors the spec's hook_event_name enum.
type hookEventName string

const (
	hookEventPre  hookEventName = "PreToolUse"
	hookEventPost hookEventName = "PostToolUse"
)

// hookRequest is the envelope posted to /hook.
type hookRequest struct {
	WorkerID      string          `json:"worker_id"`
	SessionID     string          `json:"session_id"`
	HookEventName hookEventName   `json:"hook_event_name"`
	ToolName      string          `json:"tool_name"`
	ToolInput     json.RawMessage `json:"tool_input"`
	ToolResponse  json.RawMessage `json:"tool_response,omitempty"`
}

// hookResponse optionally carries a synthesized error the worker's own
// loop should surface to the model when a call was blocked.
type hookResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	s.received.Add(1)

	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxHookBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "body too large or unreadable")
		return
	}

	var req hookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.WorkerID == "" || req.SessionID == "" || req.ToolName == "" {
		respondError(w, http.StatusBadRequest, "worker_id, session_id, and tool_name are required")
		return
	}

	switch req.HookEventName {
	case hookEventPre:
		s.handlePreToolUse(w, r.Context(), &req)
	case hookEventPost:
		s.handlePostToolUse(w, r.Context(), &req)
	default:
		respondError(w, http.StatusBadRequest, "hook_event_name must be PreToolUse or PostToolUse")
	}
}

func (s *Server) handlePreToolUse(w http.ResponseWriter, ctx context.Context, req *hookRequest) {
	now := time.Now()
	toolCallID := computeToolCallID(req.WorkerID, req.SessionID, req.ToolName, now.UnixMilli())

	s.pending.put(&pendingEntry{
		toolCallID: toolCallID,
		workerID:   req.WorkerID,
		sessionID:  req.SessionID,
		toolName:   req.ToolName,
		input:      req.ToolInput,
		startTime:  now,
	})

	pending := &models.HookToolEvent{
		ToolCallID:   toolCallID,
		WorkerID:     req.WorkerID,
		SessionID:    req.SessionID,
		ToolName:     req.ToolName,
		Input:        req.ToolInput,
		Status:       models.HookToolEventPending,
		PreTimestamp: now,
	}
	if s.publisher != nil {
		s.publisher.Publish("hook.tool_event", pending)
	}
	s.enqueuePersist(pending)

	// Synchronous half of security classification: only calls the monitor
	// actually wants to gate on incur this wait, bounded by
	// DefaultSecuritySyncTimeout so a slow classifier never stalls the
	// worker's tool loop past the spec's bounded-latency guarantee.
	if s.security != nil {
		checkCtx, cancel := context.WithTimeout(ctx, DefaultSecuritySyncTimeout)
		action, err := s.security.CheckPreToolUse(checkCtx, pending)
		cancel()
		if err == nil && action.Rank() >= models.ActionBlock.Rank() {
			respondJSON(w, http.StatusOK, hookResponse{
				OK:    false,
				Error: "blocked by security monitor: " + string(action),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, hookResponse{OK: true})
}

func (s *Server) handlePostToolUse(w http.ResponseWriter, ctx context.Context, req *hookRequest) {
	now := time.Now()

	entry, found := s.pending.takeMostRecent(req.WorkerID, req.SessionID, req.ToolName)
	if !found {
		s.lost.Add(1)
		e := &models.HookToolEvent{
			WorkerID:      req.WorkerID,
			SessionID:     req.SessionID,
			ToolName:      req.ToolName,
			Output:        req.ToolResponse,
			Status:        classifyOutcome(req.ToolResponse),
			PostTimestamp: now,
			PairingLost:   true,
		}
		if s.publisher != nil {
			s.publisher.Publish("hook.tool_event", e)
		}
		s.enqueuePersist(e)
		respondJSON(w, http.StatusOK, hookResponse{OK: true})
		return
	}

	s.paired.Add(1)
	execMs := now.Sub(entry.startTime).Milliseconds()
	e := &models.HookToolEvent{
		ToolCallID:      entry.toolCallID,
		WorkerID:        req.WorkerID,
		SessionID:       req.SessionID,
		ToolName:        req.ToolName,
		Input:           entry.input,
		Output:          req.ToolResponse,
		Status:          classifyOutcome(req.ToolResponse),
		ExecutionTimeMs: &execMs,
		PreTimestamp:    entry.startTime,
		PostTimestamp:   now,
	}
	if s.publisher != nil {
		s.publisher.Publish("hook.tool_event", e)
	}
	s.enqueuePersist(e)

	respondJSON(w, http.StatusOK, hookResponse{OK: true})
}

// classifyOutcome reports failed when the response carries a top-level
// "error" field, matching §4.2's pairing algorithm verbatim.
func classifyOutcome(response json.RawMessage) models.HookToolEventStatus {
	if len(response) == 0 {
		return models.HookToolEventSuccess
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(response, &probe); err != nil {
		return models.HookToolEventSuccess
	}
	if _, hasError := probe["error"]; hasError {
		return models.HookToolEventFailed
	}
	return models.HookToolEventSuccess
}
