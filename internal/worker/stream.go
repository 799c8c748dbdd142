package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ralphline/ralphline/pkg/models"
)

// readStdout runs the reader task for one worker: one line in flight at a
// time, parsed into an OutputEvent and published on worker.output.{id}.
func (m *Manager) readStdout(workerID string, mw *managedWorker, r io.Reader) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("reader task panicked, terminating worker", "worker_id", workerID, "panic", rec)
			mw.mu.Lock()
			mw.worker.Status = models.WorkerError
			mw.mu.Unlock()
			if mw.cmd.Process != nil {
				_ = mw.cmd.Process.Kill()
			}
		}
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		evt := m.classifyLine(mw, line)
		m.emit(workerID, mw, evt)
	}
}

// readStderr merges the child's stderr into the output stream as
// error-typed events, per §6.1.
func (m *Manager) readStderr(workerID string, mw *managedWorker, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		evt := &models.OutputEvent{
			WorkerID:  workerID,
			SessionID: mw.snapshot().SessionID,
			Timestamp: time.Now(),
			Kind:      models.OutputError,
			Raw:       line,
			Meta:      computeMeta(line, false),
		}
		m.emit(workerID, mw, evt)
	}
}

// awaitExit waits for the child to exit and updates worker/session state.
func (m *Manager) awaitExit(workerID string, mw *managedWorker) {
	err := mw.cmd.Wait()
	close(mw.exited)

	mw.mu.Lock()
	exitCode := 0
	crashed := false
	if err != nil {
		crashed = true
		if exitErr, ok := err.(interface{ ExitCode() int }); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	mw.worker.ExitCode = &exitCode
	if crashed {
		mw.worker.Status = models.WorkerCrashed
	} else {
		mw.worker.Status = models.WorkerStopped
	}
	sessionID := mw.worker.SessionID
	wasPending := mw.pendingSession
	mw.pendingSession = false
	mw.mu.Unlock()

	ctx := context.Background()
	if m.store != nil {
		if saveErr := m.store.SaveWorker(ctx, mw.snapshot()); saveErr != nil {
			m.logger.Warn("persist worker exit failed", "worker_id", workerID, "error", saveErr)
		}
		if wasPending && sessionID != "" {
			status := models.SessionCompleted
			if crashed {
				status = models.SessionFailed
			}
			if sealErr := m.store.SealSession(ctx, sessionID, status, time.Now()); sealErr != nil {
				m.logger.Warn("seal session on exit failed", "session_id", sessionID, "error", sealErr)
			}
		}
	}

	m.bus.Publish(fmt.Sprintf("worker.status.%s", workerID), mw.snapshot())
	m.logger.Info("worker exited", "worker_id", workerID, "exit_code", exitCode, "crashed", crashed)
}

// classifyLine attempts to parse line as a structured JSON record. On
// success, the discriminator field determines the event kind. On failure,
// the kind is "text" and a parse_error marker is set.
func (m *Manager) classifyLine(mw *managedWorker, line string) *models.OutputEvent {
	snap := mw.snapshot()
	evt := &models.OutputEvent{
		WorkerID:  snap.ID,
		SessionID: snap.SessionID,
		Timestamp: time.Now(),
		Raw:       line,
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		evt.Kind = models.OutputText
		evt.Meta = computeMeta(line, true)
		return evt
	}

	evt.Kind = kindFromDiscriminator(parsed)
	raw := json.RawMessage(line)
	evt.Payload = raw
	evt.Meta = computeMeta(line, false)

	if usage := extractUsage(parsed); usage != nil {
		evt.Usage = usage
		m.accumulateStats(mw, *usage)
	}

	if evt.Kind == models.OutputResult {
		m.sealCompletedSession(mw)
	}

	return evt
}

// kindFromDiscriminator maps a parsed JSON record's discriminator field to
// an OutputEventKind, falling back to "text" for anything unrecognised.
func kindFromDiscriminator(parsed map[string]any) models.OutputEventKind {
	var disc string
	for _, key := range []string{"type", "kind", "event"} {
		if v, ok := parsed[key].(string); ok && v != "" {
			disc = v
			break
		}
	}
	switch models.OutputEventKind(disc) {
	case models.OutputSystem, models.OutputText, models.OutputToolUse,
		models.OutputToolResult, models.OutputError, models.OutputResult,
		models.OutputStreamEvent:
		return models.OutputEventKind(disc)
	default:
		return models.OutputText
	}
}

// extractUsage pulls usage metrics out of a parsed tool_result/result
// payload, per §4.1's accumulation rule.
func extractUsage(parsed map[string]any) *models.Usage {
	raw, ok := parsed["usage"].(map[string]any)
	if !ok {
		return nil
	}
	u := &models.Usage{}
	if v, ok := raw["input_tokens"].(float64); ok {
		u.InputTokens = int64(v)
	}
	if v, ok := raw["output_tokens"].(float64); ok {
		u.OutputTokens = int64(v)
	}
	if v, ok := raw["cache_read_tokens"].(float64); ok {
		u.CacheReadTokens = int64(v)
	}
	if v, ok := raw["total_cost_usd"].(float64); ok {
		u.TotalCostUSD = v
	}
	if u.InputTokens == 0 && u.OutputTokens == 0 && u.CacheReadTokens == 0 && u.TotalCostUSD == 0 {
		return nil
	}
	return u
}

func (m *Manager) accumulateStats(mw *managedWorker, u models.Usage) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.stats.InputTokens += u.InputTokens
	mw.stats.OutputTokens += u.OutputTokens
	mw.stats.TotalCostUSD += u.TotalCostUSD
	mw.stats.LastActivityAt = time.Now()
}

func (m *Manager) sealCompletedSession(mw *managedWorker) {
	mw.mu.Lock()
	sessionID := mw.worker.SessionID
	pending := mw.pendingSession
	mw.pendingSession = false
	mw.mu.Unlock()

	if !pending || sessionID == "" || m.store == nil {
		return
	}
	if err := m.store.SealSession(context.Background(), sessionID, models.SessionCompleted, time.Now()); err != nil {
		m.logger.Warn("seal completed session failed", "session_id", sessionID, "error", err)
	}
}

// emit persists the event unconditionally and publishes it to the bus.
// Persistence never drops; UI delivery (the bus topic) may be slow but the
// Publisher implementation is responsible for its own drop-oldest policy —
// the manager only guarantees it never blocks the reader task waiting on
// persistence plus bus dispatch combined for longer than necessary.
func (m *Manager) emit(workerID string, mw *managedWorker, evt *models.OutputEvent) {
	mw.mu.Lock()
	mw.worker.LastActivity = time.Now()
	mw.stats.PromptCount += promptDelta(evt.Kind)
	mw.stats.ToolCallCount += toolCallDelta(evt.Kind)
	mw.stats.ByteCount += int64(len(evt.Raw))
	mw.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveOutputEvent(context.Background(), evt); err != nil {
			m.logger.Warn("persist output event failed", "worker_id", workerID, "error", err)
		}
	}
	m.bus.Publish(fmt.Sprintf("worker.output.%s", workerID), evt)
}

func promptDelta(kind models.OutputEventKind) int64 {
	if kind == models.OutputResult {
		return 1
	}
	return 0
}

func toolCallDelta(kind models.OutputEventKind) int64 {
	if kind == models.OutputToolUse {
		return 1
	}
	return 0
}

// computeMeta computes per-event metadata: byte length, line count, and a
// heuristic language tag.
func computeMeta(content string, parseError bool) models.OutputEventMeta {
	return models.OutputEventMeta{
		ByteLength:  len(content),
		LineCount:   strings.Count(content, "\n") + 1,
		LanguageTag: detectLanguageTag(content),
		ParseError:  parseError,
	}
}

// detectLanguageTag heuristically tags content beginning with a recognisable
// code fence or keyword pattern. It is a best-effort classification for
// display purposes, not a parser.
func detectLanguageTag(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		fence := strings.TrimPrefix(trimmed, "```")
		if idx := strings.IndexAny(fence, "\n \t"); idx > 0 {
			fence = fence[:idx]
		}
		if fence != "" {
			return fence
		}
	}
	switch {
	case strings.HasPrefix(trimmed, "package ") || strings.Contains(trimmed, "func "):
		return "go"
	case strings.HasPrefix(trimmed, "def ") || strings.HasPrefix(trimmed, "import "):
		return "python"
	case strings.HasPrefix(trimmed, "function ") || strings.Contains(trimmed, "const "):
		return "javascript"
	default:
		return ""
	}
}
