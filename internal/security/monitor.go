package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ralphline/ralphline/pkg/models"
)

// thresholdA and thresholdB gate the async LLM semantic check: a call is
// only ever handed to the light model once its signature score or
// expectation score crosses these, per §4.5 step 3.
const (
	thresholdA = 0.3
	thresholdB = 0.5
)

// SyncTimeout bounds how long the hook handler will wait for a decision on
// a call that crossed thresholdA, per §4.5's T_sec_sync_max.
const SyncTimeout = 2 * time.Second

// SemanticClassifier performs the LLM semantic check in §4.5 step 3,
// returning a category/severity/reasoning triple in a fixed schema.
type SemanticClassifier interface {
	Classify(ctx context.Context, call *models.HookToolEvent, expectation *models.SessionExpectation) (category string, severity models.Severity, reasoning string, err error)
}

// AlertStore persists emitted alerts.
type AlertStore interface {
	SaveAlert(ctx context.Context, a *models.SecurityAlert) error
}

// Publisher emits SecurityAlerts onto the process-wide bus.
type Publisher interface {
	Publish(topic string, payload any)
}

// WorkerController is invoked when a decision reaches suspend/terminate so
// the security monitor can act on the worker manager without importing it
// directly.
type WorkerController interface {
	SuspendWorker(ctx context.Context, workerID, reason string) error
	TerminateWorker(ctx context.Context, workerID, reason string) error
}

// Monitor classifies PreToolUse calls and fuses the three detection
// signals (signature, expectation, semantic) into a recommended action per
// preset, satisfying hookserver.SecurityChecker.
type Monitor struct {
	preset      models.Preset
	classifier  SemanticClassifier
	store       AlertStore
	publisher   Publisher
	controller  WorkerController
	expectation *expectationStore
	logger      *slog.Logger
}

// New constructs a Monitor. classifier, store, publisher, and controller
// may be nil; a nil classifier skips step 3 entirely (signature +
// expectation fusion only).
func New(preset models.Preset, classifier SemanticClassifier, store AlertStore, publisher Publisher, controller WorkerController, logger *slog.Logger) *Monitor {
	if preset == "" {
		preset = models.PresetDefault
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		preset:      preset,
		classifier:  classifier,
		store:       store,
		publisher:   publisher,
		controller:  controller,
		expectation: newExpectationStore(),
		logger:      logger.With("component", "security"),
	}
}

// SetExpectation records the SessionExpectation generated for a session at
// its start, consulted by every subsequent call in that session.
func (m *Monitor) SetExpectation(exp *models.SessionExpectation) {
	m.expectation.set(exp)
}

// CheckPreToolUse implements hookserver.SecurityChecker. It runs signature
// matching and expectation scoring synchronously (cheap, regex/map
// lookups), and only waits on the LLM semantic check when one of those two
// signals crosses its threshold — bounding added latency to SyncTimeout.
func (m *Monitor) CheckPreToolUse(ctx context.Context, call *models.HookToolEvent) (models.RecommendedAction, error) {
	sigMatches, sigSeverity, sigScore := MatchSignatures(call.Input)
	exp, _ := m.expectation.get(call.SessionID)
	expScore := scoreAgainstExpectation(exp, call.ToolName, sigMatches)

	maxSeverity := sigSeverity
	category := "none"
	if len(sigMatches) > 0 {
		category = sigMatches[0]
	}

	needsSemanticCheck := m.classifier != nil && (sigScore >= thresholdA || expScore >= thresholdB)
	if needsSemanticCheck {
		semCtx, cancel := context.WithTimeout(ctx, SyncTimeout)
		semCategory, semSeverity, reasoning, err := m.classifier.Classify(semCtx, call, exp)
		cancel()

		if err != nil {
			m.logger.Warn("semantic classification failed, falling back to preset safe side",
				"tool_call_id", call.ToolCallID, "error", err)
			maxSeverity = models.Max(maxSeverity, presetTimeoutSeverity(m.preset))
		} else {
			maxSeverity = models.Max(maxSeverity, semSeverity)
			if semSeverity.Rank() > sigSeverity.Rank() {
				category = semCategory
			}
			m.logger.Debug("semantic classification", "tool_call_id", call.ToolCallID, "category", semCategory, "reasoning", reasoning)
		}
	} else if expScore > 0 {
		// Expectation-only signal below the semantic-check threshold still
		// contributes to severity via a coarse mapping.
		maxSeverity = models.Max(maxSeverity, expectationSeverity(expScore))
		if category == "none" {
			category = "unexpected_tool"
		}
	}

	action := fuseDecision(m.preset, maxSeverity)

	alert := &models.SecurityAlert{
		AlertID:           uuid.NewString(),
		WorkerID:          call.WorkerID,
		SessionID:         call.SessionID,
		ToolCallID:        call.ToolCallID,
		Severity:          maxSeverity,
		Category:          category,
		RecommendedAction: action,
		Timestamp:         time.Now(),
	}
	m.emit(ctx, alert)

	if action.Rank() >= models.ActionSuspend.Rank() && m.controller != nil {
		reason := fmt.Sprintf("security alert %s: %s (%s)", alert.AlertID, category, maxSeverity)
		if action == models.ActionTerminate {
			_ = m.controller.TerminateWorker(ctx, call.WorkerID, reason)
		} else {
			_ = m.controller.SuspendWorker(ctx, call.WorkerID, reason)
		}
	}

	return action, nil
}

func (m *Monitor) emit(ctx context.Context, alert *models.SecurityAlert) {
	if m.publisher != nil {
		m.publisher.Publish("security.alert", alert)
	}
	if m.store != nil {
		if err := m.store.SaveAlert(ctx, alert); err != nil {
			m.logger.Warn("save alert failed", "alert_id", alert.AlertID, "error", err)
		}
	}
}

func expectationSeverity(score float64) models.Severity {
	switch {
	case score >= 0.8:
		return models.SeverityHigh
	case score >= 0.4:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// presetTimeoutSeverity maps a classifier timeout to the preset's safe
// side per §4.5's invariant: default falls back to warn, strict to block.
func presetTimeoutSeverity(preset models.Preset) models.Severity {
	switch preset {
	case models.PresetStrict, models.PresetHumanReview:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

// fuseDecision maps (preset, max severity) to a recommended action per the
// table in §4.5 step 4.
func fuseDecision(preset models.Preset, severity models.Severity) models.RecommendedAction {
	switch preset {
	case models.PresetStrict:
		switch severity {
		case models.SeverityLow:
			return models.ActionWarn
		case models.SeverityMedium:
			return models.ActionBlock
		case models.SeverityHigh:
			return models.ActionTerminate
		default: // critical
			return models.ActionTerminate
		}
	case models.PresetHumanReview:
		if severity == models.SeverityLow {
			return models.ActionLog
		}
		return models.ActionBlock
	default: // PresetDefault
		switch severity {
		case models.SeverityLow:
			return models.ActionLog
		case models.SeverityMedium, models.SeverityHigh:
			return models.ActionWarn
		default: // critical
			return models.ActionBlock
		}
	}
}
