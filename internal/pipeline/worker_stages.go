// Stage adapters that drive Ralphline's four phases through real worker
// child processes rather than an in-process model call: each stage spawns
// (or reuses) a worker, sends a phase-appropriate prompt built from the
// pipeline's UserRequest and prior artifacts, and waits on the worker's own
// output stream for the terminating "result" event, concatenating any text
// events seen along the way into the phase's artifact.
//
// Grounded on internal/worker/manager.go's CreateWorker/SendPrompt
// lifecycle and the worker.output.<id>/worker.status.<id> bus topics
// stream.go publishes to.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ralphline/ralphline/internal/backoff"
	"github.com/ralphline/ralphline/internal/eventbus"
	"github.com/ralphline/ralphline/pkg/models"
)

// spawnMaxAttempts bounds how many times workerFor retries a failed
// CreateWorker call (e.g. a transient "address already in use" on the
// hook port, or a momentarily missing binary on PATH during a restart).
const spawnMaxAttempts = 3

// WorkerLauncher is the subset of *worker.Manager a stage needs: spawn one
// worker per pipeline (reused across phases) and hand it a prompt.
type WorkerLauncher interface {
	CreateWorker(ctx context.Context, workingDir string, cfg models.WorkerConfig) (string, error)
	SendPrompt(ctx context.Context, workerID, prompt string) (sessionID string, err error)
}

// WorkerStages implements Planner, Implementer, Verifier, and Reviewer by
// running each phase as a prompt against one worker per pipeline, keyed by
// pipeline ID so all four phases share the same child process and its
// accumulated conversation context.
type WorkerStages struct {
	launcher  WorkerLauncher
	bus       *eventbus.Bus
	cfg       models.WorkerConfig
	turnWait  time.Duration
	workerIDs map[string]string
}

// NewWorkerStages builds a WorkerStages. cfg.Command/Args/Env configure
// every worker it spawns; turnWait bounds how long a single prompt may run
// before the stage gives up and returns an error.
func NewWorkerStages(launcher WorkerLauncher, bus *eventbus.Bus, cfg models.WorkerConfig, turnWait time.Duration) *WorkerStages {
	if turnWait <= 0 {
		turnWait = 10 * time.Minute
	}
	return &WorkerStages{launcher: launcher, bus: bus, cfg: cfg, turnWait: turnWait, workerIDs: make(map[string]string)}
}

func (s *WorkerStages) workerFor(ctx context.Context, p *models.Pipeline) (string, error) {
	if id, ok := s.workerIDs[p.ID]; ok {
		return id, nil
	}
	id, err := backoff.RetryFunc(ctx, spawnMaxAttempts, func(attempt int) (string, error) {
		return s.launcher.CreateWorker(ctx, p.WorkingDir, s.cfg)
	})
	if err != nil {
		return "", fmt.Errorf("spawn worker for pipeline %s: %w", p.ID, err)
	}
	s.workerIDs[p.ID] = id
	return id, nil
}

// runTurn sends prompt to the pipeline's worker and blocks until the
// worker reports a result (or error, or the turn timeout).
func (s *WorkerStages) runTurn(ctx context.Context, p *models.Pipeline, prompt string) (string, error) {
	workerID, err := s.workerFor(ctx, p)
	if err != nil {
		return "", err
	}

	sub := s.bus.Subscribe(fmt.Sprintf("worker.output.%s", workerID), eventbus.KindDurable)
	defer sub.Unsubscribe()

	sessionID, err := s.launcher.SendPrompt(ctx, workerID, prompt)
	if err != nil {
		return "", fmt.Errorf("send prompt to worker %s: %w", workerID, err)
	}

	turnCtx, cancel := context.WithTimeout(ctx, s.turnWait)
	defer cancel()

	var transcript strings.Builder
	for {
		env, ok := waitNext(turnCtx, sub)
		if !ok {
			return "", fmt.Errorf("worker %s: turn timed out waiting for result", workerID)
		}
		evt, ok := env.Payload.(*models.OutputEvent)
		if !ok || evt.SessionID != sessionID {
			continue
		}
		switch evt.Kind {
		case models.OutputText:
			transcript.WriteString(evt.Raw)
			transcript.WriteString("\n")
		case models.OutputError:
			return "", fmt.Errorf("worker %s: %s", workerID, evt.Raw)
		case models.OutputResult:
			if transcript.Len() == 0 {
				transcript.WriteString(evt.Raw)
			}
			return transcript.String(), nil
		}
	}
}

// waitNext adapts Subscription.Next (which has no context awareness) to
// turnCtx's deadline by racing it against ctx.Done in a helper goroutine.
func waitNext(ctx context.Context, sub *eventbus.Subscription) (eventbus.Envelope, bool) {
	type result struct {
		env eventbus.Envelope
		ok  bool
	}
	done := make(chan result, 1)
	go func() {
		env, ok := sub.Next()
		done <- result{env, ok}
	}()
	select {
	case <-ctx.Done():
		return eventbus.Envelope{}, false
	case r := <-done:
		return r.env, r.ok
	}
}

// Plan implements Planner: asks the worker to produce a plan for the
// pipeline's user request, referencing the prior failure reason (if any)
// from a rejected review loop-back.
func (s *WorkerStages) Plan(ctx context.Context, p *models.Pipeline, priorFailure string) (string, error) {
	prompt := fmt.Sprintf("Draft an implementation plan for this request:\n\n%s", p.UserRequest)
	if priorFailure != "" {
		prompt += fmt.Sprintf("\n\nThe previous attempt was rejected: %s\nRevise the plan accordingly.", priorFailure)
	}
	return s.runTurn(ctx, p, prompt)
}

// Implement implements Implementer: asks the worker to carry out the
// approved plan.
func (s *WorkerStages) Implement(ctx context.Context, p *models.Pipeline) (string, error) {
	plan := p.PhaseByName(models.PhasePlan).ArtifactRef
	prompt := fmt.Sprintf("Implement the following plan in this working directory:\n\n%s", plan)
	return s.runTurn(ctx, p, prompt)
}

// Verify implements Verifier: asks the worker to independently check the
// implementation and report pass/fail with a confidence estimate. index
// only labels which of the n_verifiers concurrent calls this is; every
// call runs the same worker conversation, so this is most useful with
// NVerifiers=1 unless the caller wires a worker pool per index.
func (s *WorkerStages) Verify(ctx context.Context, p *models.Pipeline, index int) (*VerifierResult, error) {
	prompt := "Review the changes just made. Reply with PASS or FAIL on the first line, followed by your reasoning."
	out, err := s.runTurn(ctx, p, prompt)
	if err != nil {
		return nil, err
	}
	passed := strings.HasPrefix(strings.ToUpper(strings.TrimSpace(out)), "PASS")
	confidence := 0.5
	if passed {
		confidence = 1.0
	}
	return &VerifierResult{Index: index, Answer: out, Confidence: confidence, Passed: passed}, nil
}

// Review implements Reviewer: asks the worker for a final approve/reject
// call given the fused verification confidence.
func (s *WorkerStages) Review(ctx context.Context, p *models.Pipeline, verifyConfidence float64) (bool, error) {
	prompt := fmt.Sprintf("Verification confidence is %.2f. Reply APPROVE or REJECT on the first line.", verifyConfidence)
	out, err := s.runTurn(ctx, p, prompt)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(out)), "APPROVE"), nil
}
