package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ralphline/ralphline/pkg/models"
)

// ErrCancelled is returned by Run when the context is cancelled mid-phase.
var ErrCancelled = errors.New("pipeline cancelled")

// Driver runs one pipeline instance through the Ralphline state machine.
// It owns no pool itself — the implement phase's Implementer decides
// whether to draw from a shared WorkerPool, per PipelineConfig.UseWorkerPool.
type Driver struct {
	plan       Planner
	implement  Implementer
	verify     Verifier
	ranker     MetaRanker
	review     Reviewer
	store      Store
	publisher  Publisher
	logger     *slog.Logger
	verifyWait time.Duration
}

// New builds a Driver. ranker may be nil when the pipeline never uses the
// "meta" strategy.
func New(plan Planner, implement Implementer, verify Verifier, ranker MetaRanker, review Reviewer, store Store, publisher Publisher, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		plan:       plan,
		implement:  implement,
		verify:     verify,
		ranker:     ranker,
		review:     review,
		store:      store,
		publisher:  publisher,
		logger:     logger.With("component", "pipeline"),
		verifyWait: DefaultVerifyTimeout,
	}
}

// Run drives p through planning -> implementing -> testing -> reviewing,
// looping back to planning on review rejection until it either completes,
// exhausts MaxPipelineIterations, or is cancelled. It mutates p in place and
// persists p after every phase transition.
func (d *Driver) Run(ctx context.Context, p *models.Pipeline) error {
	var failureReason string
	for {
		if err := ctx.Err(); err != nil {
			d.cancel(ctx, p)
			return ErrCancelled
		}

		if err := d.runPlanning(ctx, p, failureReason); err != nil {
			return d.fail(ctx, p, err)
		}
		if p.PhaseByName(models.PhasePlan).CheckpointStatus == models.CheckpointAwaitingHuman {
			d.persist(ctx, p)
			return nil // caller resumes via Resume once the checkpoint clears
		}

		if err := d.runImplementing(ctx, p); err != nil {
			return d.fail(ctx, p, err)
		}

		outcome, err := d.runTesting(ctx, p)
		if err != nil {
			return d.fail(ctx, p, err)
		}

		approved, terminal, err := d.runReviewing(ctx, p, outcome)
		if err != nil {
			return d.fail(ctx, p, err)
		}
		if terminal {
			d.persist(ctx, p)
			return nil
		}
		if approved {
			p.Status = models.PipelineCompleted
			d.markPhase(p, models.PhaseReview, models.PhaseCompleted, models.CheckpointApproved)
			d.persist(ctx, p)
			d.publish("pipeline.completed", p)
			return nil
		}

		p.Iterations++
		if p.Iterations >= p.Config.MaxPipelineIterations {
			p.Status = models.PipelineFailed
			d.persist(ctx, p)
			d.publish("pipeline.failed", p)
			return fmt.Errorf("pipeline %s exhausted %d iterations without approval", p.ID, p.Iterations)
		}

		failureReason = "review rejected prior implementation; see phase artifacts for transcripts"
		d.resetForReplan(p)
		d.persist(ctx, p)
		d.publish("pipeline.replanning", p)
	}
}

func (d *Driver) runPlanning(ctx context.Context, p *models.Pipeline, priorFailure string) error {
	phase := p.PhaseByName(models.PhasePlan)
	d.startPhase(p, phase)
	d.publish("pipeline.phase.started", phaseEvent(p, phase))

	ref, err := d.plan.Plan(ctx, p, priorFailure)
	if err != nil {
		d.markPhase(p, models.PhasePlan, models.PhaseFailed, models.CheckpointNotRequired)
		return fmt.Errorf("planning: %w", err)
	}
	phase.ArtifactRef = ref

	if p.Config.RequirePlanReview {
		d.markPhase(p, models.PhasePlan, models.PhaseInProgress, models.CheckpointAwaitingHuman)
		d.publish("pipeline.checkpoint.awaiting_human", phaseEvent(p, phase))
		return nil
	}
	d.markPhase(p, models.PhasePlan, models.PhaseCompleted, models.CheckpointApproved)
	p.Status = models.PipelineImplementing
	return nil
}

func (d *Driver) runImplementing(ctx context.Context, p *models.Pipeline) error {
	phase := p.PhaseByName(models.PhaseImplement)
	d.startPhase(p, phase)
	d.publish("pipeline.phase.started", phaseEvent(p, phase))

	ref, err := d.implement.Implement(ctx, p)
	if err != nil {
		d.markPhase(p, models.PhaseImplement, models.PhaseFailed, models.CheckpointNotRequired)
		return fmt.Errorf("implementing: %w", err)
	}
	phase.ArtifactRef = ref
	d.markPhase(p, models.PhaseImplement, models.PhaseCompleted, models.CheckpointNotRequired)
	p.Status = models.PipelineTesting
	return nil
}

// runTesting launches n_verifiers concurrently, waits up to T_verify_max,
// and fuses whatever returned in time. A verifier that never returns is
// simply excluded from fusion rather than failing the phase outright.
func (d *Driver) runTesting(ctx context.Context, p *models.Pipeline) (fusionOutcome, error) {
	phase := p.PhaseByName(models.PhaseVerify)
	d.startPhase(p, phase)
	d.publish("pipeline.phase.started", phaseEvent(p, phase))

	n := p.Config.NVerifiers
	if n <= 0 {
		n = 1
	}
	waitFor := d.verifyWait
	if waitFor <= 0 {
		waitFor = DefaultVerifyTimeout
	}
	verifyCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()

	results := make([]*VerifierResult, 0, n)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			res, err := d.verify.Verify(verifyCtx, p, idx)
			if err != nil {
				d.logger.Warn("verifier failed", "pipeline_id", p.ID, "index", idx, "error", err)
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	outcome := fuse(ctx, p.Config.Strategy, results, p.Config.ConfidenceThreshold, d.ranker)
	if !outcome.Passed {
		d.markPhase(p, models.PhaseVerify, models.PhaseFailed, models.CheckpointNotRequired)
		return outcome, fmt.Errorf("testing: fused confidence %.2f below threshold %.2f", outcome.Confidence, p.Config.ConfidenceThreshold)
	}
	phase.ArtifactRef = outcome.Answer
	d.markPhase(p, models.PhaseVerify, models.PhaseCompleted, models.CheckpointNotRequired)
	p.Status = models.PipelineReviewing
	return outcome, nil
}

// runReviewing returns (approved, terminal, err). terminal is true when the
// phase parked on a human checkpoint and the driver should return without
// advancing further this call.
func (d *Driver) runReviewing(ctx context.Context, p *models.Pipeline, outcome fusionOutcome) (bool, bool, error) {
	phase := p.PhaseByName(models.PhaseReview)
	d.startPhase(p, phase)
	d.publish("pipeline.phase.started", phaseEvent(p, phase))

	if p.Config.AutoApproveOnVerification && outcome.Passed {
		return true, false, nil
	}
	if p.Config.RequireFinalReview {
		d.markPhase(p, models.PhaseReview, models.PhaseInProgress, models.CheckpointAwaitingHuman)
		d.publish("pipeline.checkpoint.awaiting_human", phaseEvent(p, phase))
		return false, true, nil
	}

	approved, err := d.review.Review(ctx, p, outcome.Confidence)
	if err != nil {
		d.markPhase(p, models.PhaseReview, models.PhaseFailed, models.CheckpointNotRequired)
		return false, false, fmt.Errorf("reviewing: %w", err)
	}
	if !approved {
		d.markPhase(p, models.PhaseReview, models.PhaseFailed, models.CheckpointRejected)
	}
	return approved, false, nil
}

// resetForReplan reopens the plan/implement/verify/review phases to pending
// ahead of a loop-back iteration, leaving prior ArtifactRefs in place so the
// next planning call can reference them as context.
func (d *Driver) resetForReplan(p *models.Pipeline) {
	for _, ph := range p.Phases {
		if ph.Name == models.PhasePlan {
			continue // the next loop iteration re-runs planning fresh
		}
		ph.Status = models.PhasePending
		ph.CheckpointStatus = models.CheckpointNotRequired
	}
	p.Status = models.PipelinePlanning
}

func (d *Driver) cancel(ctx context.Context, p *models.Pipeline) {
	for _, ph := range p.Phases {
		if ph.Status == models.PhaseInProgress {
			ph.Status = models.PhaseCancelled
			ph.EndTime = time.Now()
		}
	}
	p.Status = models.PipelineCancelled
	d.persist(context.Background(), p)
	d.publish("pipeline.cancelled", p)
}

func (d *Driver) fail(ctx context.Context, p *models.Pipeline, cause error) error {
	p.Status = models.PipelineFailed
	d.persist(ctx, p)
	d.publish("pipeline.failed", p)
	return cause
}

func (d *Driver) startPhase(p *models.Pipeline, phase *models.Phase) {
	phase.Status = models.PhaseInProgress
	phase.StartTime = time.Now()
	p.LastActivity = phase.StartTime
}

func (d *Driver) markPhase(p *models.Pipeline, name models.PhaseName, status models.PhaseStatus, checkpoint models.CheckpointStatus) {
	phase := p.PhaseByName(name)
	phase.Status = status
	phase.CheckpointStatus = checkpoint
	phase.EndTime = time.Now()
	p.LastActivity = phase.EndTime
}

func (d *Driver) persist(ctx context.Context, p *models.Pipeline) {
	if d.store == nil {
		return
	}
	if err := d.store.SavePipeline(ctx, p); err != nil {
		d.logger.Warn("save pipeline failed", "pipeline_id", p.ID, "error", err)
	}
}

func (d *Driver) publish(topic string, payload any) {
	if d.publisher != nil {
		d.publisher.Publish(topic, payload)
	}
}

func phaseEvent(p *models.Pipeline, phase *models.Phase) map[string]any {
	return map[string]any{
		"pipeline_id": p.ID,
		"phase":       phase.Name,
		"status":      phase.Status,
	}
}
