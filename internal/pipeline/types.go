// Package pipeline drives the Ralphline state machine: a bounded,
// deterministic plan→implement→verify→review workflow where each phase
// delegates to the meta-agent and, for verification, to a best-of-N fusion
// vote across several worker instances.
//
// Grounded on internal/infra/pool.go's generic Pool[T] for the shared
// worker pool backing the implement phase (P-thread) when
// use_worker_pool is set, and internal/infra/circuit.go's CircuitBreaker
// style for bounding verifier launch failures — adapted from generic
// resource pooling/resilience into pipeline-specific dispatch. The phase
// data model (Pipeline, Phase, PipelineConfig, VerificationStrategy) is
// pkg/models/pipeline.go; this package supplies the runtime that drives it.
package pipeline

import (
	"context"
	"time"

	"github.com/ralphline/ralphline/pkg/models"
)

// DefaultVerifyTimeout bounds how long the testing phase waits for all
// verifiers before running fusion on whatever has returned (T_verify_max).
const DefaultVerifyTimeout = 10 * time.Minute

// Planner generates a structured plan for the pipeline's user request,
// appending it to the current plan phase's artifact. Grounded on the
// meta-agent tool loop's single-turn contract (§4.4): a plan is just one
// more assistant turn with a fixed output schema.
type Planner interface {
	Plan(ctx context.Context, p *models.Pipeline, priorFailure string) (artifactRef string, err error)
}

// Implementer decomposes the plan into a task DAG and dispatches root
// tasks to workers (from the shared pool when configured, else freshly
// spawned), running up to MaxParallelTasks concurrently.
type Implementer interface {
	Implement(ctx context.Context, p *models.Pipeline) (artifactRef string, err error)
}

// VerifierResult is one verifier instance's outcome against the
// implemented artifact.
type VerifierResult struct {
	Index      int
	Answer     string
	Confidence float64 // self-reported, used by the weighted strategy
	Passed     bool    // auto-validation-command result, used by the first strategy
}

// Verifier launches one of the n_verifiers instances with an identical
// verification prompt against the implemented artifact.
type Verifier interface {
	Verify(ctx context.Context, p *models.Pipeline, index int) (*VerifierResult, error)
}

// MetaRanker invokes the meta-agent with all verifier transcripts to rank
// them, backing the "meta" fusion strategy.
type MetaRanker interface {
	Rank(ctx context.Context, results []*VerifierResult) (winnerIndex int, confidence float64, err error)
}

// Reviewer performs the final human-or-auto review decision.
type Reviewer interface {
	Review(ctx context.Context, p *models.Pipeline, verifyConfidence float64) (approved bool, err error)
}

// Store persists pipeline state transitions.
type Store interface {
	SavePipeline(ctx context.Context, p *models.Pipeline) error
	SavePipelineEvent(ctx context.Context, pipelineID, kind string, payload any) error
}

// Publisher emits pipeline phase transitions onto the process-wide bus.
type Publisher interface {
	Publish(topic string, payload any)
}
