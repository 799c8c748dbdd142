package models

import "time"

// PipelineStatus is the overall state of a Ralphline pipeline instance.
type PipelineStatus string

const (
	PipelinePlanning     PipelineStatus = "planning"
	PipelineImplementing PipelineStatus = "implementing"
	PipelineTesting      PipelineStatus = "testing"
	PipelineReviewing    PipelineStatus = "reviewing"
	PipelineCompleted    PipelineStatus = "completed"
	PipelineFailed       PipelineStatus = "failed"
	PipelineCancelled    PipelineStatus = "cancelled"
)

// VerificationStrategy selects the best-of-N fusion algorithm for the
// testing phase (F-thread).
type VerificationStrategy string

const (
	StrategyMajority VerificationStrategy = "majority"
	StrategyWeighted VerificationStrategy = "weighted"
	StrategyMeta     VerificationStrategy = "meta"
	StrategyFirst    VerificationStrategy = "first"
)

// PoolPriority orders acquisition from the shared worker pool.
type PoolPriority string

const (
	PoolPriorityLow    PoolPriority = "low"
	PoolPriorityNormal PoolPriority = "normal"
	PoolPriorityHigh   PoolPriority = "high"
)

// PipelineConfig carries the strategy knobs recognised per-pipeline.
type PipelineConfig struct {
	UseWorkerPool            bool                  `json:"use_worker_pool"`
	PoolPriority              PoolPriority          `json:"pool_priority"`
	EnableOrchestration       bool                  `json:"enable_orchestration"`
	AutoDecompose             bool                  `json:"auto_decompose"`
	MaxParallelTasks          int                   `json:"max_parallel_tasks"`
	EnableVerification        bool                  `json:"enable_verification"`
	Strategy                  VerificationStrategy  `json:"strategy"`
	NVerifiers                int                   `json:"n_verifiers"`
	ConfidenceThreshold       float64               `json:"confidence_threshold"`
	RequirePlanReview         bool                  `json:"require_plan_review"`
	RequireFinalReview        bool                  `json:"require_final_review"`
	AutoValidationCommand     string                `json:"auto_validation_command,omitempty"`
	AutoApproveOnVerification bool                  `json:"auto_approve_on_verification"`
	MaxPipelineIterations     int                   `json:"max_pipeline_iterations"`
}

// DefaultPipelineConfig returns the spec-mandated defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		PoolPriority:           PoolPriorityNormal,
		MaxParallelTasks:       3,
		Strategy:               StrategyMajority,
		NVerifiers:             3,
		ConfidenceThreshold:    0.6,
		MaxPipelineIterations:  3,
	}
}

// PhaseName is one of the four Ralphline stages.
type PhaseName string

const (
	PhasePlan      PhaseName = "plan"
	PhaseImplement PhaseName = "implement"
	PhaseVerify    PhaseName = "verify"
	PhaseReview    PhaseName = "review"
)

// PhaseStatus is the per-phase lifecycle.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
	PhaseSkipped    PhaseStatus = "skipped"
	PhaseCancelled  PhaseStatus = "cancelled"
)

// CheckpointStatus is the C-thread's gate state for a phase.
type CheckpointStatus string

const (
	CheckpointNotRequired     CheckpointStatus = "not_required"
	CheckpointAwaitingHuman   CheckpointStatus = "awaiting_human"
	CheckpointAwaitingValidator CheckpointStatus = "awaiting_validator"
	CheckpointApproved        CheckpointStatus = "approved"
	CheckpointRejected        CheckpointStatus = "rejected"
)

// Phase is one stage of a pipeline.
type Phase struct {
	Name             PhaseName        `json:"name"`
	Status           PhaseStatus      `json:"status"`
	CheckpointType   string           `json:"checkpoint_type,omitempty"`
	CheckpointStatus CheckpointStatus `json:"checkpoint_status"`
	StartTime        time.Time        `json:"start_time,omitempty"`
	EndTime          time.Time        `json:"end_time,omitempty"`
	ArtifactRef      string           `json:"artifact_ref,omitempty"`
}

// Pipeline is a supervisor over one Ralphline workflow instance.
type Pipeline struct {
	ID           string         `json:"id"`
	WorkingDir   string         `json:"working_dir"`
	UserRequest  string         `json:"user_request"`
	Status       PipelineStatus `json:"status"`
	Phases       []*Phase       `json:"phases"`
	Config       PipelineConfig `json:"config"`
	Iterations   int            `json:"iterations"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
}

// CurrentPhase returns the phase currently in_progress, if any.
func (p *Pipeline) CurrentPhase() *Phase {
	for _, ph := range p.Phases {
		if ph.Status == PhaseInProgress {
			return ph
		}
	}
	return nil
}

// PhaseByName returns the named phase record.
func (p *Pipeline) PhaseByName(name PhaseName) *Phase {
	for _, ph := range p.Phases {
		if ph.Name == name {
			return ph
		}
	}
	return nil
}

// NewPipeline builds a pipeline with its four phases initialised to pending.
func NewPipeline(id, workingDir, userRequest string, cfg PipelineConfig) *Pipeline {
	now := time.Now()
	return &Pipeline{
		ID:          id,
		WorkingDir:  workingDir,
		UserRequest: userRequest,
		Status:      PipelinePlanning,
		Config:      cfg,
		CreatedAt:   now,
		LastActivity: now,
		Phases: []*Phase{
			{Name: PhasePlan, Status: PhasePending, CheckpointStatus: CheckpointNotRequired},
			{Name: PhaseImplement, Status: PhasePending, CheckpointStatus: CheckpointNotRequired},
			{Name: PhaseVerify, Status: PhasePending, CheckpointStatus: CheckpointNotRequired},
			{Name: PhaseReview, Status: PhasePending, CheckpointStatus: CheckpointNotRequired},
		},
	}
}
