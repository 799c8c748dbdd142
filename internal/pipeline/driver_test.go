package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ralphline/ralphline/pkg/models"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string
}

func (p *fakePublisher) Publish(topic string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, topic)
}

type fakeStore struct {
	mu    sync.Mutex
	saved int
}

func (s *fakeStore) SavePipeline(ctx context.Context, p *models.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved++
	return nil
}

func (s *fakeStore) SavePipelineEvent(ctx context.Context, pipelineID, kind string, payload any) error {
	return nil
}

type fakePlanner struct{ calls int }

func (f *fakePlanner) Plan(ctx context.Context, p *models.Pipeline, priorFailure string) (string, error) {
	f.calls++
	return "plan-artifact", nil
}

type fakeImplementer struct{}

func (fakeImplementer) Implement(ctx context.Context, p *models.Pipeline) (string, error) {
	return "impl-artifact", nil
}

type scriptedVerifier struct {
	answers []string
}

func (v *scriptedVerifier) Verify(ctx context.Context, p *models.Pipeline, index int) (*VerifierResult, error) {
	return &VerifierResult{Index: index, Answer: v.answers[index], Confidence: 1.0, Passed: true}, nil
}

type fakeReviewer struct {
	approve bool
}

func (r *fakeReviewer) Review(ctx context.Context, p *models.Pipeline, confidence float64) (bool, error) {
	return r.approve, nil
}

func newTestPipeline(cfg models.PipelineConfig) *models.Pipeline {
	return models.NewPipeline("pipe-1", "/tmp/work", "add a feature", cfg)
}

func TestDriver_HappyPath_AutoApproves(t *testing.T) {
	cfg := models.DefaultPipelineConfig()
	cfg.NVerifiers = 3
	cfg.AutoApproveOnVerification = true
	p := newTestPipeline(cfg)

	verifier := &scriptedVerifier{answers: []string{"pass", "pass", "pass"}}
	store := &fakeStore{}
	pub := &fakePublisher{}
	d := New(&fakePlanner{}, fakeImplementer{}, verifier, nil, &fakeReviewer{approve: true}, store, pub, newTestLogger())

	if err := d.Run(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != models.PipelineCompleted {
		t.Errorf("expected pipeline completed, got %s", p.Status)
	}
	if store.saved == 0 {
		t.Error("expected pipeline to be persisted at least once")
	}
}

func TestDriver_PlanReviewChecksOutAwaitingHuman(t *testing.T) {
	cfg := models.DefaultPipelineConfig()
	cfg.RequirePlanReview = true
	p := newTestPipeline(cfg)

	d := New(&fakePlanner{}, fakeImplementer{}, &scriptedVerifier{answers: []string{"x"}}, nil, &fakeReviewer{approve: true}, &fakeStore{}, &fakePublisher{}, newTestLogger())

	if err := d.Run(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	plan := p.PhaseByName(models.PhasePlan)
	if plan.CheckpointStatus != models.CheckpointAwaitingHuman {
		t.Errorf("expected plan checkpoint awaiting_human, got %s", plan.CheckpointStatus)
	}
	if p.Status == models.PipelineCompleted {
		t.Error("pipeline should not auto-complete while parked on a plan checkpoint")
	}
}

func TestDriver_LowConfidenceReviewRejectionLoopsBackToPlanning(t *testing.T) {
	cfg := models.DefaultPipelineConfig()
	cfg.MaxPipelineIterations = 2
	cfg.ConfidenceThreshold = 0.99 // force fusion to fail so review never even runs with split votes
	cfg.NVerifiers = 3
	p := newTestPipeline(cfg)

	planner := &fakePlanner{}
	verifier := &scriptedVerifier{answers: []string{"a", "b", "c"}} // no majority, confidence 1/3
	d := New(planner, fakeImplementer{}, verifier, nil, &fakeReviewer{approve: true}, &fakeStore{}, &fakePublisher{}, newTestLogger())

	err := d.Run(context.Background(), p)
	if err == nil {
		t.Fatal("expected pipeline to fail after exhausting iterations")
	}
	if p.Status != models.PipelineFailed {
		t.Errorf("expected pipeline failed, got %s", p.Status)
	}
	if planner.calls < 2 {
		t.Errorf("expected planning to be re-invoked on loop-back, got %d calls", planner.calls)
	}
}

func TestFuseMajority_TiesBreakTowardLowestIndex(t *testing.T) {
	results := []*VerifierResult{
		{Index: 0, Answer: "a"},
		{Index: 1, Answer: "b"},
	}
	out := fuseMajority(results)
	if out.WinnerIndex != 0 || out.Answer != "a" {
		t.Errorf("expected tie to break toward index 0, got index %d answer %s", out.WinnerIndex, out.Answer)
	}
}

func TestFuseWeighted_PicksHighestConfidenceSum(t *testing.T) {
	results := []*VerifierResult{
		{Index: 0, Answer: "a", Confidence: 0.2},
		{Index: 1, Answer: "b", Confidence: 0.9},
		{Index: 2, Answer: "b", Confidence: 0.1},
	}
	out := fuseWeighted(results)
	if out.Answer != "b" {
		t.Errorf("expected b to win on weighted confidence, got %s", out.Answer)
	}
	want := 1.0 / 1.2
	if out.Confidence < want-0.01 || out.Confidence > want+0.01 {
		t.Errorf("expected aggregate confidence ~%.3f, got %.3f", want, out.Confidence)
	}
}

func TestFuseFirst_FallsBackToMajorityWhenNonePass(t *testing.T) {
	results := []*VerifierResult{
		{Index: 0, Answer: "a", Passed: false},
		{Index: 1, Answer: "a", Passed: false},
	}
	out := fuseFirst(results)
	if out.Answer != "a" {
		t.Errorf("expected fallback majority answer a, got %s", out.Answer)
	}
}

func TestFuseMeta_NilRankerFallsBackToMajority(t *testing.T) {
	results := []*VerifierResult{
		{Index: 0, Answer: "a"},
		{Index: 1, Answer: "a"},
		{Index: 2, Answer: "b"},
	}
	out := fuseMeta(context.Background(), results, nil)
	if out.Answer != "a" {
		t.Errorf("expected nil ranker to fall back to majority answer a, got %s", out.Answer)
	}
}

var errBoom = errors.New("boom")

type failingImplementer struct{}

func (failingImplementer) Implement(ctx context.Context, p *models.Pipeline) (string, error) {
	return "", errBoom
}

func TestDriver_ImplementFailurePropagates(t *testing.T) {
	cfg := models.DefaultPipelineConfig()
	p := newTestPipeline(cfg)
	d := New(&fakePlanner{}, failingImplementer{}, &scriptedVerifier{answers: []string{"x"}}, nil, &fakeReviewer{approve: true}, &fakeStore{}, &fakePublisher{}, newTestLogger())

	err := d.Run(context.Background(), p)
	if err == nil {
		t.Fatal("expected error from failing implement phase")
	}
	if p.Status != models.PipelineFailed {
		t.Errorf("expected pipeline failed, got %s", p.Status)
	}
}
