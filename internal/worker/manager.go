// Package worker owns the lifecycle of coding-assistant child processes and
// parses their streaming output into typed OutputEvents.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ralphline/ralphline/internal/apperr"
	safeexec "github.com/ralphline/ralphline/internal/exec"
	"github.com/ralphline/ralphline/pkg/models"
)

// DefaultStopGrace is how long StopWorker waits for a graceful exit before
// force-killing the child.
const DefaultStopGrace = 2 * time.Second

// Publisher delivers OutputEvents and status changes onto the process-wide
// event bus. Implemented by internal/eventbus, which applies the
// drop-oldest UI backpressure policy; the Worker Manager itself always
// persists every event and never drops on the way to the bus.
type Publisher interface {
	Publish(topic string, payload any)
}

// Store persists workers, sessions, and output events. Implemented by the
// SQLite-backed persistence layer.
type Store interface {
	SaveWorker(ctx context.Context, w *models.Worker) error
	SaveSession(ctx context.Context, s *models.WorkerSession) error
	SealSession(ctx context.Context, sessionID string, status models.SessionStatus, endedAt time.Time) error
	SaveOutputEvent(ctx context.Context, e *models.OutputEvent) error
	ListRunningWorkers(ctx context.Context) ([]*models.Worker, error)
}

// managedWorker is the manager's private handle on a live child process.
type managedWorker struct {
	mu sync.Mutex

	worker *models.Worker
	stats  models.WorkerStatistics

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc

	pendingSession bool
	exited         chan struct{}
}

// Manager is the Worker Manager: it owns Workers and Sessions (per spec.md
// §3's ownership table).
type Manager struct {
	mu      sync.RWMutex
	workers map[string]*managedWorker

	bus    Publisher
	store  Store
	logger *slog.Logger

	hookURL   string
	shimDir   string
	stopGrace time.Duration
}

// Config configures a Manager.
type Config struct {
	HookURL   string // e.g. http://127.0.0.1:19832/hook
	ShimDir   string // directory holding elevation shim binaries, prepended to PATH
	StopGrace time.Duration
}

// NewManager creates a Worker Manager.
func NewManager(cfg Config, bus Publisher, store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	grace := cfg.StopGrace
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	return &Manager{
		workers:   make(map[string]*managedWorker),
		bus:       bus,
		store:     store,
		logger:    logger.With("component", "worker_manager"),
		hookURL:   cfg.HookURL,
		shimDir:   cfg.ShimDir,
		stopGrace: grace,
	}
}

// CreateWorker spawns a new child process bound to workingDir and returns
// its worker_id.
func (m *Manager) CreateWorker(ctx context.Context, workingDir string, cfg models.WorkerConfig) (string, error) {
	info, err := os.Stat(workingDir)
	if err != nil || !info.IsDir() {
		return "", &apperr.InvalidInput{Field: "working_dir", Reason: "does not exist or is not a directory"}
	}
	if cfg.Command == "" {
		return "", &apperr.InvalidInput{Field: "command", Reason: "must not be empty"}
	}
	if !safeexec.IsSafeExecutableValue(cfg.Command) {
		return "", &apperr.InvalidInput{Field: "command", Reason: "contains shell metacharacters or control characters"}
	}
	for _, a := range cfg.Args {
		if !safeexec.IsSafeArgument(a) {
			return "", &apperr.InvalidInput{Field: "args", Reason: fmt.Sprintf("argument %q contains shell metacharacters or control characters", a)}
		}
	}
	if err := requireAPIKey(cfg.Env); err != nil {
		return "", err
	}

	id := uuid.NewString()
	args := append([]string{}, cfg.Args...)
	if m.hookURL != "" {
		args = append(args, "--hook-url", m.hookURL)
	}

	cmd := exec.Command(cfg.Command, args...)
	cmd.Dir = workingDir
	cmd.Env = buildEnv(cfg.Env, id, m.shimDir)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", &apperr.SpawnFailed{Reason: "stdin pipe", Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", &apperr.SpawnFailed{Reason: "stdout pipe", Cause: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", &apperr.SpawnFailed{Reason: "stderr pipe", Cause: err}
	}

	if err := cmd.Start(); err != nil {
		return "", &apperr.SpawnFailed{Reason: "exec start", Cause: err}
	}

	now := time.Now()
	mw := &managedWorker{
		worker: &models.Worker{
			ID:           id,
			WorkingDir:   workingDir,
			Status:       models.WorkerRunning,
			StartedAt:    now,
			LastActivity: now,
			Config:       cfg,
			PID:          cmd.Process.Pid,
		},
		cmd:    cmd,
		stdin:  stdin,
		exited: make(chan struct{}),
	}

	m.mu.Lock()
	m.workers[id] = mw
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveWorker(ctx, mw.worker); err != nil {
			m.logger.Warn("persist worker failed", "worker_id", id, "error", err)
		}
	}

	go m.readStdout(id, mw, stdout)
	go m.readStderr(id, mw, stderr)
	go m.awaitExit(id, mw)

	m.logger.Info("worker created", "worker_id", id, "working_dir", workingDir, "pid", mw.worker.PID)
	return id, nil
}

// SendPrompt enqueues a user turn. It is idempotent in the sense that the
// only observable effect of a duplicate submission while busy is ErrBusy;
// it never queues a second in-flight turn.
func (m *Manager) SendPrompt(ctx context.Context, workerID, prompt string) (string, error) {
	mw, err := m.lookup(workerID)
	if err != nil {
		return "", err
	}

	mw.mu.Lock()
	if mw.worker.Terminal() || mw.worker.Status == models.WorkerSuspended {
		mw.mu.Unlock()
		return "", apperr.ErrWorkerNotRunning
	}
	if mw.worker.SuspendedSoft {
		mw.mu.Unlock()
		return "", apperr.ErrWorkerNotRunning
	}
	if mw.pendingSession {
		mw.mu.Unlock()
		return "", apperr.ErrBusy
	}
	sessionID := uuid.NewString()
	mw.pendingSession = true
	mw.worker.SessionID = sessionID
	mw.worker.LastActivity = time.Now()
	mw.mu.Unlock()

	if _, err := io.WriteString(mw.stdin, prompt+"\n"); err != nil {
		mw.mu.Lock()
		mw.pendingSession = false
		mw.mu.Unlock()
		return "", &apperr.SpawnFailed{Reason: "stdin write", Cause: err}
	}

	session := &models.WorkerSession{
		SessionID: sessionID,
		WorkerID:  workerID,
		StartedAt: time.Now(),
		Status:    models.SessionRunning,
	}
	if m.store != nil {
		if err := m.store.SaveSession(ctx, session); err != nil {
			m.logger.Warn("persist session failed", "session_id", sessionID, "error", err)
		}
	}
	m.bus.Publish(fmt.Sprintf("worker.session.%s", workerID), session)
	return sessionID, nil
}

// StopWorker sends a terminate signal and force-kills after the configured
// grace period.
func (m *Manager) StopWorker(ctx context.Context, workerID string) error {
	mw, err := m.lookup(workerID)
	if err != nil {
		return err
	}

	if mw.cmd.Process != nil {
		_ = mw.cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-mw.exited:
		return nil
	case <-time.After(m.stopGrace):
	}

	select {
	case <-mw.exited:
		return nil
	default:
		if mw.cmd.Process != nil {
			_ = mw.cmd.Process.Kill()
		}
	}
	<-mw.exited
	return nil
}

// SuspendWorker halts prompt delivery and labels the worker's status. hard
// additionally stops the underlying process.
func (m *Manager) SuspendWorker(ctx context.Context, workerID string, hard bool) error {
	mw, err := m.lookup(workerID)
	if err != nil {
		return err
	}
	if hard {
		return m.StopWorker(ctx, workerID)
	}
	mw.mu.Lock()
	mw.worker.SuspendedSoft = true
	mw.worker.Status = models.WorkerSuspended
	mw.mu.Unlock()
	m.bus.Publish(fmt.Sprintf("worker.status.%s", workerID), mw.snapshot())
	return nil
}

// ResumeWorker clears a soft suspension.
func (m *Manager) ResumeWorker(ctx context.Context, workerID string) error {
	mw, err := m.lookup(workerID)
	if err != nil {
		return err
	}
	mw.mu.Lock()
	if mw.worker.Terminal() {
		mw.mu.Unlock()
		return apperr.ErrWorkerNotRunning
	}
	mw.worker.SuspendedSoft = false
	mw.worker.Status = models.WorkerRunning
	mw.mu.Unlock()
	m.bus.Publish(fmt.Sprintf("worker.status.%s", workerID), mw.snapshot())
	return nil
}

// Statistics returns a snapshot of a worker's aggregated statistics.
func (m *Manager) Statistics(workerID string) (models.WorkerStatistics, error) {
	mw, err := m.lookup(workerID)
	if err != nil {
		return models.WorkerStatistics{}, err
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.stats, nil
}

// Worker returns a snapshot of the worker's current record.
func (m *Manager) Worker(workerID string) (*models.Worker, error) {
	mw, err := m.lookup(workerID)
	if err != nil {
		return nil, err
	}
	return mw.snapshot(), nil
}

func (m *Manager) lookup(workerID string) (*managedWorker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mw, ok := m.workers[workerID]
	if !ok {
		return nil, &apperr.NotFound{Kind: "worker", ID: workerID}
	}
	return mw, nil
}

func (mw *managedWorker) snapshot() *models.Worker {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	cp := *mw.worker
	return &cp
}

// ReconcileOnStartup marks any worker persisted as "running" but without a
// live process (i.e. every worker, since this is a fresh process) as
// crashed, and seals its last session as failed.
func (m *Manager) ReconcileOnStartup(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	stale, err := m.store.ListRunningWorkers(ctx)
	if err != nil {
		return &apperr.PersistenceError{Op: "list_running_workers", Cause: err}
	}
	for _, w := range stale {
		w.Status = models.WorkerCrashed
		if err := m.store.SaveWorker(ctx, w); err != nil {
			m.logger.Warn("reconcile: persist crashed worker failed", "worker_id", w.ID, "error", err)
			continue
		}
		if w.SessionID != "" {
			if err := m.store.SealSession(ctx, w.SessionID, models.SessionFailed, time.Now()); err != nil {
				m.logger.Warn("reconcile: seal session failed", "session_id", w.SessionID, "error", err)
			}
		}
		m.logger.Info("reconciled stale worker as crashed", "worker_id", w.ID)
	}
	return nil
}

func requireAPIKey(env map[string]string) error {
	for _, k := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY"} {
		if env[k] != "" {
			return nil
		}
		if os.Getenv(k) != "" {
			return nil
		}
	}
	return &apperr.EnvironmentMissing{Variable: "ANTHROPIC_API_KEY or OPENAI_API_KEY"}
}

func buildEnv(extra map[string]string, workerID, shimDir string) []string {
	env := os.Environ()
	if shimDir != "" {
		for i, e := range env {
			if len(e) > 5 && e[:5] == "PATH=" {
				env[i] = "PATH=" + shimDir + string(os.PathListSeparator) + e[5:]
				shimDir = ""
				break
			}
		}
		if shimDir != "" {
			env = append(env, "PATH="+shimDir)
		}
	}
	env = append(env, "CLAUDE_AGENT_ID="+workerID)
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
