package worker

import "context"

// Controller adapts Manager to internal/security.WorkerController, whose
// two-verb (suspend/terminate) shape doesn't match Manager's own
// hard-bool SuspendWorker signature.
type Controller struct {
	manager *Manager
}

// NewController wraps m for use as a security.WorkerController.
func NewController(m *Manager) *Controller {
	return &Controller{manager: m}
}

// SuspendWorker soft-suspends the worker, leaving the process alive so a
// human can inspect state before deciding to resume or terminate.
func (c *Controller) SuspendWorker(ctx context.Context, workerID, reason string) error {
	return c.manager.SuspendWorker(ctx, workerID, false)
}

// TerminateWorker stops the worker's process outright.
func (c *Controller) TerminateWorker(ctx context.Context, workerID, reason string) error {
	return c.manager.StopWorker(ctx, workerID)
}
