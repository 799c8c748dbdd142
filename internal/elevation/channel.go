// Package elevation gives a worker's privilege-escalation shim a way to ask
// for human approval of a command and get back a simple pass/fail, with an
// optional scope-approval fast path so a human doesn't have to re-approve
// every invocation from the same trusted parent process.
//
// Grounded on internal/agent/approval.go's ApprovalChecker/ApprovalStore
// split (TTL-bound pending requests, an in-memory store satisfying a small
// Create/Get/Update interface, pattern-matching classification) adapted
// from "should this tool call run" to "should this shell command run
// elevated", plus pkg/models/elevation.go's PendingElevation/ScopeApproval
// types, which already encode the TTL and scope lifecycle this package
// drives.
package elevation

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ralphline/ralphline/internal/apperr"
	"github.com/ralphline/ralphline/pkg/models"
)

// DefaultTTL is how long a pending elevation waits for resolution before
// expiring (T_elev_ttl in the spec).
const DefaultTTL = 5 * time.Minute

// Store persists elevation records. Implemented by internal/persistence.Store.
type Store interface {
	SaveElevation(ctx context.Context, e *models.PendingElevation) error
}

// Publisher emits elevation lifecycle events onto the process-wide bus.
type Publisher interface {
	Publish(topic string, payload any)
}

var (
	highRiskPatterns = []*regexp.Regexp{
		regexp.MustCompile(`rm\s+-rf\s+/(\s|$)`),
		regexp.MustCompile(`rm\s+-rf\s+\$HOME`),
		regexp.MustCompile(`\bdd\s+if=`),
		regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
		regexp.MustCompile(`chmod\s+-R\s+777\s+/`),
		regexp.MustCompile(`>\s*/etc/`),
		regexp.MustCompile(`>\s*/usr/`),
		regexp.MustCompile(`>\s*/boot/`),
	}
	suspiciousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`curl[^|]*\|\s*(sh|bash)\b`),
		regexp.MustCompile(`wget[^|]*\|\s*(sh|bash)\b`),
		regexp.MustCompile(`\bbash\s+-c\b`),
		regexp.MustCompile(`base64\s+(-d|--decode)[^|]*\|\s*(sh|bash)\b`),
	}
)

// ClassifyRisk applies the taxonomy in §4.6: high, then suspicious, else
// normal. Matching is done against the normalised (whitespace-collapsed)
// command so multi-line or oddly-spaced shell snippets still match.
func ClassifyRisk(command string) models.RiskLevel {
	normalized := strings.Join(strings.Fields(command), " ")

	for _, p := range highRiskPatterns {
		if p.MatchString(normalized) {
			return models.RiskHigh
		}
	}
	for _, p := range suspiciousPatterns {
		if p.MatchString(normalized) {
			return models.RiskSuspicious
		}
	}
	return models.RiskNormal
}

// Channel drives the PendingElevation lifecycle: request, poll, approve,
// deny, expire, and scope-approval short-circuiting.
type Channel struct {
	mu        sync.Mutex
	pending   map[string]*models.PendingElevation
	scopes    map[string]*models.ScopeApproval
	store     Store
	publisher Publisher
	logger    *slog.Logger
	ttl       time.Duration
}

// New constructs a Channel. store and publisher may be nil for tests.
func New(store Store, publisher Publisher, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		pending:   make(map[string]*models.PendingElevation),
		scopes:    make(map[string]*models.ScopeApproval),
		store:     store,
		publisher: publisher,
		logger:    logger.With("component", "elevation"),
		ttl:       DefaultTTL,
	}
}

// Request records a new elevation request from a worker's shim, classifying
// its risk and persisting it in pending state.
func (c *Channel) Request(ctx context.Context, workerID, command, parentProcessHash string) (*models.PendingElevation, error) {
	now := time.Now()
	pe := &models.PendingElevation{
		ID:                uuid.NewString(),
		WorkerID:          workerID,
		Command:           command,
		ParentProcessHash: parentProcessHash,
		RiskLevel:         ClassifyRisk(command),
		RequestedAt:       now,
		ExpiresAt:         now.Add(c.ttl),
		Status:            models.ElevationPending,
	}

	c.mu.Lock()
	c.pending[pe.ID] = pe
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveElevation(ctx, pe); err != nil {
			c.logger.Warn("save elevation failed", "id", pe.ID, "error", err)
		}
	}
	if c.publisher != nil {
		c.publisher.Publish("elevated.request", pe)
	}
	return pe, nil
}

// Status returns the current state of a pending elevation, applying TTL
// expiry lazily on read.
func (c *Channel) Status(ctx context.Context, id string) (*models.PendingElevation, error) {
	c.mu.Lock()
	pe, ok := c.pending[id]
	if ok && pe.Expired(time.Now()) {
		pe.Status = models.ElevationExpired
	}
	c.mu.Unlock()

	if !ok {
		return nil, &apperr.NotFound{Kind: "elevation", ID: id}
	}
	return pe, nil
}

// CheckScope reports whether a still-valid scope approval covers the given
// parent process hash, letting the shim skip prompting entirely.
func (c *Channel) CheckScope(ctx context.Context, parentProcessHash string) (*models.ScopeApproval, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	scope, ok := c.scopes[parentProcessHash]
	if !ok || !scope.Valid(time.Now()) {
		delete(c.scopes, parentProcessHash)
		return nil, false, nil
	}
	return scope, true, nil
}

// Approve resolves a pending elevation as approved, optionally granting a
// scope approval covering future requests from the same parent process for
// ttl.
func (c *Channel) Approve(ctx context.Context, id string, grantScopeTTL time.Duration) error {
	c.mu.Lock()
	pe, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return &apperr.NotFound{Kind: "elevation", ID: id}
	}
	now := time.Now()
	pe.Status = models.ElevationApproved
	pe.ResolvedAt = now

	if grantScopeTTL > 0 && pe.ParentProcessHash != "" {
		c.scopes[pe.ParentProcessHash] = &models.ScopeApproval{
			ParentProcessHash: pe.ParentProcessHash,
			ApprovedAt:        now,
			ExpiresAt:         now.Add(grantScopeTTL),
		}
	}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveElevation(ctx, pe); err != nil {
			return err
		}
	}
	if c.publisher != nil {
		c.publisher.Publish("elevated.resolved", pe)
	}
	return nil
}

// Deny resolves a pending elevation as denied.
func (c *Channel) Deny(ctx context.Context, id string) error {
	c.mu.Lock()
	pe, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return &apperr.NotFound{Kind: "elevation", ID: id}
	}
	pe.Status = models.ElevationDenied
	pe.ResolvedAt = time.Now()
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveElevation(ctx, pe); err != nil {
			return err
		}
	}
	if c.publisher != nil {
		c.publisher.Publish("elevated.resolved", pe)
	}
	return nil
}

// ExpirePastDeadline scans pending requests and marks any past their TTL as
// expired, returning how many were swept. Intended to be called on a timer
// by the owning process.
func (c *Channel) ExpirePastDeadline(ctx context.Context) int {
	now := time.Now()
	var expired []*models.PendingElevation

	c.mu.Lock()
	for _, pe := range c.pending {
		if pe.Expired(now) {
			pe.Status = models.ElevationExpired
			expired = append(expired, pe)
		}
	}
	c.mu.Unlock()

	for _, pe := range expired {
		if c.store != nil {
			if err := c.store.SaveElevation(ctx, pe); err != nil {
				c.logger.Warn("save expired elevation failed", "id", pe.ID, "error", err)
			}
		}
		if c.publisher != nil {
			c.publisher.Publish("elevated.resolved", pe)
		}
	}
	return len(expired)
}
