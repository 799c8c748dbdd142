// Package hookserver is the loopback-only HTTP ingestion point workers post
// PreToolUse/PostToolUse notifications and elevation requests to. It pairs
// pre/post tool events, runs the synchronous half of security
// classification, and forwards everything onto the process-wide event bus
// and persistence layer without ever blocking on either.
//
// Grounded on the teacher's internal/gateway/http_server.go for the
// net.Listen + http.Server + mux + graceful-shutdown shape, and
// internal/gateway/webhook_hooks.go for the handler-dispatch/stats/
// respondJSON-respondError texture — adapted from webhook-to-channel
// delivery into worker-to-bus tool-event delivery.
package hookserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ralphline/ralphline/pkg/models"
)

// DefaultPort is the fixed loopback port workers are configured to submit
// hooks to.
const DefaultPort = 19832

// DefaultPairMax bounds how long a PreToolUse entry waits for its matching
// PostToolUse before being garbage-collected and reported pairing-lost.
const DefaultPairMax = 10 * time.Minute

// DefaultSecuritySyncTimeout bounds how long the /hook handler will wait on
// a synchronous security decision before falling back to the preset's safe
// side.
const DefaultSecuritySyncTimeout = 2 * time.Second

// queueDepth is the size of the bounded channel standing between the HTTP
// handler and the downstream persistence/bus fan-out, so a burst of hook
// traffic never stalls the handler goroutine.
const queueDepth = 2048

// Publisher delivers tool events and elevation notifications onto the
// process-wide bus. Implemented by internal/eventbus.Bus.
type Publisher interface {
	Publish(topic string, payload any)
}

// ToolCallStore persists paired (or pairing-lost) tool calls.
type ToolCallStore interface {
	SaveToolCall(ctx context.Context, e *models.HookToolEvent) error
}

// SecurityChecker is consulted synchronously at PreToolUse time for calls
// that cross the signature/expectation thresholds. Implemented by
// internal/security.Monitor.
type SecurityChecker interface {
	CheckPreToolUse(ctx context.Context, call *models.HookToolEvent) (models.RecommendedAction, error)
}

// ElevationChannel backs the /elevated/* routes. Implemented by
// internal/elevation.Channel.
type ElevationChannel interface {
	Request(ctx context.Context, workerID, command, parentProcessHash string) (*models.PendingElevation, error)
	Status(ctx context.Context, id string) (*models.PendingElevation, error)
	CheckScope(ctx context.Context, parentProcessHash string) (*models.ScopeApproval, bool, error)
	Approve(ctx context.Context, id string, grantScopeTTL time.Duration) error
	Deny(ctx context.Context, id string) error
}

// Config controls server construction.
type Config struct {
	Host string
	Port int
}

func (c Config) addr() string {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// Server is the hook ingestion HTTP endpoint.
type Server struct {
	cfg        Config
	publisher  Publisher
	store      ToolCallStore
	security   SecurityChecker
	elevations ElevationChannel
	logger     *slog.Logger

	pending *pendingMap

	httpServer *http.Server
	listener   net.Listener

	persistCh chan *models.HookToolEvent
	stopGC    chan struct{}

	received atomic.Int64
	dropped  atomic.Int64
	paired   atomic.Int64
	lost     atomic.Int64
}

// New constructs a Server. Any of security/elevations may be nil, in which
// case the corresponding checks/routes are skipped (security defaults to
// allow, elevation routes respond 503).
func New(cfg Config, publisher Publisher, store ToolCallStore, security SecurityChecker, elevations ElevationChannel, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		publisher:  publisher,
		store:      store,
		security:   security,
		elevations: elevations,
		logger:     logger.With("component", "hookserver"),
		pending:    newPendingMap(DefaultPairMax),
		persistCh:  make(chan *models.HookToolEvent, queueDepth),
		stopGC:     make(chan struct{}),
	}
}

// Start binds the loopback listener and begins serving. Non-blocking: the
// HTTP server and the persistence drain loop both run on background
// goroutines.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("hook server listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/hook", s.handleHook)
	mux.HandleFunc("/elevated/request", s.handleElevationRequest)
	mux.HandleFunc("/elevated/status/", s.handleElevationStatus)
	mux.HandleFunc("/elevated/check-scope/", s.handleCheckScope)
	mux.HandleFunc("/elevated/approve/", s.handleElevationApprove)
	mux.HandleFunc("/elevated/deny/", s.handleElevationDeny)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.listener = listener

	go s.drainPersistence()
	go s.runGC()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("hook server error", "error", err)
		}
	}()

	s.logger.Info("hook ingestion server listening", "addr", addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	close(s.stopGC)
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("hook server shutdown: %w", err)
	}
	close(s.persistCh)
	return nil
}

func (s *Server) drainPersistence() {
	for e := range s.persistCh {
		if s.store == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.store.SaveToolCall(ctx, e); err != nil {
			s.logger.Warn("save tool call failed", "tool_call_id", e.ToolCallID, "error", err)
		}
		cancel()
	}
}

func (s *Server) runGC() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			for _, lost := range s.pending.collectExpired() {
				s.lost.Add(1)
				s.publishLost(lost)
			}
		}
	}
}

func (s *Server) enqueuePersist(e *models.HookToolEvent) {
	select {
	case s.persistCh <- e:
	default:
		s.dropped.Add(1)
		s.logger.Warn("hook persistence queue full, dropping write", "tool_call_id", e.ToolCallID)
	}
}

func (s *Server) publishLost(entry *pendingEntry) {
	e := &models.HookToolEvent{
		ToolCallID:   entry.toolCallID,
		WorkerID:     entry.workerID,
		SessionID:    entry.sessionID,
		ToolName:     entry.toolName,
		Input:        entry.input,
		Status:       models.HookToolEventFailed,
		PreTimestamp: entry.startTime,
		PairingLost:  true,
	}
	if s.publisher != nil {
		s.publisher.Publish("hook.tool_event", e)
	}
	s.enqueuePersist(e)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"received": s.received.Load(),
		"paired":   s.paired.Load(),
		"lost":     s.lost.Load(),
		"dropped":  s.dropped.Load(),
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"ok": false, "error": message})
}

// pathSuffix returns the trailing path segment after the given prefix,
// analogous to the teacher's findMapping trimming in webhook_hooks.go.
func pathSuffix(path, prefix string) string {
	return strings.TrimPrefix(strings.TrimPrefix(path, prefix), "/")
}
