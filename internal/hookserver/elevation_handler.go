package hookserver

import (
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// elevationRequestBody is the payload the elevation shim posts to request
// approval of a privileged command.
type elevationRequestBody struct {
	WorkerID          string `json:"worker_id"`
	Command           string `json:"command"`
	ParentProcessHash string `json:"parent_process_hash"`
}

func (s *Server) handleElevationRequest(w http.ResponseWriter, r *http.Request) {
	if s.elevations == nil {
		respondError(w, http.StatusServiceUnavailable, "elevation channel not configured")
		return
	}
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxHookBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "body too large or unreadable")
		return
	}

	var req elevationRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.WorkerID == "" || req.Command == "" {
		respondError(w, http.StatusBadRequest, "worker_id and command are required")
		return
	}

	pending, err := s.elevations.Request(r.Context(), req.WorkerID, req.Command, req.ParentProcessHash)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.publisher != nil {
		s.publisher.Publish("elevated.request", pending)
	}
	respondJSON(w, http.StatusOK, pending)
}

func (s *Server) handleElevationStatus(w http.ResponseWriter, r *http.Request) {
	if s.elevations == nil {
		respondError(w, http.StatusServiceUnavailable, "elevation channel not configured")
		return
	}
	id := pathSuffix(r.URL.Path, "/elevated/status")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing elevation id")
		return
	}

	pending, err := s.elevations.Status(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, pending)
}

func (s *Server) handleCheckScope(w http.ResponseWriter, r *http.Request) {
	if s.elevations == nil {
		respondError(w, http.StatusServiceUnavailable, "elevation channel not configured")
		return
	}
	hash := pathSuffix(r.URL.Path, "/elevated/check-scope")
	if hash == "" {
		respondError(w, http.StatusBadRequest, "missing parent process hash")
		return
	}

	scope, ok, err := s.elevations.CheckScope(r.Context(), hash)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		respondJSON(w, http.StatusOK, map[string]any{"approved": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"approved": true, "scope": scope})
}

// elevationDecisionBody is the payload an operator's "elevate approve/deny"
// CLI call posts.
type elevationDecisionBody struct {
	GrantScopeTTL time.Duration `json:"grant_scope_ttl,omitempty"`
}

func (s *Server) handleElevationApprove(w http.ResponseWriter, r *http.Request) {
	if s.elevations == nil {
		respondError(w, http.StatusServiceUnavailable, "elevation channel not configured")
		return
	}
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := pathSuffix(r.URL.Path, "/elevated/approve")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing elevation id")
		return
	}

	var body elevationDecisionBody
	r.Body = http.MaxBytesReader(w, r.Body, maxHookBodyBytes)
	if raw, err := io.ReadAll(r.Body); err == nil && len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}

	if err := s.elevations.Approve(r.Context(), id, body.GrantScopeTTL); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "status": "approved"})
}

func (s *Server) handleElevationDeny(w http.ResponseWriter, r *http.Request) {
	if s.elevations == nil {
		respondError(w, http.StatusServiceUnavailable, "elevation channel not configured")
		return
	}
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := pathSuffix(r.URL.Path, "/elevated/deny")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing elevation id")
		return
	}

	if err := s.elevations.Deny(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "status": "denied"})
}
