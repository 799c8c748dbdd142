package models

import "time"

// RiskLevel classifies a requested privileged command.
type RiskLevel string

const (
	RiskNormal     RiskLevel = "normal"
	RiskSuspicious RiskLevel = "suspicious"
	RiskHigh       RiskLevel = "high"
)

// ElevationStatus is the lifecycle of a pending elevation request.
type ElevationStatus string

const (
	ElevationPending  ElevationStatus = "pending"
	ElevationApproved ElevationStatus = "approved"
	ElevationDenied   ElevationStatus = "denied"
	ElevationExpired  ElevationStatus = "expired"
	ElevationExecuted ElevationStatus = "executed"
)

// PendingElevation is a privilege-escalation request raised by a worker's
// elevation shim and resolved by a human through the UI.
type PendingElevation struct {
	ID                string          `json:"id"`
	WorkerID          string          `json:"worker_id"`
	Command           string          `json:"command"`
	ParentProcessHash string          `json:"parent_process_hash"`
	RiskLevel         RiskLevel       `json:"risk_level"`
	RequestedAt       time.Time       `json:"requested_at"`
	ExpiresAt         time.Time       `json:"expires_at"`
	Status            ElevationStatus `json:"status"`
	ResolvedAt        time.Time       `json:"resolved_at,omitempty"`
	Payload           string          `json:"payload,omitempty"`
}

// Expired reports whether the request has crossed its TTL without resolution.
func (e *PendingElevation) Expired(now time.Time) bool {
	return e.Status == ElevationPending && now.After(e.ExpiresAt)
}

// ScopeApproval is a human decision to approve all elevations from one
// parent process for a bounded TTL.
type ScopeApproval struct {
	ParentProcessHash string    `json:"parent_process_hash"`
	ApprovedAt        time.Time `json:"approved_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// Valid reports whether the scope approval still covers new requests.
func (s *ScopeApproval) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}
