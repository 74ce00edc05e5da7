package schemas

import (
	"time"
)

// -- Run Input Schemas --

// Identity is the account the engine authenticates as. The secret is held in
// memory for the lifetime of the run only; it is excluded from every
// serialization path and must never appear in logs or persisted artifacts.
type Identity struct {
	Principal string `json:"principal" mapstructure:"principal"`
	Secret    string `json:"-" mapstructure:"secret"`
}

// Target is a single delivery destination. Immutable once loaded.
type Target struct {
	ID          string `json:"id"`
	Destination string `json:"destination"`
}

// -- Run Output Schemas --

// ErrorCode is a string type used for structured failure reporting from the
// delivery and login controllers. Using a custom type ensures only predefined
// constants reach the result sink.
type ErrorCode string

const (
	ErrCodeTransientNavigation ErrorCode = "TRANSIENT_NAVIGATION"
	ErrCodeStructuralNotFound  ErrorCode = "STRUCTURAL_NOT_FOUND"
	ErrCodeAuthentication      ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeChallengeUnresolved ErrorCode = "CHALLENGE_UNRESOLVED"
	ErrCodeConfirmationMissing ErrorCode = "CONFIRMATION_MISSING"
	ErrCodeCancelled           ErrorCode = "RUN_CANCELLED"
	ErrCodeInternal            ErrorCode = "INTERNAL_FAILURE"
)

// DeliveryError is the wire representation of a classified delivery failure.
type DeliveryError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DeliveryDiagnostics carries the per-step observations made while working a
// target. These are recorded on success and failure alike so a failed run can
// be triaged from its results file alone.
type DeliveryDiagnostics struct {
	NavAttempts       int  `json:"nav_attempts"`
	AffordanceFound   bool `json:"affordance_found"`
	ComposerFound     bool `json:"composer_found"`
	MessageDispatched bool `json:"message_dispatched"`
	Confirmed         bool `json:"confirmed"`
	ChallengeSeen     bool `json:"challenge_seen,omitempty"`
}

// DeliveryResult is produced exactly once per target per run, success or
// failure, and is immutable once produced.
type DeliveryResult struct {
	ID          string              `json:"id"`
	RunID       string              `json:"run_id"`
	TargetID    string              `json:"target_id"`
	Destination string              `json:"destination"`
	Succeeded   bool                `json:"succeeded"`
	DurationMs  int64               `json:"duration_ms"`
	Error       *DeliveryError      `json:"error,omitempty"`
	Diagnostics DeliveryDiagnostics `json:"diagnostics"`
	Timestamp   time.Time           `json:"timestamp"`
}

// -- Challenge Schemas --

// ChallengeMethod identifies which resolution strategy cleared a challenge.
type ChallengeMethod string

const (
	ChallengeMethodNone      ChallengeMethod = "none"
	ChallengeMethodAudio     ChallengeMethod = "audio"
	ChallengeMethodDelegated ChallengeMethod = "delegated"
	ChallengeMethodManual    ChallengeMethod = "manual"
)

// ChallengeOutcome is the transient verdict of a resolution attempt. It is
// consumed immediately by the caller and never persisted.
type ChallengeOutcome struct {
	Cleared bool
	Method  ChallengeMethod
}

// -- Run Summary Schemas --

// LoginOutcome reports how the session was established.
type LoginOutcome struct {
	Authenticated bool `json:"authenticated"`
	ReusedSession bool `json:"reused_session"`
}

// RunSummary is the aggregate view of a completed (or aborted) run.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	Principal  string        `json:"principal"`
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Reused     bool          `json:"reused_session"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}
