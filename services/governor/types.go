package governor

import (
	"time"

	"github.com/google/uuid"
)

// Approval is a time-boxed, single-use authorization to run one allowlisted
// action. Execution must reference it by id before it expires.
type Approval struct {
	ID          uuid.UUID `json:"approval_id"`
	ActionID    string    `json:"action_id"`
	ChatID      *string   `json:"chat_id,omitempty"`
	ActionLogID uuid.UUID `json:"action_log_id"`
	HelperToken string    `json:"helper_token"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ExecutionJob tracks one execution or rollback attempt.
type ExecutionJob struct {
	ID            uuid.UUID  `json:"job_id"`
	ActionID      string     `json:"action_id"`
	ActionLogID   uuid.UUID  `json:"action_log_id"`
	ApprovalID    *uuid.UUID `json:"approval_id,omitempty"`
	Kind          string     `json:"kind"`
	Status        string     `json:"status"`
	ExecutionHost string     `json:"execution_host,omitempty"`
	BackupID      *uuid.UUID `json:"backup_id,omitempty"`
	Logs          []string   `json:"logs"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// ActionPreview is the human-readable dry-run for an allowlisted action with
// caller parameters applied. It is never persisted on its own; the proposed
// action-log entry references it in its payload.
type ActionPreview struct {
	Description   string   `json:"description"`
	Commands      []string `json:"commands"`
	Risks         []string `json:"risks"`
	Reversible    bool     `json:"reversible"`
	EstimatedTime string   `json:"estimated_time"`
	Requirements  []string `json:"requirements"`
	PreviewDiff   string   `json:"preview_diff,omitempty"`
}

// RollbackResult reports the outcome of a rollback request. A missing rollback
// point is a soft non-error: the request is accepted but nothing is restored.
type RollbackResult struct {
	Status      string        `json:"status"`
	Restored    bool          `json:"restored"`
	Job         *ExecutionJob `json:"job,omitempty"`
	ActionLogID uuid.UUID     `json:"action_log_id"`
	RollbackOf  *uuid.UUID    `json:"rollback_of,omitempty"`
}

// AuditEvent is one row of the merged consent/action/diagnostics timeline.
type AuditEvent struct {
	Source    string         `json:"source"`
	ID        uuid.UUID      `json:"id"`
	ChatID    *string        `json:"chat_id,omitempty"`
	UserID    *string        `json:"user_id,omitempty"`
	Kind      string         `json:"kind"`
	Summary   string         `json:"summary,omitempty"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Audit event sources, also the tie-break order for equal timestamps.
const (
	SourceAction      = "action"
	SourceConsent     = "consent"
	SourceDiagnostics = "diagnostics"
)

// Action lifecycle statuses recorded in the action log.
const (
	StatusProposed  = "proposed"
	StatusApproved  = "approved"
	StatusExecuted  = "executed"
	StatusCancelled = "cancelled"
)

// Job statuses.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Action outcomes recorded on terminal action-log rows.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeAborted = "aborted"
)

// Job kinds.
const (
	JobKindExecute  = "execute"
	JobKindRollback = "rollback"
)
