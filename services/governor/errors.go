package governor

import "errors"

// Error taxonomy for the governance engine. Validation and authorization
// failures map to 4xx responses. Agent and network failures never surface
// here; they become a failed job status instead.
var (
	ErrActionUnknown    = errors.New("unknown action id")
	ErrValidation       = errors.New("invalid request")
	ErrApprovalRequired = errors.New("approval required")
	ErrApprovalMismatch = errors.New("approval does not match requested action")
	ErrApprovalExpired  = errors.New("approval expired or already used")
	ErrAgentUnreachable = errors.New("execution agent unreachable")
)
