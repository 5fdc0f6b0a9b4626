package governor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}

// statusForError maps taxonomy errors to HTTP statuses. Anything unmapped is
// an internal error.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrActionUnknown):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrApprovalRequired),
		errors.Is(err, ErrApprovalMismatch),
		errors.Is(err, ErrApprovalExpired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// approvalReason names the specific rejection so callers can decide whether
// to re-approve or abandon.
func approvalReason(err error) string {
	switch {
	case errors.Is(err, ErrApprovalRequired):
		return "missing"
	case errors.Is(err, ErrApprovalMismatch):
		return "mismatched"
	case errors.Is(err, ErrApprovalExpired):
		return "expired"
	default:
		return ""
	}
}
