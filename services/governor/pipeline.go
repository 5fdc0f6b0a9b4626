package governor

import (
	"net/http"
)

type autofixRequest struct {
	ActionID   string         `json:"action_id"`
	Parameters map[string]any `json:"parameters,omitempty"`
	ChatID     *string        `json:"chat_id,omitempty"`
	UserID     *string        `json:"user_id,omitempty"`
}

// handleAutofix runs the full preview -> approve -> execute pipeline in one
// call for trusted callers that have already collected consent out of band.
// Every stage still lands its own action-log row, so the audit trail reads
// identically to the step-by-step flow.
func (a *API) handleAutofix(w http.ResponseWriter, r *http.Request) {
	var req autofixRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()

	preview, risk, err := a.Preview(ctx, req.ActionID, req.Parameters, req.ChatID, req.UserID)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}

	approval, err := a.Approve(ctx, req.ActionID, req.Parameters, req.ChatID, req.UserID)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}

	job, err := a.Execute(ctx, req.ActionID, approval.ID.String(), req.Parameters, req.ChatID, req.UserID)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"action_id":   req.ActionID,
		"risk_level":  risk,
		"preview":     preview,
		"approval_id": approval.ID,
		"job":         job,
	})
}
