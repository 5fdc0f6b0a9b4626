package governor

import (
	"errors"
	"net/http"
)

type actionRequest struct {
	Op         string         `json:"op"`
	ActionID   string         `json:"action_id"`
	ApprovalID string         `json:"approval_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	ChatID     *string        `json:"chat_id,omitempty"`
	UserID     *string        `json:"user_id,omitempty"`
}

// handleListActions exposes the static allowlist so clients can present the
// menu of permitted actions.
func (a *API) handleListActions(w http.ResponseWriter, _ *http.Request) {
	actions := a.catalog.Actions()
	out := make([]map[string]any, 0, len(actions))
	for _, action := range actions {
		out = append(out, map[string]any{
			"id":             action.ID,
			"os":             action.OS,
			"category":       action.Category,
			"title":          action.Title,
			"description":    action.Description,
			"reversible":     action.Reversible,
			"estimated_time": action.EstimatedTime,
			"risk_level":     RiskLevel(action),
			"parameters":     action.Parameters,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"actions": out})
}

// handleAction is the single lifecycle endpoint: the op field selects
// preview, approve, execute, or rollback.
func (a *API) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.ActionID == "" {
		respondError(w, http.StatusBadRequest, errors.New("action_id is required"))
		return
	}

	ctx := r.Context()

	switch req.Op {
	case "preview":
		preview, risk, err := a.Preview(ctx, req.ActionID, req.Parameters, req.ChatID, req.UserID)
		if err != nil {
			respondError(w, statusForError(err), err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"action_id":  req.ActionID,
			"risk_level": risk,
			"preview":    preview,
			"approvable": true,
		})

	case "approve":
		approval, err := a.Approve(ctx, req.ActionID, req.Parameters, req.ChatID, req.UserID)
		if err != nil {
			respondError(w, statusForError(err), err)
			return
		}
		respondJSON(w, http.StatusCreated, struct {
			Approval
			Status string `json:"status"`
		}{approval, StatusApproved})

	case "execute":
		job, err := a.Execute(ctx, req.ActionID, req.ApprovalID, req.Parameters, req.ChatID, req.UserID)
		if err != nil {
			if reason := approvalReason(err); reason != "" {
				respondJSON(w, http.StatusBadRequest, map[string]any{
					"error":  "Approval missing or expired",
					"reason": reason,
				})
				return
			}
			respondError(w, statusForError(err), err)
			return
		}
		respondJSON(w, http.StatusAccepted, job)

	case "rollback":
		result, err := a.Rollback(ctx, req.ActionID, req.ApprovalID, req.ChatID, req.UserID)
		if err != nil {
			respondError(w, statusForError(err), err)
			return
		}
		respondJSON(w, http.StatusAccepted, result)

	default:
		respondError(w, http.StatusBadRequest, errors.New("op must be one of preview, approve, execute, rollback"))
	}
}
