package governor

import (
	"net/http"
)

type consentRequest struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
	ChatID  *string        `json:"chat_id,omitempty"`
	UserID  *string        `json:"user_id,omitempty"`
}

func (a *API) handleConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	event, err := a.RecordConsent(r.Context(), req.Kind, req.Payload, req.ChatID, req.UserID)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, http.StatusCreated, event)
}

type diagnosticsRequest struct {
	Payload map[string]any `json:"payload"`
	ChatID  *string        `json:"chat_id,omitempty"`
	UserID  *string        `json:"user_id,omitempty"`
}

func (a *API) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	var req diagnosticsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	event, err := a.RecordDiagnostics(r.Context(), req.Payload, req.ChatID, req.UserID)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, http.StatusCreated, event)
}
