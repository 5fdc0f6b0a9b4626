package governor

import (
	"net/http"
	"strconv"
)

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	chatID := query.Get("chat_id")
	if chatID == "" {
		chatID = query.Get("chatId")
	}

	filter := AuditFilter{
		ChatID: chatID,
		Limit:  intQueryParam(query.Get("limit")),
		Offset: intQueryParam(query.Get("offset")),
	}.normalized()

	events, err := a.Timeline(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func intQueryParam(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
