package governor

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandleActionPreview(t *testing.T) {
	api := newTestAPI(t, Config{})
	routes, err := api.Routes()
	require.NoError(t, err)

	rec := postJSON(t, routes, "/v1/actions", map[string]any{
		"op":        "preview",
		"action_id": "flush-dns-macos",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "low", body["risk_level"])
	preview, ok := body["preview"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, preview["commands"])
}

func TestHandleActionExecuteWithoutApproval(t *testing.T) {
	api := newTestAPI(t, Config{})
	routes, err := api.Routes()
	require.NoError(t, err)

	rec := postJSON(t, routes, "/v1/actions", map[string]any{
		"op":        "execute",
		"action_id": "flush-dns-macos",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Approval missing or expired", body["error"])
	assert.Equal(t, "missing", body["reason"])
}

func TestHandleActionUnknownOp(t *testing.T) {
	api := newTestAPI(t, Config{})
	routes, err := api.Routes()
	require.NoError(t, err)

	rec := postJSON(t, routes, "/v1/actions", map[string]any{
		"op":        "detonate",
		"action_id": "flush-dns-macos",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleActionUnknownActionIs404(t *testing.T) {
	api := newTestAPI(t, Config{})
	routes, err := api.Routes()
	require.NoError(t, err)

	rec := postJSON(t, routes, "/v1/actions", map[string]any{
		"op":        "preview",
		"action_id": "format-disk",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApproveThenExecuteOverHTTP(t *testing.T) {
	api := newTestAPI(t, Config{EmbeddedDryRun: true})
	routes, err := api.Routes()
	require.NoError(t, err)

	rec := postJSON(t, routes, "/v1/actions", map[string]any{
		"op":        "approve",
		"action_id": "clear-browser-cache",
		"chat_id":   "chat-7",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	approvalID, _ := decodeBody(t, rec)["approval_id"].(string)
	require.NotEmpty(t, approvalID)

	rec = postJSON(t, routes, "/v1/actions", map[string]any{
		"op":          "execute",
		"action_id":   "clear-browser-cache",
		"approval_id": approvalID,
		"chat_id":     "chat-7",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID, _ := decodeBody(t, rec)["job_id"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+jobID, nil)
		get := httptest.NewRecorder()
		routes.ServeHTTP(get, req)
		if get.Code != http.StatusOK {
			return false
		}
		return decodeBody(t, get)["status"] == JobCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestHandleJobReportRequiresToken(t *testing.T) {
	api := newTestAPI(t, Config{})
	routes, err := api.Routes()
	require.NoError(t, err)

	rec := postJSON(t, routes, "/v1/jobs/report", map[string]any{
		"job_id": "whatever",
		"status": JobCompleted,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleAuditEndpoint(t *testing.T) {
	api := newTestAPI(t, Config{})
	routes, err := api.Routes()
	require.NoError(t, err)

	rec := postJSON(t, routes, "/v1/consent", map[string]any{
		"kind":    "remote_access_granted",
		"chat_id": "chat-3",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/audit?chat_id=chat-3", nil)
	get := httptest.NewRecorder()
	routes.ServeHTTP(get, req)
	require.Equal(t, http.StatusOK, get.Code)

	body := decodeBody(t, get)
	assert.Equal(t, float64(50), body["limit"])
	assert.Equal(t, float64(0), body["offset"])
	events, ok := body["events"].([]any)
	require.True(t, ok)
	assert.Len(t, events, 1)
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, Config{})
	routes, err := api.Routes()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
