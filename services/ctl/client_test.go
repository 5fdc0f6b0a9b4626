package ctl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientActionPostsLifecycleRequest(t *testing.T) {
	var got ActionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/actions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"risk_level":"low"}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	out, err := client.Action(context.Background(), ActionRequest{
		Op:       "preview",
		ActionID: "flush-dns-macos",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"risk_level":"low"}`, string(out))
	assert.Equal(t, "preview", got.Op)
	assert.Equal(t, "flush-dns-macos", got.ActionID)
}

func TestClientSurfacesAPIErrorWithReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Approval missing or expired","reason":"expired"}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = client.Action(context.Background(), ActionRequest{Op: "execute", ActionID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Approval missing or expired")
	assert.Contains(t, err.Error(), "expired")
}

func TestClientAuditQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audit", r.URL.Path)
		assert.Equal(t, "chat-1", r.URL.Query().Get("chat_id"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "5", r.URL.Query().Get("offset"))
		_, _ = w.Write([]byte(`{"events":[],"limit":10,"offset":5}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = client.Audit(context.Background(), "chat-1", 10, 5)
	require.NoError(t, err)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)
}

func TestParseParams(t *testing.T) {
	params, err := ParseParams([]string{"interface=en1", "paths=C:\\Temp\\*"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"interface": "en1", "paths": "C:\\Temp\\*"}, params)

	_, err = ParseParams([]string{"no-equals"})
	require.Error(t, err)

	empty, err := ParseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}
