package governor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/pkg/signer"
)

func TestAgentClientSignsAndPosts(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	sign, err := signer.New(identity.String(), "")
	require.NoError(t, err)
	verify, err := signer.New("", sign.PublicKey())
	require.NoError(t, err)

	var gotDesc JobDescriptor
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/jobs", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, verify.Verify(body, r.Header.Get(SignatureHeader)))
		require.NoError(t, json.Unmarshal(body, &gotDesc))

		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := newAgentClient(srv.URL, sign)
	desc := JobDescriptor{
		JobID:    uuid.New(),
		ActionID: "flush-dns-macos",
		Commands: []string{"sudo dscacheutil -flushcache"},
	}

	result, err := client.Run(context.Background(), "token-123", desc)
	require.NoError(t, err)
	assert.Equal(t, resultAccepted, result.Status)
	assert.Equal(t, desc.JobID, gotDesc.JobID)
	assert.Equal(t, desc.Commands, gotDesc.Commands)
}

func TestAgentClientUnreachable(t *testing.T) {
	client := newAgentClient("http://127.0.0.1:1", nil)

	_, err := client.Run(context.Background(), "", JobDescriptor{JobID: uuid.New()})
	require.ErrorIs(t, err, ErrAgentUnreachable)
}

func TestAgentClientRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "signature verification failed", http.StatusForbidden)
	}))
	defer srv.Close()

	client := newAgentClient(srv.URL, nil)
	_, err := client.Run(context.Background(), "", JobDescriptor{JobID: uuid.New()})
	require.ErrorIs(t, err, ErrAgentUnreachable)
	assert.Contains(t, err.Error(), "403")
}
