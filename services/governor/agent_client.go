package governor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"warden/pkg/signer"
)

// SignatureHeader carries the base64 Ed25519 signature over the descriptor
// body so agents can verify it offline before running anything.
const SignatureHeader = "X-Warden-Signature"

// agentClient forwards job descriptors to the remote execution agent. The
// agent is untrusted and possibly offline; every failure to reach it is an
// ErrAgentUnreachable, never a hang.
type agentClient struct {
	baseURL string
	client  *http.Client
	signer  *signer.Signer
}

func newAgentClient(baseURL string, sign *signer.Signer) *agentClient {
	return &agentClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		signer:  sign,
	}
}

func (c *agentClient) Name() string { return executorRemote }

func (c *agentClient) Run(ctx context.Context, token string, desc JobDescriptor) (JobResult, error) {
	body, err := json.Marshal(desc)
	if err != nil {
		return JobResult{}, fmt.Errorf("marshal descriptor: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return JobResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.signer != nil {
		sig, err := c.signer.Sign(body)
		if err != nil {
			return JobResult{}, fmt.Errorf("sign descriptor: %w", err)
		}
		req.Header.Set(SignatureHeader, sig)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return JobResult{}, fmt.Errorf("%w: %v", ErrAgentUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return JobResult{}, fmt.Errorf("%w: agent returned %d: %s", ErrAgentUnreachable, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return JobResult{}, fmt.Errorf("drain response body: %w", err)
	}

	return JobResult{Status: resultAccepted}, nil
}
