package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client is a thin HTTP client for the governance API used by wardenctl.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the given API base URL.
func NewClient(baseURL string) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("api base url is required")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// ActionRequest is the payload for the lifecycle endpoint.
type ActionRequest struct {
	Op         string         `json:"op"`
	ActionID   string         `json:"action_id"`
	ApprovalID string         `json:"approval_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	ChatID     *string        `json:"chat_id,omitempty"`
	UserID     *string        `json:"user_id,omitempty"`
}

// ListActions fetches the allowlist.
func (c *Client) ListActions(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/v1/actions")
}

// Action posts one lifecycle operation and returns the raw response.
func (c *Client) Action(ctx context.Context, req ActionRequest) (json.RawMessage, error) {
	return c.post(ctx, "/v1/actions", req)
}

// Job fetches one job by id.
func (c *Client) Job(ctx context.Context, jobID string) (json.RawMessage, error) {
	return c.get(ctx, "/v1/jobs/"+jobID)
}

// Audit fetches the merged audit timeline.
func (c *Client) Audit(ctx context.Context, chatID string, limit, offset int) (json.RawMessage, error) {
	path := "/v1/audit?limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)
	if chatID != "" {
		path += "&chat_id=" + chatID
	}
	return c.get(ctx, path)
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call api: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Reason != "" {
				return nil, fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Reason)
			}
			return nil, errors.New(apiErr.Error)
		}
		return nil, fmt.Errorf("api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return json.RawMessage(data), nil
}

// ParseParams converts repeated key=value flags into an action parameter map.
func ParseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("malformed parameter %q, expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}
