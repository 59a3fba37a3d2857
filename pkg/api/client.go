package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is the API client for the deployer server
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Error is returned for non-2xx responses. Messages holds any assistant
// output the server produced before failing.
type Error struct {
	StatusCode int
	Message    string
	Messages   []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

func (c *Client) NewThread(ctx context.Context) (string, error) {
	var out ThreadResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/threads", nil, &out); err != nil {
		return "", err
	}
	return out.ThreadID, nil
}

func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/threads/"+threadID, nil, nil)
}

func (c *Client) Threads(ctx context.Context) ([]string, error) {
	var out ThreadsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/threads", nil, &out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

func (c *Client) History(ctx context.Context, threadID string) ([]ChatMessage, error) {
	var out HistoryResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/threads/"+threadID+"/history", nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SendMessage posts a user message and returns the assistant output.
func (c *Client) SendMessage(ctx context.Context, request SendMessageRequest) (*Reply, error) {
	var out Reply
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages", request, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Confirm answers the oldest pending action.
func (c *Client) Confirm(ctx context.Context, request ConfirmRequest) (*Reply, error) {
	var out Reply
	if err := c.do(ctx, http.MethodPost, "/api/v1/confirm", request, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Tools(ctx context.Context) ([]ToolSchema, error) {
	var out ToolsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/tools", nil, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// GetHealth checks the health of the service
func (c *Client) GetHealth(ctx context.Context) (*HealthStatus, error) {
	var health HealthStatus
	if err := c.do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return nil, fmt.Errorf("service unhealthy: %w", err)
	}
	return &health, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Messages = errResp.Messages
		}
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// SetTimeout sets the HTTP client timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// SetHTTPClient sets a custom HTTP client
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
