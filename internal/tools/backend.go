package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"goa.design/clue/log"
)

// Backend performs catalog tool calls against the resource-management
// service.
type Backend interface {
	Call(ctx context.Context, name string, args map[string]any) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, name string, args map[string]any) (string, error)

func (f BackendFunc) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	return f(ctx, name, args)
}

// HTTPBackend posts tool calls to <baseURL>/api/v1/tools.
type HTTPBackend struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// SetHTTPClient sets a custom HTTP client
func (b *HTTPBackend) SetHTTPClient(client *http.Client) {
	b.httpClient = client
}

type toolRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type toolResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

func (b *HTTPBackend) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	body, err := json.Marshal(toolRequest{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/v1/tools", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debug(ctx, log.KV{K: "msg", V: "calling tool backend"}, log.KV{K: "tool", V: name})
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var out toolResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("tool backend returned status %d: %s", resp.StatusCode, string(data))
		}
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error == "" {
			out.Error = fmt.Sprintf("tool backend returned status %d", resp.StatusCode)
		}
		return "", errors.New(out.Error)
	}
	return out.Response, nil
}
