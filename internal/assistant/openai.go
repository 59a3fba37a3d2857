package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"goa.design/clue/log"
)

const defaultAPIBase = "https://api.openai.com/v1"

// OpenAIClient talks to the OpenAI Assistants v2 API. Runs are always
// started in streaming mode.
type OpenAIClient struct {
	apiKey     string
	apiBase    string
	httpClient *http.Client
}

var _ Client = (*OpenAIClient)(nil)

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:  apiKey,
		apiBase: defaultAPIBase,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// SetAPIBase allows overriding the API base URL (for testing or using proxies)
func (c *OpenAIClient) SetAPIBase(apiBase string) {
	if apiBase != "" {
		c.apiBase = apiBase
	}
}

// SetHTTPClient allows setting a custom HTTP client
func (c *OpenAIClient) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *OpenAIClient) CreateThread(ctx context.Context) (string, error) {
	var thread struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/threads", struct{}{}, &thread); err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}
	log.Print(ctx, log.KV{K: "msg", V: "thread created"}, log.KV{K: "thread", V: thread.ID})
	return thread.ID, nil
}

func (c *OpenAIClient) DeleteThread(ctx context.Context, threadID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/threads/"+threadID, nil, nil); err != nil {
		return fmt.Errorf("failed to delete thread %s: %w", threadID, err)
	}
	return nil
}

func (c *OpenAIClient) PostMessage(ctx context.Context, threadID, role, content string) error {
	body := map[string]string{"role": role, "content": content}
	if err := c.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/messages", body, nil); err != nil {
		return fmt.Errorf("failed to post message to thread %s: %w", threadID, err)
	}
	return nil
}

func (c *OpenAIClient) StartRun(ctx context.Context, threadID, assistantID string) (Stream, error) {
	body := map[string]any{"assistant_id": assistantID, "stream": true}
	s, err := c.stream(ctx, "/threads/"+threadID+"/runs", body)
	if err != nil {
		return nil, fmt.Errorf("failed to start run on thread %s: %w", threadID, err)
	}
	return s, nil
}

func (c *OpenAIClient) SubmitToolOutputs(ctx context.Context, run RunContext, outputs []ToolOutput) (Stream, error) {
	if outputs == nil {
		outputs = []ToolOutput{}
	}
	body := map[string]any{"tool_outputs": outputs, "stream": true}
	path := fmt.Sprintf("/threads/%s/runs/%s/submit_tool_outputs", run.ThreadID, run.RunID)
	s, err := c.stream(ctx, path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to submit tool outputs for run %s: %w", run.RunID, err)
	}
	return s, nil
}

func (c *OpenAIClient) RetrieveRunStatus(ctx context.Context, run RunContext) (RunStatus, error) {
	var r runObject
	path := fmt.Sprintf("/threads/%s/runs/%s", run.ThreadID, run.RunID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &r); err != nil {
		return "", fmt.Errorf("failed to retrieve run %s: %w", run.RunID, err)
	}
	return RunStatus(r.Status), nil
}

func (c *OpenAIClient) CancelRun(ctx context.Context, run RunContext) error {
	path := fmt.Sprintf("/threads/%s/runs/%s/cancel", run.ThreadID, run.RunID)
	if err := c.doJSON(ctx, http.MethodPost, path, struct{}{}, nil); err != nil {
		return fmt.Errorf("failed to cancel run %s: %w", run.RunID, err)
	}
	return nil
}

// AssistantSpec holds what is needed to create an assistant.
type AssistantSpec struct {
	Name         string
	Instructions string
	Model        string
	Tools        []FunctionTool
}

// EnsureAssistant returns id when the assistant exists. When id is empty a new
// assistant is created from spec and its id returned.
func (c *OpenAIClient) EnsureAssistant(ctx context.Context, id string, spec AssistantSpec) (string, error) {
	if id != "" {
		var existing struct {
			ID string `json:"id"`
		}
		if err := c.doJSON(ctx, http.MethodGet, "/assistants/"+id, nil, &existing); err != nil {
			return "", fmt.Errorf("failed to retrieve assistant %s: %w", id, err)
		}
		return existing.ID, nil
	}

	type function struct {
		Type     string       `json:"type"`
		Function FunctionTool `json:"function"`
	}
	tools := make([]function, 0, len(spec.Tools))
	for _, t := range spec.Tools {
		tools = append(tools, function{Type: "function", Function: t})
	}
	body := map[string]any{
		"name":         spec.Name,
		"instructions": spec.Instructions,
		"model":        spec.Model,
		"tools":        tools,
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/assistants", body, &created); err != nil {
		return "", fmt.Errorf("failed to create assistant: %w", err)
	}
	log.Print(ctx, log.KV{K: "msg", V: "assistant created"}, log.KV{K: "assistant", V: created.ID}, log.KV{K: "tools", V: len(tools)})
	return created.ID, nil
}

func (c *OpenAIClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	return req, nil
}

func (c *OpenAIClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (c *OpenAIClient) stream(ctx context.Context, path string, body any) (Stream, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, apiError(resp.StatusCode, data)
	}
	return newEventStream(resp.Body), nil
}

func apiError(status int, body []byte) error {
	var errorResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		return fmt.Errorf("OpenAI API error (%s): %s", errorResp.Error.Type, errorResp.Error.Message)
	}
	return fmt.Errorf("OpenAI API error (status %d): %s", status, string(body))
}
