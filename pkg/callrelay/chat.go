package callrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Prompt   string                 `json:"prompt"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ChatResponse is the reply body of POST /api/chat.
type ChatResponse struct {
	Response string `json:"response"`
}

// ChatClient calls the conversational backend. Requests carry a single
// bounded timeout and are never retried; a dead backend must fail fast so
// the turn can fall back.
type ChatClient struct {
	baseURL string
	http    *http.Client
	logger  *RelayLogger
}

func NewChatClient(cfg *RelayConfig) *ChatClient {
	return &ChatClient{
		baseURL: cfg.ChatBaseURL,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		logger:  GetGlobalLogger().WithComponent("ChatClient"),
	}
}

// Complete sends a transcript to the backend and returns the reply text.
func (c *ChatClient) Complete(ctx context.Context, prompt string, metadata map[string]interface{}) (string, error) {
	body, err := json.Marshal(ChatRequest{Prompt: prompt, Metadata: metadata})
	if err != nil {
		return "", WrapError(err, "failed to encode chat request", ErrCodeChat)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", WrapError(err, "failed to build chat request", ErrCodeChat)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", WrapError(err, "chat backend unreachable", ErrCodeBackendDown)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", NewRelayError(
			fmt.Sprintf("chat backend returned %d: %s", resp.StatusCode, string(snippet)),
			ErrCodeChat).AddDetail("status_code", resp.StatusCode)
	}

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", WrapError(err, "failed to decode chat response", ErrCodeChat)
	}

	c.logger.Debugf("Chat turn completed: %d chars in, %d chars out", len(prompt), len(out.Response))
	return out.Response, nil
}
