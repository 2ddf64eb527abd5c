package callrelay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatClientFor(url string) *ChatClient {
	cfg := testAudioConfig()
	cfg.ChatBaseURL = url
	return NewChatClient(cfg)
}

func TestChatClient_Complete(t *testing.T) {
	var gotReq ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(ChatResponse{Response: "well hello"})
	}))
	defer server.Close()

	client := chatClientFor(server.URL)
	reply, err := client.Complete(context.Background(), "hello", map[string]interface{}{"source": "call"})

	require.NoError(t, err)
	assert.Equal(t, "well hello", reply)
	assert.Equal(t, "hello", gotReq.Prompt)
	assert.Equal(t, "call", gotReq.Metadata["source"])
}

func TestChatClient_BackendErrors(t *testing.T) {
	tests := map[string]struct {
		status      int
		body        string
		wantCode    string
		description string
	}{
		"server_error": {
			status:      http.StatusInternalServerError,
			body:        "boom",
			wantCode:    ErrCodeChat,
			description: "A non-200 is a chat failure",
		},
		"rate_limited": {
			status:      http.StatusTooManyRequests,
			body:        "slow down",
			wantCode:    ErrCodeChat,
			description: "Throttling is surfaced, never retried",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tt.body, tt.status)
			}))
			defer server.Close()

			_, err := chatClientFor(server.URL).Complete(context.Background(), "hello", nil)

			require.Error(t, err, tt.description)
			assert.True(t, IsErrorCode(err, tt.wantCode), tt.description)
		})
	}
}

func TestChatClient_BackendUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // nothing listens anymore

	_, err := chatClientFor(server.URL).Complete(context.Background(), "hello", nil)

	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeBackendDown))
}
