package dify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProvider(url string) *DifyProvider {
	return NewDifyProvider(providers.DifyConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "app-key", BaseURL: url},
	}, zap.NewNop())
}

func chatRequest() *llm.ChatRequest {
	return &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "ignored by dify"},
			{Role: llm.RoleUser, Content: "first"},
			{Role: llm.RoleAssistant, Content: "answer"},
			{Role: llm.RoleUser, Content: "second"},
		},
		Extra: map[string]any{
			"inputs":          map[string]any{"lang": "zh"},
			"conversation_id": "conv-1",
			"files":           []any{},
		},
	}
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

func TestBuildRequest(t *testing.T) {
	p := newTestProvider("http://unused")

	body := p.BuildRequest(chatRequest(), true)
	assert.Equal(t, "second", body.Query)
	assert.Equal(t, "streaming", body.ResponseMode)
	assert.Equal(t, "conv-1", body.ConversationID)
	assert.Equal(t, "gptproxy", body.User)
	assert.Equal(t, map[string]any{"lang": "zh"}, body.Inputs)

	req := chatRequest()
	req.User = "u-42"
	req.Extra = nil
	body = p.BuildRequest(req, false)
	assert.Equal(t, "blocking", body.ResponseMode)
	assert.Equal(t, "u-42", body.User)
	assert.NotNil(t, body.Inputs, "inputs is always sent")
}

func TestProvider_RequiresUserMessage(t *testing.T) {
	_, err := newTestProvider("http://unused").Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleSystem, Content: "only system"}},
	})
	assert.Equal(t, llm.ErrInvalidRequest, llm.CodeOf(err))
	assert.Equal(t, http.StatusBadRequest, llm.StatusOf(err))
}

// ---------------------------------------------------------------------------
// Completion
// ---------------------------------------------------------------------------

func TestProvider_Completion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat-messages", r.URL.Path)
		assert.Equal(t, "Bearer app-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "second", body["query"])
		assert.Equal(t, "blocking", body["response_mode"])
		assert.Equal(t, "conv-1", body["conversation_id"])
		assert.Equal(t, []any{}, body["files"])

		fmt.Fprint(w, `{"event":"message","message_id":"m-1","conversation_id":"conv-1","mode":"chat",
			"answer":"你好","metadata":{"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}},
			"created_at":1705407629}`)
	}))
	t.Cleanup(server.Close)

	resp, err := newTestProvider(server.URL).Completion(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.Equal(t, "m-1", resp.ID)
	assert.Equal(t, "dify", resp.Model)
	assert.Equal(t, int64(1705407629), resp.Created)
	assert.Equal(t, "你好", resp.Content())
	assert.Equal(t, llm.FinishReasonStop, resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestProvider_Completion_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantCode   llm.ErrorCode
		wantStatus int
		wantVendor string
	}{
		{
			name:       "status from body",
			status:     http.StatusBadRequest,
			body:       `{"status":400,"code":"invalid_param","message":"query is required"}`,
			wantCode:   llm.ErrInvalidRequest,
			wantStatus: http.StatusBadRequest,
			wantVendor: "invalid_param",
		},
		{
			name:       "status from response when body omits it",
			status:     http.StatusNotFound,
			body:       `{"code":"not_found","message":"Conversation Not Exists."}`,
			wantCode:   llm.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantVendor: "not_found",
		},
		{
			name:       "quota exceeded",
			status:     http.StatusBadRequest,
			body:       `{"status":400,"code":"provider_quota_exceeded","message":"no credits"}`,
			wantCode:   llm.ErrQuotaExceeded,
			wantStatus: http.StatusBadRequest,
			wantVendor: "provider_quota_exceeded",
		},
		{
			name:       "unauthorized plain text",
			status:     http.StatusUnauthorized,
			body:       `Access token is invalid`,
			wantCode:   llm.ErrUnauthorized,
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			t.Cleanup(server.Close)

			_, err := newTestProvider(server.URL).Completion(context.Background(), chatRequest())
			llmErr, ok := llm.AsError(err)
			require.True(t, ok, "expected *llm.Error, got %v", err)
			assert.Equal(t, tt.wantCode, llmErr.Code)
			assert.Equal(t, tt.wantStatus, llmErr.HTTPStatus)
			assert.Equal(t, tt.wantVendor, llmErr.VendorCode)
			assert.Equal(t, "dify", llmErr.Provider)
		})
	}
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func TestProvider_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "streaming", body["response_mode"])

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"event\":\"workflow_started\",\"task_id\":\"t\"}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message\",\"message_id\":\"m-1\",\"answer\":\"Hi\",\"created_at\":1705395332}\n\n")
		fmt.Fprint(w, "event: ping\n\n")
		fmt.Fprint(w, "data: {\"event\":\"agent_thought\",\"thought\":\"...\"}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"agent_message\",\"message_id\":\"m-1\",\"answer\":\" there\",\"created_at\":1705395332}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message_end\",\"id\":\"m-1\",\"metadata\":{\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2,\"total_tokens\":5}}}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"tts_message_end\"}\n\n")
	}))
	t.Cleanup(server.Close)

	stream, err := newTestProvider(server.URL).Stream(context.Background(), chatRequest())
	require.NoError(t, err)
	chunks, err := stream.Collect()
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "Hi", chunks[0].DeltaContent())
	assert.Equal(t, " there", chunks[1].DeltaContent())
	assert.True(t, chunks[0].Finish().IsNull())
	assert.True(t, chunks[1].Finish().IsNull())
	assert.Equal(t, llm.FinishReasonStop, chunks[2].Finish())
	require.NotNil(t, chunks[2].Usage)
	assert.Equal(t, 5, chunks[2].Usage.TotalTokens)
	assert.Equal(t, "m-1", chunks[2].ID)
	assert.Equal(t, "Hi there", llm.Accumulate(chunks).Content())
}

func TestProvider_Stream_MessageReplace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"event\":\"message\",\"message_id\":\"m-1\",\"answer\":\"bad words\"}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message_replace\",\"message_id\":\"m-1\",\"answer\":\"[filtered]\"}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message\",\"message_id\":\"m-1\",\"answer\":\" more\"}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message_end\",\"id\":\"m-1\",\"metadata\":{\"usage\":{\"total_tokens\":4}}}\n\n")
	}))
	t.Cleanup(server.Close)

	stream, err := newTestProvider(server.URL).Stream(context.Background(), chatRequest())
	require.NoError(t, err)
	chunks, err := stream.Collect()
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.False(t, chunks[0].Replaces())
	assert.True(t, chunks[1].Replaces())
	assert.Equal(t, "[filtered]", chunks[1].DeltaContent())
	assert.True(t, chunks[1].Finish().IsNull())
	assert.Equal(t, llm.FinishReasonContentFilter, chunks[2].Finish())

	resp := llm.Accumulate(chunks)
	assert.Equal(t, "[filtered]", resp.Content())
	assert.Equal(t, llm.FinishReasonContentFilter, resp.Choices[0].FinishReason)
	assert.Equal(t, "[filtered]", llm.StreamText(chunks))
}

func TestProvider_Stream_FirstEventError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"event\":\"error\",\"message_id\":\"m-1\",\"status\":429,\"code\":\"too_many_requests\",\"message\":\"slow down\"}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message\",\"answer\":\"never\"}\n\n")
	}))
	t.Cleanup(server.Close)

	stream, err := newTestProvider(server.URL).Stream(context.Background(), chatRequest())
	assert.Nil(t, stream)
	llmErr, ok := llm.AsError(err)
	require.True(t, ok)
	assert.Equal(t, llm.ErrRateLimited, llmErr.Code)
	assert.Equal(t, http.StatusTooManyRequests, llmErr.HTTPStatus)
	assert.True(t, llmErr.Retryable)
	assert.Equal(t, "slow down", llmErr.Message)
}

func TestProvider_Stream_TruncatedBeforeMessageEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"event\":\"message\",\"message_id\":\"m-1\",\"answer\":\"Hi\"}\n\n")
	}))
	t.Cleanup(server.Close)

	stream, err := newTestProvider(server.URL).Stream(context.Background(), chatRequest())
	require.NoError(t, err)
	_, err = stream.Collect()
	assert.Equal(t, llm.ErrMalformedResponse, llm.CodeOf(err))
}
