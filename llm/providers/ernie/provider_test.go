package ernie

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

func newTestProvider(url, model string) *ErnieProvider {
	return NewErnieProvider(providers.ErnieConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "tok-123", BaseURL: url, Model: model},
	}, zap.NewNop())
}

func chatRequest() *llm.ChatRequest {
	return &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "你是助手"},
			{Role: llm.RoleSystem, Content: "回答简短"},
			{Role: llm.RoleUser, Content: "你好"},
		},
	}
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

func TestEndpoint(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"ernie-bot", "completions"},
		{"ERNIE-Bot-turbo", "eb-instant"},
		{"ernie-bot-4", "completions_pro"},
		{"my-custom-deploy", "my-custom-deploy"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, Endpoint(tt.model))
		})
	}
}

func TestBuildRequest_LiftsSystem(t *testing.T) {
	p := newTestProvider("http://unused", "")
	req := chatRequest()
	req.MaxTokens = 256
	req.User = "u1"
	req.Tools = []llm.ToolSchema{{Name: "weather", Parameters: json.RawMessage(`{"type":"object"}`)}}

	body := p.BuildRequest(req, true)
	assert.Equal(t, "你是助手\n回答简短", body.System)
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "user", body.Messages[0].Role)
	assert.True(t, body.Stream)
	assert.Equal(t, 256, body.MaxOutputTokens)
	assert.Equal(t, "u1", body.UserID)
	require.Len(t, body.Functions, 1)
	assert.Equal(t, "weather", body.Functions[0].Name)
}

func TestBuildRequest_ToolMessages(t *testing.T) {
	p := newTestProvider("http://unused", "")
	body := p.BuildRequest(&llm.ChatRequest{Messages: []llm.Message{
		{Role: llm.RoleUser, Content: "北京天气"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{Function: llm.FunctionCall{Name: "weather", Arguments: `{"city":"北京"}`}}}},
		{Role: llm.RoleTool, Name: "weather", Content: `{"temp":20}`},
	}}, false)

	require.Len(t, body.Messages, 3)
	require.NotNil(t, body.Messages[1].FunctionCall)
	assert.Equal(t, "weather", body.Messages[1].FunctionCall.Name)
	assert.Equal(t, "function", body.Messages[2].Role)
	assert.Equal(t, "weather", body.Messages[2].Name)
}

// ---------------------------------------------------------------------------
// Completion
// ---------------------------------------------------------------------------

func TestProvider_Completion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/eb-instant", r.URL.Path)
		assert.Equal(t, "tok-123", r.URL.Query().Get("access_token"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "你是助手\n回答简短", body["system"])
		assert.InDelta(t, 0.01, body["temperature"], 1e-6, "temperature clamped into (0, 1]")
		assert.InDelta(t, 1.5, body["penalty_score"], 1e-6)

		fmt.Fprint(w, `{"id":"as-1","object":"chat.completion","created":1680167072,"result":"你好！","is_truncated":false,
			"finish_reason":"normal","need_clear_history":false,"usage":{"prompt_tokens":2,"completion_tokens":3,"total_tokens":5}}`)
	}))
	t.Cleanup(server.Close)

	temp := float32(0)
	req := chatRequest()
	req.Temperature = &temp
	req.Extra = map[string]any{"penalty_score": 1.5}

	resp, err := newTestProvider(server.URL, "ernie-bot-turbo").Completion(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "as-1", resp.ID)
	assert.Equal(t, "ernie-bot-turbo", resp.Model)
	assert.Equal(t, int64(1680167072), resp.Created)
	assert.Equal(t, "你好！", resp.Content())
	assert.Equal(t, llm.FinishReasonStop, resp.Choices[0].FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Equal(t, float32(0), *req.Temperature, "caller request is not mutated")
}

func TestProvider_Completion_FunctionCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"as-2","created":1,"result":"","function_call":{"name":"weather","arguments":"{\"city\":\"北京\"}","thoughts":"查天气"}}`)
	}))
	t.Cleanup(server.Close)

	resp, err := newTestProvider(server.URL, "").Completion(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.Equal(t, llm.FinishReasonFunctionCall, resp.Choices[0].FinishReason)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "weather", resp.Choices[0].Message.ToolCalls[0].Function.Name)
}

func TestProvider_Completion_ErrorBody(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "error_code form",
			body:       `{"error_code":110,"error_msg":"Access token invalid or no longer valid"}`,
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Access token invalid or no longer valid",
		},
		{
			name:       "code form",
			body:       `{"code":111,"message":"token expired"}`,
			wantStatus: http.StatusForbidden,
			wantMsg:    "token expired",
		},
		{
			name:       "unmapped",
			body:       `{"error_code":336501,"error_msg":"Rate limit reached for RPM"}`,
			wantStatus: 0,
			wantMsg:    "Rate limit reached for RPM",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, tt.body)
			}))
			t.Cleanup(server.Close)

			_, err := newTestProvider(server.URL, "").Completion(context.Background(), chatRequest())
			llmErr, ok := llm.AsError(err)
			require.True(t, ok, "expected *llm.Error, got %v", err)
			assert.Equal(t, tt.wantStatus, llmErr.HTTPStatus)
			assert.Equal(t, tt.wantMsg, llmErr.Message)
			assert.JSONEq(t, tt.body, string(llmErr.Body))
		})
	}
}

func TestProvider_Completion_MissingResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"as-3"}`)
	}))
	t.Cleanup(server.Close)

	_, err := newTestProvider(server.URL, "").Completion(context.Background(), chatRequest())
	assert.Equal(t, llm.ErrMalformedResponse, llm.CodeOf(err))
}

func TestProvider_Completion_GatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `<html>bad gateway</html>`)
	}))
	t.Cleanup(server.Close)

	_, err := newTestProvider(server.URL, "").Completion(context.Background(), chatRequest())
	assert.Equal(t, http.StatusBadGateway, llm.StatusOf(err))
	assert.True(t, llm.IsRetryable(err))
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func TestProvider_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"as-1\",\"created\":1,\"sentence_id\":0,\"is_end\":false,\"result\":\"你\"}\n\n")
		fmt.Fprint(w, "data: {\"id\":\"as-1\",\"created\":1,\"sentence_id\":1,\"is_end\":false,\"result\":\"好\"}\n\n")
		fmt.Fprint(w, "data: {\"id\":\"as-1\",\"created\":1,\"sentence_id\":2,\"is_end\":true,\"result\":\"！\",\"finish_reason\":\"normal\",\"usage\":{\"prompt_tokens\":1,\"completion_tokens\":3,\"total_tokens\":4}}\n\n")
	}))
	t.Cleanup(server.Close)

	stream, err := newTestProvider(server.URL, "").Stream(context.Background(), chatRequest())
	require.NoError(t, err)
	chunks, err := stream.Collect()
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.True(t, chunks[0].Finish().IsNull())
	assert.True(t, chunks[1].Finish().IsNull())
	assert.Equal(t, llm.FinishReasonStop, chunks[2].Finish())
	assert.Equal(t, 4, chunks[2].Usage.TotalTokens)
	assert.Equal(t, "你好！", llm.Accumulate(chunks).Content())
}

func TestProvider_Stream_JSONErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprint(w, `{"error_code":336003,"error_msg":"the first message role must be user"}`)
	}))
	t.Cleanup(server.Close)

	stream, err := newTestProvider(server.URL, "").Stream(context.Background(), chatRequest())
	assert.Nil(t, stream)
	assert.Equal(t, http.StatusBadRequest, llm.StatusOf(err))
	assert.Equal(t, llm.ErrInvalidRequest, llm.CodeOf(err))
}

func TestProvider_Stream_ErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"as-1\",\"is_end\":false,\"result\":\"部分\"}\n\n")
		fmt.Fprint(w, "data: {\"error_code\":336100,\"error_msg\":\"try again later\"}\n\n")
	}))
	t.Cleanup(server.Close)

	stream, err := newTestProvider(server.URL, "").Stream(context.Background(), chatRequest())
	require.NoError(t, err)
	chunks, err := stream.Collect()
	assert.Len(t, chunks, 1)
	assert.Equal(t, http.StatusInternalServerError, llm.StatusOf(err))
	assert.True(t, llm.IsRetryable(err))
}

func TestProvider_Stream_FirstEventError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"error_code\":18,\"error_msg\":\"qps limit\"}\n\n")
	}))
	t.Cleanup(server.Close)

	stream, err := newTestProvider(server.URL, "").Stream(context.Background(), chatRequest())
	assert.Nil(t, stream)
	assert.Equal(t, http.StatusTooManyRequests, llm.StatusOf(err))
}
