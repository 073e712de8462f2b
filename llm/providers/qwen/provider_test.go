package qwen

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func newTestProvider(url string) *QwenProvider {
	return NewQwenProvider(providers.QwenConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "sk-test", BaseURL: url, Model: "qwen-plus"},
	}, zap.NewNop(), WithClock(func() time.Time { return time.Unix(1700000000, 0) }))
}

func chatRequest() *llm.ChatRequest {
	return &llm.ChatRequest{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a helpful assistant."},
		{Role: llm.RoleUser, Content: "你好"},
	}}
}

func boolPtr(b bool) *bool { return &b }

// writeEvents writes DashScope-style SSE result events.
func writeEvents(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for i, ev := range events {
		fmt.Fprintf(w, "id:%d\nevent:result\n:HTTP_STATUS/200\ndata:%s\n\n", i+1, ev)
	}
}

func textEvent(text, finish string) string {
	return fmt.Sprintf(`{"output":{"finish_reason":%q,"text":%q},"usage":{"input_tokens":5,"output_tokens":%d},"request_id":"req-1"}`, finish, text, len([]rune(text)))
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

func TestIncrementalDefaults(t *testing.T) {
	assert.True(t, ChatIncrementalDefault, "chat defaults to delta output")
	assert.False(t, CompletionsIncrementalDefault, "completions default to cumulative output")
	assert.Equal(t, "text", DefaultResultFormat)
}

func TestBuildRequest_Chat(t *testing.T) {
	p := newTestProvider("http://unused")

	body := p.BuildRequest(chatRequest(), true)
	assert.Equal(t, "qwen-plus", body.Model)
	assert.Len(t, body.Input.Messages, 2)
	assert.Empty(t, body.Input.Prompt)
	assert.Equal(t, "text", body.Parameters.ResultFormat)
	require.NotNil(t, body.Parameters.IncrementalOutput)
	assert.True(t, *body.Parameters.IncrementalOutput)

	req := chatRequest()
	req.StreamOptions = &llm.StreamOptions{IncrementalOutput: boolPtr(false)}
	req.Extra = map[string]any{"top_k": 50, "enable_search": true}
	body = p.BuildRequest(req, true)
	require.NotNil(t, body.Parameters.IncrementalOutput)
	assert.False(t, *body.Parameters.IncrementalOutput)
	assert.Equal(t, 50, body.Parameters.TopK)
	assert.True(t, body.Parameters.EnableSearch)

	body = p.BuildRequest(chatRequest(), false)
	assert.Nil(t, body.Parameters.IncrementalOutput)

	data, err := json.Marshal(body)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"incremental_output"`)
	assert.NotContains(t, string(data), `"temperature"`)
}

func TestBuildRequest_ToolsForceMessageFormat(t *testing.T) {
	req := chatRequest()
	req.Tools = []llm.ToolSchema{{Name: "get_weather", Parameters: json.RawMessage(`{"type":"object"}`)}}
	body := newTestProvider("http://unused").BuildRequest(req, false)
	assert.Equal(t, "message", body.Parameters.ResultFormat)
	require.Len(t, body.Parameters.Tools, 1)
	assert.Equal(t, "function", body.Parameters.Tools[0].Type)
}

func TestBuildRequest_Completions(t *testing.T) {
	c := newTestProvider("http://unused").Completions()

	body := c.BuildRequest(&CompletionRequest{Prompt: "写一首诗", Stream: true})
	assert.Equal(t, "写一首诗", body.Input.Prompt)
	assert.Empty(t, body.Input.Messages)
	assert.Nil(t, body.Parameters.IncrementalOutput, "left unset so the vendor streams cumulatively")

	body = c.BuildRequest(&CompletionRequest{Prompt: "p", Stream: true, IncrementalOutput: boolPtr(true)})
	require.NotNil(t, body.Parameters.IncrementalOutput)
	assert.True(t, *body.Parameters.IncrementalOutput)
}

// ---------------------------------------------------------------------------
// Completion
// ---------------------------------------------------------------------------

func TestProvider_Completion_Text(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/services/aigc/text-generation/generation", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-DashScope-SSE"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		input := body["input"].(map[string]any)
		assert.Len(t, input["messages"], 2)
		params := body["parameters"].(map[string]any)
		assert.Equal(t, "text", params["result_format"])

		fmt.Fprint(w, `{"output":{"finish_reason":"stop","text":"你好！"},"usage":{"input_tokens":10,"output_tokens":3,"total_tokens":13},"request_id":"req-1"}`)
	}))
	t.Cleanup(server.Close)

	resp, err := newTestProvider(server.URL).Completion(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.ID)
	assert.Equal(t, "qwen-plus", resp.Model)
	assert.Equal(t, int64(1700000000), resp.Created)
	assert.Equal(t, "你好！", resp.Content())
	assert.Equal(t, llm.FinishReasonStop, resp.Choices[0].FinishReason)
	assert.Equal(t, &llm.ChatUsage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13}, resp.Usage)
}

func TestProvider_Completion_MessageFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"output":{"choices":[{"finish_reason":"tool_calls","message":{"role":"assistant","content":"",
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"杭州\"}"}}]}}]},
			"usage":{"input_tokens":10,"output_tokens":3},"request_id":"req-2"}`)
	}))
	t.Cleanup(server.Close)

	resp, err := newTestProvider(server.URL).Completion(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.Equal(t, llm.FinishReasonToolCalls, resp.Choices[0].FinishReason)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.Choices[0].Message.ToolCalls[0].Function.Name)
	assert.Equal(t, 13, resp.Usage.TotalTokens)
}

func TestProvider_Completion_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantCode   llm.ErrorCode
		wantStatus int
	}{
		{"invalid api key", http.StatusUnauthorized, `{"code":"InvalidApiKey","message":"Invalid API-key provided.","request_id":"r"}`, llm.ErrUnauthorized, http.StatusUnauthorized},
		{"content filtered", http.StatusBadRequest, `{"code":"DataInspectionFailed","message":"Input data may contain inappropriate content."}`, llm.ErrContentFiltered, http.StatusBadRequest},
		{"throttling", http.StatusTooManyRequests, `{"code":"Throttling.RateQuota","message":"Requests rate limit exceeded"}`, llm.ErrRateLimited, http.StatusTooManyRequests},
		{"arrearage", http.StatusBadRequest, `{"code":"Arrearage","message":"Access denied, please make sure your account is in good standing."}`, llm.ErrQuotaExceeded, http.StatusForbidden},
		{"model not found", http.StatusBadRequest, `{"code":"ModelNotFound","message":"Model not exist."}`, llm.ErrNotFound, http.StatusNotFound},
		{"internal error", http.StatusInternalServerError, `{"code":"InternalError.Algo","message":"An internal error has occured"}`, llm.ErrUpstreamError, http.StatusInternalServerError},
		{"unknown code falls back to status", http.StatusServiceUnavailable, `{"code":"SomethingNew","message":"?"}`, llm.ErrUpstreamError, http.StatusServiceUnavailable},
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
			assert.NotEmpty(t, llmErr.VendorCode)
			assert.JSONEq(t, tt.body, string(llmErr.Body))
		})
	}
}

func TestStatusForCode(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, StatusForCode("Throttling"))
	assert.Equal(t, http.StatusTooManyRequests, StatusForCode("Throttling.User"))
	assert.Equal(t, http.StatusForbidden, StatusForCode("AccessDenied.Unpurchased"))
	assert.Equal(t, http.StatusInternalServerError, StatusForCode("InternalError"))
	assert.Equal(t, 0, StatusForCode("ThrottlingX"))
	assert.Equal(t, 0, StatusForCode(""))
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func TestProvider_Stream_ChatIncremental(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "enable", r.Header.Get("X-DashScope-SSE"))
		var body Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotNil(t, body.Parameters.IncrementalOutput)
		assert.True(t, *body.Parameters.IncrementalOutput)

		writeEvents(w, textEvent("你", "null"), textEvent("好", "null"), textEvent("！", "stop"))
	}))
	t.Cleanup(server.Close)

	stream, err := newTestProvider(server.URL).Stream(context.Background(), chatRequest())
	require.NoError(t, err)
	chunks, err := stream.Collect()
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"你", "好", "！"}, deltas(chunks))
	assert.True(t, chunks[0].Finish().IsNull())
	assert.True(t, chunks[1].Finish().IsNull())
	assert.Equal(t, llm.FinishReasonStop, chunks[2].Finish())
}

func TestProvider_Stream_ChatCumulative(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotNil(t, body.Parameters.IncrementalOutput)
		assert.False(t, *body.Parameters.IncrementalOutput)

		writeEvents(w, textEvent("你", "null"), textEvent("你好", "null"), textEvent("你好！", "stop"))
	}))
	t.Cleanup(server.Close)

	req := chatRequest()
	req.StreamOptions = &llm.StreamOptions{IncrementalOutput: boolPtr(false)}
	stream, err := newTestProvider(server.URL).Stream(context.Background(), req)
	require.NoError(t, err)
	chunks, err := stream.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"你", "好", "！"}, deltas(chunks))
}

func TestCompletions_Stream_CumulativeByDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		params := body["parameters"].(map[string]any)
		assert.NotContains(t, params, "incremental_output")
		assert.Equal(t, "写诗", body["input"].(map[string]any)["prompt"])

		writeEvents(w,
			textEvent("床前", "null"),
			textEvent("床前明月", "null"),
			textEvent("床前明月光", "stop"),
		)
	}))
	t.Cleanup(server.Close)

	res, err := newTestProvider(server.URL).Completions().Create(context.Background(), &CompletionRequest{Prompt: "写诗", Stream: true})
	require.NoError(t, err)
	require.NotNil(t, res.Stream)
	require.Nil(t, res.Response)
	chunks, err := res.Stream.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"床前", "明月", "光"}, deltas(chunks))
	assert.Equal(t, "床前明月光", llm.Accumulate(chunks).Content())
}

func TestCompletions_Create_Sync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"output":{"finish_reason":"length","text":"床前"},"request_id":"req-3"}`)
	}))
	t.Cleanup(server.Close)

	res, err := newTestProvider(server.URL).Completions().Create(context.Background(), &CompletionRequest{Prompt: "写诗"})
	require.NoError(t, err)
	require.NotNil(t, res.Response)
	assert.Equal(t, llm.FinishReasonLength, res.Response.Choices[0].FinishReason)

	_, err = newTestProvider(server.URL).Completions().Create(context.Background(), &CompletionRequest{})
	assert.Equal(t, llm.ErrInvalidRequest, llm.CodeOf(err))
}

func TestProvider_Stream_ErrorEventFirst(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "id:1\nevent:error\n:HTTP_STATUS/400\ndata:{\"code\":\"InvalidParameter\",\"message\":\"Range of input length should be [1, 6000]\",\"request_id\":\"r\"}\n\n")
	}))
	t.Cleanup(server.Close)

	stream, err := newTestProvider(server.URL).Stream(context.Background(), chatRequest())
	assert.Nil(t, stream)
	llmErr, ok := llm.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, llmErr.HTTPStatus)
	assert.Equal(t, "InvalidParameter", llmErr.VendorCode)
	assert.Equal(t, llm.ErrInvalidRequest, llmErr.Code)
}

func TestProvider_Stream_ErrorEventUnknownCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, textEvent("a", "null"))
		fmt.Fprint(w, "id:2\nevent:error\n:HTTP_STATUS/503\ndata:{\"code\":\"Overloaded\",\"message\":\"busy\"}\n\n")
	}))
	t.Cleanup(server.Close)

	stream, err := newTestProvider(server.URL).Stream(context.Background(), chatRequest())
	require.NoError(t, err)
	chunks, err := stream.Collect()
	assert.Len(t, chunks, 1)
	assert.Equal(t, http.StatusServiceUnavailable, llm.StatusOf(err))
	assert.True(t, llm.IsRetryable(err))
}

func deltas(chunks []llm.ChatChunk) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.DeltaContent())
	}
	return out
}

// A chat body without incremental_output on the wire is decoded as cumulative text.
func TestChatStream_UnsetIncrementalIsCumulative(t *testing.T) {
	body := newTestProvider("http://unused").BuildRequest(chatRequest(), false)
	require.Nil(t, body.Parameters.IncrementalOutput)
	require.False(t, body.Parameters.Incremental())

	var sb strings.Builder
	for _, ev := range []string{textEvent("床前", "null"), textEvent("床前明月", "null"), textEvent("床前明月光", "stop")} {
		fmt.Fprintf(&sb, "event:result\ndata:%s\n\n", ev)
	}
	stream, err := providers.StartStream(context.Background(), providerName,
		io.NopCloser(strings.NewReader(sb.String())), newStreamHandler(body.Model, body.Parameters.Incremental(), 0))
	require.NoError(t, err)
	chunks, err := stream.Collect()
	require.NoError(t, err)

	assert.Equal(t, []string{"床前", "明月", "光"}, deltas(chunks))
	assert.Equal(t, "床前明月光", llm.Accumulate(chunks).Content())
	assert.Equal(t, llm.FinishReasonStop, chunks[2].Finish())
}

// Cumulative events become exactly the pieces that were appended.
func TestStreamHandler_CumulativeDiffing(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		pieces := rapid.SliceOfN(rapid.StringMatching(`[a-z你好 ]{1,6}`), 1, 15).Draw(rt, "pieces")

		var sb strings.Builder
		var acc string
		for i, piece := range pieces {
			acc += piece
			finish := "null"
			if i == len(pieces)-1 {
				finish = "stop"
			}
			fmt.Fprintf(&sb, "event:result\ndata:%s\n\n", textEvent(acc, finish))
		}

		stream, err := providers.StartStream(context.Background(), providerName,
			io.NopCloser(strings.NewReader(sb.String())), newStreamHandler("qwen-plus", false, 0))
		if err != nil {
			rt.Fatalf("start: %v", err)
		}
		chunks, err := stream.Collect()
		if err != nil {
			rt.Fatalf("collect: %v", err)
		}
		got := deltas(chunks)
		if len(got) != len(pieces) {
			rt.Fatalf("got %d chunks, want %d", len(got), len(pieces))
		}
		for i := range pieces {
			if got[i] != pieces[i] {
				rt.Fatalf("chunk %d: got %q, want %q", i, got[i], pieces[i])
			}
		}
		if text := llm.StreamText(chunks); text != acc {
			rt.Fatalf("joined text %q, want %q", text, acc)
		}
	})
}
