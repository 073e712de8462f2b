package openaicompat

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/providers"
)

// Request is the Chat Completions request body.
type Request struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Temperature   *float32       `json:"temperature,omitempty"`
	TopP          *float32       `json:"top_p,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
	Seed          *int           `json:"seed,omitempty"`
	Tools         []Tool         `json:"tools,omitempty"`
	ToolChoice    any            `json:"tool_choice,omitempty"`
	User          string         `json:"user,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type Message struct {
	Role       string     `json:"role,omitempty"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Response covers both the whole-body and the chunk forms.
type Response struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Model   string             `json:"model"`
	Created providers.UnixTime `json:"created"`
	Choices []Choice           `json:"choices"`
	Usage   *llm.ChatUsage     `json:"usage,omitempty"`
	Error   *APIError          `json:"error,omitempty"`
}

type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	Delta        *Message `json:"delta,omitempty"`
	FinishReason *string  `json:"finish_reason"`
}

// APIError is the {"error":{...}} object. Code is a string for OpenAI and a
// number for some compatible vendors.
type APIError struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Param   string          `json:"param,omitempty"`
	Code    json.RawMessage `json:"code,omitempty"`
}

func (e *APIError) code() string {
	if len(e.Code) == 0 || string(e.Code) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Code, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(e.Code))
}

// typeStatus maps OpenAI error types to HTTP semantics for errors that arrive
// without a transport status (inside a 200 body or the event stream).
var typeStatus = map[string]int{
	"invalid_request_error": http.StatusBadRequest,
	"authentication_error":  http.StatusUnauthorized,
	"permission_error":      http.StatusForbidden,
	"not_found_error":       http.StatusNotFound,
	"rate_limit_error":      http.StatusTooManyRequests,
	"insufficient_quota":    http.StatusTooManyRequests,
	"server_error":          http.StatusInternalServerError,
	"overloaded_error":      529,
}

// toError builds the unified error. status is the transport status, or 0
// when the error object arrived inside a successful response.
func (e *APIError) toError(status int, provider string, raw []byte) *llm.Error {
	if status == 0 {
		status = typeStatus[e.Type]
		if status == 0 {
			status = typeStatus[e.code()]
		}
	}
	msg := e.Message
	if msg == "" {
		msg = "upstream error"
	}

	var out *llm.Error
	if status == 0 {
		out = &llm.Error{Code: llm.ErrUnmapped, Message: msg, Provider: provider}
	} else {
		out = providers.MapHTTPError(status, msg, provider)
	}
	out.VendorCode = e.code()
	if out.VendorCode == "" {
		out.VendorCode = e.Type
	}
	switch out.VendorCode {
	case "insufficient_quota":
		out.Code = llm.ErrQuotaExceeded
		out.Retryable = false
	case "content_filter", "content_policy_violation":
		out.Code = llm.ErrContentFiltered
	}
	if json.Valid(raw) {
		out.Body = json.RawMessage(raw)
	}
	return out
}

func toWireMessages(msgs []llm.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		wm := Message{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			typ := tc.Type
			if typ == "" {
				typ = "function"
			}
			wm.ToolCalls = append(wm.ToolCalls, ToolCall{
				ID:       tc.ID,
				Type:     typ,
				Function: FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
			})
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(tools []llm.ToolSchema) []Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// toWireToolChoice keeps the keyword forms and turns a tool name into the
// object form.
func toWireToolChoice(choice string) any {
	switch choice {
	case "":
		return nil
	case "auto", "none", "required":
		return choice
	default:
		return map[string]any{
			"type":     "function",
			"function": map[string]string{"name": choice},
		}
	}
}

func fromWireMessage(m *Message) llm.Message {
	if m == nil {
		return llm.Message{}
	}
	out := llm.Message{
		Role:       llm.Role(m.Role),
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for i, tc := range m.ToolCalls {
		idx := i
		if tc.Index != nil {
			idx = *tc.Index
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			Index:    idx,
			ID:       tc.ID,
			Type:     tc.Type,
			Function: llm.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	return out
}

func finishReason(reason *string) llm.FinishReason {
	if reason == nil {
		return llm.FinishReasonNull
	}
	return providers.NormalizeFinishReason(*reason, nil)
}
