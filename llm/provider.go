package llm

import (
	"context"
	"encoding/json"
	"net/http"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FunctionCall 工具调用的函数名与参数（参数为 JSON 字符串，流式时为片段）。
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type ToolCall struct {
	Index    int          `json:"index"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

type Message struct {
	Role       Role       `json:"role,omitempty"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // 工具返回时标识对应调用
}

type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"` // JSON Schema
}

// StreamOptions 流式相关选项。
// IncrementalOutput 仅被支持累积/增量两种模式的服务商（DashScope）读取。
type StreamOptions struct {
	IncludeUsage      bool  `json:"include_usage,omitempty"`
	IncrementalOutput *bool `json:"incremental_output,omitempty"`
}

// ChatRequest 统一的聊天请求（OpenAI 形状）。
// Temperature/TopP 为 nil 时由各 Provider 决定默认值。
type ChatRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Temperature   *float32       `json:"temperature,omitempty"`
	TopP          *float32       `json:"top_p,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
	Seed          *int           `json:"seed,omitempty"`
	Tools         []ToolSchema   `json:"tools,omitempty"`
	ToolChoice    string         `json:"tool_choice,omitempty"` // auto/none/<tool name>
	User          string         `json:"user,omitempty"`

	// Extra 服务商特有字段，原样合并到请求体（不会覆盖已转换的字段）。
	// HTTP 调用方以 "extra" 对象传入，如 Dify 的 conversation_id、DashScope 的 top_k。
	Extra map[string]any `json:"extra,omitempty"`
}

// Validate 校验请求的基础不变量。
func (r *ChatRequest) Validate() error {
	if r == nil {
		return &Error{Code: ErrInvalidRequest, Message: "request is nil", HTTPStatus: http.StatusBadRequest}
	}
	if len(r.Messages) == 0 {
		return &Error{Code: ErrInvalidRequest, Message: "messages must not be empty", HTTPStatus: http.StatusBadRequest}
	}
	return nil
}

// Clone 返回请求的浅拷贝，Messages/Stop/Tools/Extra 复制一层，便于改写而不影响调用方。
func (r *ChatRequest) Clone() *ChatRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Messages = append([]Message(nil), r.Messages...)
	out.Stop = append([]string(nil), r.Stop...)
	out.Tools = append([]ToolSchema(nil), r.Tools...)
	if r.Extra != nil {
		out.Extra = make(map[string]any, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// LastUserMessage 返回最后一条 user 消息，找不到时返回空字符串。
func (r *ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatChoice struct {
	Index        int          `json:"index"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
}

type ChatResponse struct {
	ID       string       `json:"id"`
	Object   string       `json:"object"`
	Provider string       `json:"provider,omitempty"`
	Model    string       `json:"model"`
	Created  int64        `json:"created"`
	Choices  []ChatChoice `json:"choices"`
	Usage    *ChatUsage   `json:"usage,omitempty"`
}

type ChunkChoice struct {
	Index        int          `json:"index"`
	Delta        Message      `json:"delta"`
	FinishReason FinishReason `json:"finish_reason"`
	// Replace 为 true 时 Delta.Content 是完整答案，替换此前所有增量（如 Dify 审核后的 message_replace）。
	Replace      bool         `json:"replace,omitempty"`
}

// ChatChunk 流式增量分片。除最后一个分片外 FinishReason 为空（JSON null）。
type ChatChunk struct {
	ID       string        `json:"id"`
	Object   string        `json:"object"`
	Provider string        `json:"provider,omitempty"`
	Model    string        `json:"model"`
	Created  int64         `json:"created"`
	Choices  []ChunkChoice `json:"choices"`
	Usage    *ChatUsage    `json:"usage,omitempty"` // 最终 chunk 可带 usage
}

const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"
)

// Content 返回第一个 choice 的文本。
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// DeltaContent 返回第一个 choice 的增量文本。
func (c ChatChunk) DeltaContent() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// Replaces 报告第一个 choice 是否替换此前的文本。
func (c ChatChunk) Replaces() bool {
	return len(c.Choices) > 0 && c.Choices[0].Replace
}

// Finish 返回第一个 choice 的结束原因。
func (c ChatChunk) Finish() FinishReason {
	if len(c.Choices) == 0 {
		return FinishReasonNull
	}
	return c.Choices[0].FinishReason
}

// Provider 定义了统一的 LLM 适配接口。
// 每个服务商的实现只持有只读配置，可被多个 goroutine 并发调用。
type Provider interface {
	// Completion 发起同步聊天请求，返回完整响应
	Completion(ctx context.Context, req *ChatRequest, opts ...RequestOption) (*ChatResponse, error)

	// Stream 发起流式聊天请求，返回惰性增量序列；ctx 取消时底层 HTTP 流随之中断
	Stream(ctx context.Context, req *ChatRequest, opts ...RequestOption) (*ChatStream, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}

// ChatResult 是 Create 的结果，Response 与 Stream 二者恰有其一。
type ChatResult struct {
	Response *ChatResponse
	Stream   *ChatStream
}

// Create 按 req.Stream 在调用前决定返回形状：false 返回完整响应，true 返回惰性序列。
// ctx 是调用方的取消信号。
func Create(ctx context.Context, p Provider, req *ChatRequest, opts ...RequestOption) (*ChatResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Stream {
		s, err := p.Stream(ctx, req, opts...)
		if err != nil {
			return nil, err
		}
		return &ChatResult{Stream: s}, nil
	}
	resp, err := p.Completion(ctx, req, opts...)
	if err != nil {
		return nil, err
	}
	return &ChatResult{Response: resp}, nil
}
