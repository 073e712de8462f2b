package qwen

import (
	"encoding/json"

	"github.com/BaSui01/gptproxy/llm"
)

// Request DashScope text-generation 请求体.
type Request struct {
	Model      string     `json:"model"`
	Input      Input      `json:"input"`
	Parameters Parameters `json:"parameters"`
}

type Input struct {
	Messages []Message `json:"messages,omitempty"`
	Prompt   string    `json:"prompt,omitempty"`
}

type Parameters struct {
	ResultFormat      string   `json:"result_format,omitempty"`
	IncrementalOutput *bool    `json:"incremental_output,omitempty"`
	Temperature       *float32 `json:"temperature,omitempty"`
	TopP              *float32 `json:"top_p,omitempty"`
	TopK              int      `json:"top_k,omitempty"`
	Seed              *int     `json:"seed,omitempty"`
	MaxTokens         int      `json:"max_tokens,omitempty"`
	Stop              []string `json:"stop,omitempty"`
	EnableSearch      bool     `json:"enable_search,omitempty"`
	Tools             []Tool   `json:"tools,omitempty"`
}

// Incremental 报告服务端是否按增量输出；incremental_output 未发送时为累积输出.
func (p Parameters) Incremental() bool {
	return p.IncrementalOutput != nil && *p.IncrementalOutput
}

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type Tool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

// response 整包响应与流式 result 事件共用；错误时只有 code/message.
type response struct {
	RequestID string `json:"request_id"`
	Output    *struct {
		Text         string   `json:"text"`
		FinishReason string   `json:"finish_reason"`
		Choices      []choice `json:"choices"`
	} `json:"output"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

func (r *response) usage() *llm.ChatUsage {
	if r.Usage == nil {
		return nil
	}
	total := r.Usage.TotalTokens
	if total == 0 {
		total = r.Usage.InputTokens + r.Usage.OutputTokens
	}
	return &llm.ChatUsage{
		PromptTokens:     r.Usage.InputTokens,
		CompletionTokens: r.Usage.OutputTokens,
		TotalTokens:      total,
	}
}

func toWireMessages(msgs []llm.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		wm := Message{Role: string(m.Role), Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			var w ToolCall
			w.ID = tc.ID
			w.Type = "function"
			w.Function.Name = tc.Function.Name
			w.Function.Arguments = tc.Function.Arguments
			wm.ToolCalls = append(wm.ToolCalls, w)
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(tools []llm.ToolSchema) []Tool {
	var out []Tool
	for _, t := range tools {
		var w Tool
		w.Type = "function"
		w.Function.Name = t.Name
		w.Function.Description = t.Description
		w.Function.Parameters = t.Parameters
		out = append(out, w)
	}
	return out
}

func fromWireToolCalls(calls []ToolCall) []llm.ToolCall {
	var out []llm.ToolCall
	for i, tc := range calls {
		idx := i
		if tc.Index != nil {
			idx = *tc.Index
		}
		out = append(out, llm.ToolCall{
			Index:    idx,
			ID:       tc.ID,
			Type:     tc.Type,
			Function: llm.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	return out
}
