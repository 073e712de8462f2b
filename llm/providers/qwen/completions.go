package qwen

import (
	"context"
	"net/http"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/providers"
)

// CompletionRequest prompt 补全请求.
// IncrementalOutput 为 nil 时取 CompletionsIncrementalDefault（累积输出）.
type CompletionRequest struct {
	Model             string         `json:"model"`
	Prompt            string         `json:"prompt"`
	Temperature       *float32       `json:"temperature,omitempty"`
	TopP              *float32       `json:"top_p,omitempty"`
	TopK              int            `json:"top_k,omitempty"`
	Seed              *int           `json:"seed,omitempty"`
	MaxTokens         int            `json:"max_tokens,omitempty"`
	Stop              []string       `json:"stop,omitempty"`
	EnableSearch      bool           `json:"enable_search,omitempty"`
	Stream            bool           `json:"stream,omitempty"`
	IncrementalOutput *bool          `json:"incremental_output,omitempty"`
	Extra             map[string]any `json:"-"`
}

// Completions prompt 补全门面，由 QwenProvider.Completions 创建，无自身状态.
type Completions struct {
	p *QwenProvider
}

// BuildRequest 将补全请求转换为 DashScope 请求体.
// 流式且未设置 IncrementalOutput 时不发送该字段，服务端按累积模式输出.
func (c *Completions) BuildRequest(req *CompletionRequest) *Request {
	model := req.Model
	if model == "" {
		model = providers.ChooseModel(nil, c.p.cfg.Model, defaultModel)
	}
	body := &Request{
		Model: model,
		Input: Input{Prompt: req.Prompt},
		Parameters: Parameters{
			ResultFormat: c.p.cfg.ResultFormat,
			Temperature:  req.Temperature,
			TopP:         req.TopP,
			TopK:         req.TopK,
			Seed:         req.Seed,
			MaxTokens:    req.MaxTokens,
			Stop:         req.Stop,
			EnableSearch: req.EnableSearch,
		},
	}
	if req.Stream && req.IncrementalOutput != nil {
		inc := *req.IncrementalOutput
		body.Parameters.IncrementalOutput = &inc
	}
	return body
}

// Create 按 req.Stream 返回完整响应或惰性增量序列.
func (c *Completions) Create(ctx context.Context, req *CompletionRequest, opts ...llm.RequestOption) (*llm.ChatResult, error) {
	if req == nil || req.Prompt == "" {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "prompt must not be empty", HTTPStatus: http.StatusBadRequest, Provider: providerName}
	}
	wire := c.BuildRequest(req)
	body, err := providers.MergeExtra(wire, req.Extra)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Provider: providerName, Cause: err}
	}

	if req.Stream {
		s, err := c.p.stream(ctx, wire, body, opts)
		if err != nil {
			return nil, err
		}
		return &llm.ChatResult{Stream: s}, nil
	}
	resp, err := c.p.generate(ctx, wire.Model, body, opts)
	if err != nil {
		return nil, err
	}
	return &llm.ChatResult{Response: resp}, nil
}
