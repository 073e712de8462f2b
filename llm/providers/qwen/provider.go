package qwen

import (
	"context"
	"net/http"
	"time"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/providers"
	"github.com/BaSui01/gptproxy/llm/transport"
	"go.uber.org/zap"
)

const (
	providerName   = "qwen"
	defaultBaseURL = "https://dashscope.aliyuncs.com"
	generationPath = "/api/v1/services/aigc/text-generation/generation"
	defaultModel   = "qwen-turbo"

	// DefaultResultFormat 未配置时的 result_format
	DefaultResultFormat = "text"

	// ChatIncrementalDefault 对话门面 stream_options.incremental_output 的默认值
	ChatIncrementalDefault = true

	// CompletionsIncrementalDefault 补全门面 incremental_output 的默认值（累积输出）
	CompletionsIncrementalDefault = false
)

// Option 配置 QwenProvider.
type Option func(*QwenProvider)

// WithClock 注入时钟。DashScope 响应不带时间戳，created 取本地时间.
func WithClock(now func() time.Time) Option {
	return func(p *QwenProvider) { p.now = now }
}

// QwenProvider 实现 DashScope 原生对话接口，同时通过 Completions 暴露 prompt 补全门面.
type QwenProvider struct {
	cfg    providers.QwenConfig
	client *transport.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewQwenProvider 创建新的 Qwen 提供者实例.
func NewQwenProvider(cfg providers.QwenConfig, logger *zap.Logger, opts ...Option) *QwenProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultFormat == "" {
		cfg.ResultFormat = DefaultResultFormat
	}
	p := &QwenProvider{
		cfg:    cfg,
		client: providers.NewTransport(providerName, cfg.BaseProviderConfig, defaultBaseURL, transport.BearerAuth{Key: cfg.APIKey}, logger),
		logger: logger.With(zap.String("provider", providerName)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *QwenProvider) Name() string { return providerName }

// Completions 返回 prompt 补全门面.
func (p *QwenProvider) Completions() *Completions {
	return &Completions{p: p}
}

// chatIncremental 解析对话门面的 incremental_output，未设置时取 ChatIncrementalDefault.
func chatIncremental(req *llm.ChatRequest) bool {
	if req.StreamOptions != nil && req.StreamOptions.IncrementalOutput != nil {
		return *req.StreamOptions.IncrementalOutput
	}
	return ChatIncrementalDefault
}

// BuildRequest 将统一对话请求转换为 DashScope 请求体（不含 Extra 透传字段）.
// 非流式请求不发送 incremental_output.
func (p *QwenProvider) BuildRequest(req *llm.ChatRequest, stream bool) *Request {
	body := &Request{
		Model: providers.ChooseModel(req, p.cfg.Model, defaultModel),
		Input: Input{Messages: toWireMessages(req.Messages)},
		Parameters: Parameters{
			ResultFormat: p.cfg.ResultFormat,
			Temperature:  req.Temperature,
			TopP:         req.TopP,
			Seed:         req.Seed,
			MaxTokens:    req.MaxTokens,
			Stop:         req.Stop,
			Tools:        toWireTools(req.Tools),
		},
	}
	if len(body.Parameters.Tools) > 0 {
		// 工具调用只在 message 格式下返回
		body.Parameters.ResultFormat = "message"
	}
	if stream {
		inc := chatIncremental(req)
		body.Parameters.IncrementalOutput = &inc
	}
	if v, ok := req.Extra["top_k"]; ok {
		body.Parameters.TopK = toInt(v)
	}
	if v, ok := req.Extra["enable_search"].(bool); ok {
		body.Parameters.EnableSearch = v
	}
	return body
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func (p *QwenProvider) prepareChat(req *llm.ChatRequest, stream bool) (*Request, any, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	wire := p.BuildRequest(req, stream)
	body, err := providers.MergeExtra(wire, req.Extra, "top_k", "enable_search")
	if err != nil {
		return nil, nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Provider: providerName, Cause: err}
	}
	return wire, body, nil
}

// Completion 发起同步对话请求.
func (p *QwenProvider) Completion(ctx context.Context, req *llm.ChatRequest, opts ...llm.RequestOption) (*llm.ChatResponse, error) {
	wire, body, err := p.prepareChat(req, false)
	if err != nil {
		return nil, err
	}
	return p.generate(ctx, wire.Model, body, opts)
}

// Stream 发起流式对话请求.
func (p *QwenProvider) Stream(ctx context.Context, req *llm.ChatRequest, opts ...llm.RequestOption) (*llm.ChatStream, error) {
	wire, body, err := p.prepareChat(req, true)
	if err != nil {
		return nil, err
	}
	return p.stream(ctx, wire, body, opts)
}

func (p *QwenProvider) generate(ctx context.Context, model string, body any, opts []llm.RequestOption) (*llm.ChatResponse, error) {
	var resp response
	raw, err := p.client.PostJSON(ctx, generationPath, body, llm.ResolveOptions(opts...), &resp)
	if err != nil {
		return nil, providers.FromTransportError(err, providerName, mapHTTPError)
	}
	if resp.Code != "" {
		return nil, newError(resp.Code, resp.Message, 0, raw)
	}
	if resp.Output == nil {
		return nil, llm.Malformed(providerName, "missing output", raw)
	}

	out := &llm.ChatResponse{
		ID:       resp.RequestID,
		Object:   llm.ObjectChatCompletion,
		Provider: providerName,
		Model:    model,
		Created:  p.now().Unix(),
		Usage:    resp.usage(),
	}
	if len(resp.Output.Choices) > 0 {
		for i, c := range resp.Output.Choices {
			role := llm.Role(c.Message.Role)
			if role == "" {
				role = llm.RoleAssistant
			}
			out.Choices = append(out.Choices, llm.ChatChoice{
				Index: i,
				Message: llm.Message{
					Role:      role,
					Content:   c.Message.Content,
					ToolCalls: fromWireToolCalls(c.Message.ToolCalls),
				},
				FinishReason: providers.NormalizeFinishReason(c.FinishReason, nil),
			})
		}
		return out, nil
	}
	out.Choices = []llm.ChatChoice{{
		Index:        0,
		Message:      llm.Message{Role: llm.RoleAssistant, Content: resp.Output.Text},
		FinishReason: providers.NormalizeFinishReason(resp.Output.FinishReason, nil),
	}}
	return out, nil
}

func (p *QwenProvider) stream(ctx context.Context, wire *Request, body any, opts []llm.RequestOption) (*llm.ChatStream, error) {
	o := llm.ResolveOptions(opts...)
	if o.Headers == nil {
		o.Headers = make(http.Header)
	}
	o.Headers.Set("X-DashScope-SSE", "enable")

	resp, err := p.client.PostStream(ctx, generationPath, body, o)
	if err != nil {
		return nil, providers.FromTransportError(err, providerName, mapHTTPError)
	}
	return providers.StartStream(ctx, providerName, resp.Body, newStreamHandler(wire.Model, wire.Parameters.Incremental(), p.now().Unix()))
}
