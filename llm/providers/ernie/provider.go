package ernie

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/middleware"
	"github.com/BaSui01/gptproxy/llm/providers"
	"github.com/BaSui01/gptproxy/llm/transport"
	"go.uber.org/zap"
)

const (
	providerName   = "ernie"
	defaultBaseURL = "https://aip.baidubce.com/rpc/2.0/ai_custom/v1/wenxinworkshop"
	defaultModel   = "ernie-bot"
)

// endpoints 模型名到 /chat/{endpoint} 的映射.
var endpoints = map[string]string{
	"ernie-bot":       "completions",
	"ernie-bot-turbo": "eb-instant",
	"ernie-bot-4":     "completions_pro",
	"ernie-bot-8k":    "ernie_bot_8k",
	"ernie-3.5-8k":    "completions",
	"ernie-4.0-8k":    "completions_pro",
	"ernie-speed":     "ernie_speed",
	"ernie-lite-8k":   "ernie-lite-8k",
	"bloomz-7b":       "bloomz_7b1",
	"llama-2-7b-chat": "llama_2_7b",
}

// Endpoint 返回模型对应的接口名，未知模型名原样返回（千帆自定义部署的 endpoint）.
func Endpoint(model string) string {
	if ep, ok := endpoints[strings.ToLower(model)]; ok {
		return ep
	}
	return model
}

// ErnieProvider 实现百度文心 LLM 提供者.
type ErnieProvider struct {
	cfg           providers.ErnieConfig
	client        *transport.Client
	logger        *zap.Logger
	rewriterChain *middleware.RewriterChain
}

// NewErnieProvider 创建新的文心提供者实例. cfg.APIKey 即 access_token.
func NewErnieProvider(cfg providers.ErnieConfig, logger *zap.Logger) *ErnieProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	auth := transport.QueryTokenAuth{Param: "access_token", Token: cfg.APIKey}
	return &ErnieProvider{
		cfg:    cfg,
		client: providers.NewTransport(providerName, cfg.BaseProviderConfig, defaultBaseURL, auth, logger),
		logger: logger.With(zap.String("provider", providerName)),
		rewriterChain: middleware.NewRewriterChain(
			// temperature 取值 (0, 1.0]，top_p 取值 [0, 1.0]
			middleware.NewTemperatureClamp(0.01, 1.0),
		),
	}
}

func (p *ErnieProvider) Name() string { return providerName }

// Request 文心 chat 请求体.
type Request struct {
	Messages        []message  `json:"messages"`
	System          string     `json:"system,omitempty"`
	Temperature     *float32   `json:"temperature,omitempty"`
	TopP            *float32   `json:"top_p,omitempty"`
	Stream          bool       `json:"stream,omitempty"`
	Stop            []string   `json:"stop,omitempty"`
	MaxOutputTokens int        `json:"max_output_tokens,omitempty"`
	UserID          string     `json:"user_id,omitempty"`
	Functions       []function `json:"functions,omitempty"`
}

type message struct {
	Role         string        `json:"role"`
	Content      string        `json:"content"`
	Name         string        `json:"name,omitempty"`
	FunctionCall *functionCall `json:"function_call,omitempty"`
}

type function struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Thoughts  string `json:"thoughts,omitempty"`
}

// BuildRequest 将统一请求转换为文心请求体（不含 Extra 透传字段）.
// system 消息被提取到顶层 system 字段，多条以换行连接.
func (p *ErnieProvider) BuildRequest(req *llm.ChatRequest, stream bool) *Request {
	body := &Request{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		Stream:          stream,
		Stop:            req.Stop,
		MaxOutputTokens: req.MaxTokens,
		UserID:          req.User,
	}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleTool:
			body.Messages = append(body.Messages, message{Role: "function", Name: m.Name, Content: m.Content})
		default:
			wm := message{Role: string(m.Role), Content: m.Content}
			if len(m.ToolCalls) > 0 {
				tc := m.ToolCalls[0]
				wm.FunctionCall = &functionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments}
			}
			body.Messages = append(body.Messages, wm)
		}
	}
	body.System = strings.Join(system, "\n")

	for _, t := range req.Tools {
		body.Functions = append(body.Functions, function{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return body
}

func (p *ErnieProvider) prepare(ctx context.Context, req *llm.ChatRequest, stream bool) (string, any, error) {
	if err := req.Validate(); err != nil {
		return "", nil, err
	}
	rewritten, err := p.rewriterChain.Execute(ctx, req)
	if err != nil {
		return "", nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    fmt.Sprintf("request rewrite failed: %v", err),
			HTTPStatus: http.StatusBadRequest,
			Provider:   providerName,
			Cause:      err,
		}
	}
	body, err := providers.MergeExtra(p.BuildRequest(rewritten, stream), rewritten.Extra)
	if err != nil {
		return "", nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Provider: providerName, Cause: err}
	}
	path := "/chat/" + Endpoint(p.model(req))
	return path, body, nil
}

func (p *ErnieProvider) model(req *llm.ChatRequest) string {
	return providers.ChooseModel(req, p.cfg.Model, defaultModel)
}

// response 文心响应体，整包与流式事件共用.
type response struct {
	apiError
	ID               string         `json:"id"`
	Object           string         `json:"object"`
	Created          int64          `json:"created"`
	SentenceID       int            `json:"sentence_id"`
	IsEnd            bool           `json:"is_end"`
	IsTruncated      bool           `json:"is_truncated"`
	Result           *string        `json:"result"`
	FinishReason     string         `json:"finish_reason"`
	NeedClearHistory bool           `json:"need_clear_history"`
	FunctionCall     *functionCall  `json:"function_call,omitempty"`
	Usage            *llm.ChatUsage `json:"usage,omitempty"`
}

var finishAliases = map[string]llm.FinishReason{
	"normal": llm.FinishReasonStop,
}

func (r *response) finish() llm.FinishReason {
	if r.FunctionCall != nil && r.FinishReason == "" {
		return llm.FinishReasonFunctionCall
	}
	return providers.NormalizeFinishReason(r.FinishReason, finishAliases)
}

func (r *response) toMessage() llm.Message {
	msg := llm.Message{Role: llm.RoleAssistant}
	if r.Result != nil {
		msg.Content = *r.Result
	}
	if r.FunctionCall != nil {
		msg.ToolCalls = []llm.ToolCall{{
			Index:    0,
			ID:       r.ID,
			Type:     "function",
			Function: llm.FunctionCall{Name: r.FunctionCall.Name, Arguments: r.FunctionCall.Arguments},
		}}
	}
	return msg
}

// Completion 发起同步请求.
func (p *ErnieProvider) Completion(ctx context.Context, req *llm.ChatRequest, opts ...llm.RequestOption) (*llm.ChatResponse, error) {
	path, body, err := p.prepare(ctx, req, false)
	if err != nil {
		return nil, err
	}

	var resp response
	raw, err := p.client.PostJSON(ctx, path, body, llm.ResolveOptions(opts...), &resp)
	if err != nil {
		return nil, providers.FromTransportError(err, providerName, mapHTTPError)
	}
	// 先检查错误码，错误体不能被当作正常内容解析
	if err := resp.check(raw); err != nil {
		return nil, err
	}
	if resp.Result == nil && resp.FunctionCall == nil {
		return nil, llm.Malformed(providerName, "missing result", raw)
	}

	finish := resp.finish()
	if finish.IsNull() {
		finish = llm.FinishReasonStop
	}
	return &llm.ChatResponse{
		ID:       resp.ID,
		Object:   llm.ObjectChatCompletion,
		Provider: providerName,
		Model:    p.model(req),
		Created:  resp.Created,
		Choices:  []llm.ChatChoice{{Index: 0, Message: resp.toMessage(), FinishReason: finish}},
		Usage:    resp.Usage,
	}, nil
}

// Stream 发起流式请求.
// 参数或鉴权错误时文心以 application/json 整包返回错误，而不是 SSE.
func (p *ErnieProvider) Stream(ctx context.Context, req *llm.ChatRequest, opts ...llm.RequestOption) (*llm.ChatStream, error) {
	path, body, err := p.prepare(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.PostStream(ctx, path, body, llm.ResolveOptions(opts...))
	if err != nil {
		return nil, providers.FromTransportError(err, providerName, mapHTTPError)
	}
	if isJSON(resp.Header.Get("Content-Type")) {
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, &llm.TransportError{Provider: providerName, Op: "read body", Err: err}
		}
		var r response
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, llm.Malformed(providerName, "invalid JSON body: "+err.Error(), raw)
		}
		if err := r.check(raw); err != nil {
			return nil, err
		}
		return nil, llm.Malformed(providerName, "expected event stream, got JSON body", raw)
	}
	return providers.StartStream(ctx, providerName, resp.Body, &streamHandler{model: p.model(req)})
}

// mapHTTPError 处理网关层面的非 200 响应，响应体带错误码时优先使用错误码.
func mapHTTPError(status int, body []byte) *llm.Error {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.code() == 0 {
		return nil
	}
	out := newError(e.code(), e.message(), body)
	if out.HTTPStatus == 0 {
		out = providers.MapHTTPError(status, out.Message, providerName)
		out.VendorCode = fmt.Sprint(e.code())
	}
	return out
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

// streamHandler 每个 data 事件对应一个分片；is_end 为 true 的事件是最后一个.
type streamHandler struct {
	model string
	ended bool
}

func (h *streamHandler) Handle(ev transport.Event) (*llm.ChatChunk, error) {
	data := strings.TrimSpace(ev.Data)
	if data == "" {
		return nil, nil
	}
	var r response
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, llm.Malformed(providerName, "invalid stream event: "+err.Error(), []byte(data))
	}
	if err := r.check([]byte(data)); err != nil {
		return nil, err
	}

	finish := llm.FinishReasonNull
	if r.IsEnd {
		h.ended = true
		finish = r.finish()
		if finish.IsNull() {
			finish = llm.FinishReasonStop
		}
	}
	delta := r.toMessage()
	return &llm.ChatChunk{
		ID:       r.ID,
		Object:   llm.ObjectChatCompletionChunk,
		Provider: providerName,
		Model:    h.model,
		Created:  r.Created,
		Choices:  []llm.ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		Usage:    r.Usage,
	}, nil
}

func (h *streamHandler) Done() bool  { return h.ended }
func (h *streamHandler) Final() bool { return h.ended }
