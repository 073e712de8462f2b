package dify

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/providers"
	"github.com/BaSui01/gptproxy/llm/transport"
	"go.uber.org/zap"
)

const (
	providerName   = "dify"
	defaultBaseURL = "https://api.dify.ai/v1"
	chatPath       = "/chat-messages"
	defaultUser    = "gptproxy"
)

// DifyProvider 实现 Dify 应用对话接口.
type DifyProvider struct {
	cfg    providers.DifyConfig
	client *transport.Client
	logger *zap.Logger
}

// NewDifyProvider 创建新的 Dify 提供者实例.
func NewDifyProvider(cfg providers.DifyConfig, logger *zap.Logger) *DifyProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.User == "" {
		cfg.User = defaultUser
	}
	return &DifyProvider{
		cfg:    cfg,
		client: providers.NewTransport(providerName, cfg.BaseProviderConfig, defaultBaseURL, transport.BearerAuth{Key: cfg.APIKey}, logger),
		logger: logger.With(zap.String("provider", providerName)),
	}
}

func (p *DifyProvider) Name() string { return providerName }

// Request Dify chat-messages 请求体.
type Request struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	ConversationID string         `json:"conversation_id,omitempty"`
	User           string         `json:"user"`
}

// BuildRequest 将统一请求转换为 Dify 请求体（不含 Extra 透传字段）.
func (p *DifyProvider) BuildRequest(req *llm.ChatRequest, stream bool) *Request {
	inputs, _ := req.Extra["inputs"].(map[string]any)
	if inputs == nil {
		inputs = map[string]any{}
	}
	user := req.User
	if user == "" {
		user = p.cfg.User
	}
	mode := "blocking"
	if stream {
		mode = "streaming"
	}
	return &Request{
		Inputs:         inputs,
		Query:          req.LastUserMessage(),
		ResponseMode:   mode,
		ConversationID: providers.StringExtra(req.Extra, "conversation_id"),
		User:           user,
	}
}

func (p *DifyProvider) prepare(req *llm.ChatRequest, stream bool) (any, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body := p.BuildRequest(req, stream)
	if body.Query == "" {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "dify requires at least one user message",
			HTTPStatus: http.StatusBadRequest,
			Provider:   providerName,
		}
	}
	merged, err := providers.MergeExtra(body, req.Extra, "inputs", "conversation_id")
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Provider: providerName, Cause: err}
	}
	return merged, nil
}

// response 阻塞模式响应，也是流式事件的公共形状.
type response struct {
	Event          string             `json:"event"`
	TaskID         string             `json:"task_id"`
	ID             string             `json:"id"`
	MessageID      string             `json:"message_id"`
	ConversationID string             `json:"conversation_id"`
	Answer         string             `json:"answer"`
	CreatedAt      providers.UnixTime `json:"created_at"`
	Metadata       *struct {
		Usage *usage `json:"usage"`
	} `json:"metadata,omitempty"`

	// 错误事件字段
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (r *response) messageID() string {
	if r.MessageID != "" {
		return r.MessageID
	}
	return r.ID
}

func (r *response) usage() *llm.ChatUsage {
	if r.Metadata == nil || r.Metadata.Usage == nil {
		return nil
	}
	u := r.Metadata.Usage
	return &llm.ChatUsage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

func (p *DifyProvider) model(req *llm.ChatRequest) string {
	return providers.ChooseModel(req, p.cfg.Model, providerName)
}

// Completion 以 blocking 模式调用 Dify.
func (p *DifyProvider) Completion(ctx context.Context, req *llm.ChatRequest, opts ...llm.RequestOption) (*llm.ChatResponse, error) {
	body, err := p.prepare(req, false)
	if err != nil {
		return nil, err
	}

	var resp response
	raw, err := p.client.PostJSON(ctx, chatPath, body, llm.ResolveOptions(opts...), &resp)
	if err != nil {
		return nil, providers.FromTransportError(err, providerName, mapError)
	}
	if resp.Event == "error" || (resp.Code != "" && resp.messageID() == "") {
		return nil, eventError(&resp, raw)
	}
	if resp.messageID() == "" {
		return nil, llm.Malformed(providerName, "missing message_id", raw)
	}

	return &llm.ChatResponse{
		ID:       resp.messageID(),
		Object:   llm.ObjectChatCompletion,
		Provider: providerName,
		Model:    p.model(req),
		Created:  resp.CreatedAt.Int64(),
		Choices: []llm.ChatChoice{{
			Index:        0,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: resp.Answer},
			FinishReason: llm.FinishReasonStop,
		}},
		Usage: resp.usage(),
	}, nil
}

// Stream 以 streaming 模式调用 Dify.
func (p *DifyProvider) Stream(ctx context.Context, req *llm.ChatRequest, opts ...llm.RequestOption) (*llm.ChatStream, error) {
	body, err := p.prepare(req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.PostStream(ctx, chatPath, body, llm.ResolveOptions(opts...))
	if err != nil {
		return nil, providers.FromTransportError(err, providerName, mapError)
	}
	return providers.StartStream(ctx, providerName, resp.Body, &streamHandler{model: p.model(req)})
}

// errorCodes Dify 业务错误码到 HTTP 语义的映射，响应体未携带 status 时使用.
var errorCodes = map[string]int{
	"invalid_param":               http.StatusBadRequest,
	"app_unavailable":             http.StatusBadRequest,
	"provider_not_initialize":     http.StatusBadRequest,
	"provider_quota_exceeded":     http.StatusBadRequest,
	"model_currently_not_support": http.StatusBadRequest,
	"completion_request_error":    http.StatusBadRequest,
	"unauthorized":                http.StatusUnauthorized,
	"not_found":                   http.StatusNotFound,
	"conversation_not_exists":     http.StatusNotFound,
	"too_many_requests":           http.StatusTooManyRequests,
	"internal_server_error":       http.StatusInternalServerError,
}

// mapError 解析 {"status","code","message"} 错误体.
func mapError(status int, body []byte) *llm.Error {
	var r response
	if err := json.Unmarshal(body, &r); err != nil || (r.Code == "" && r.Message == "") {
		return nil
	}
	if r.Status == 0 {
		r.Status = status
	}
	return eventError(&r, body)
}

func eventError(r *response, raw []byte) *llm.Error {
	status := r.Status
	if status == 0 {
		status = errorCodes[r.Code]
	}
	msg := r.Message
	if msg == "" {
		msg = "dify error"
	}

	var e *llm.Error
	if status == 0 {
		e = &llm.Error{Code: llm.ErrUnmapped, Message: msg, Provider: providerName}
	} else {
		e = providers.MapHTTPError(status, msg, providerName)
	}
	e.VendorCode = r.Code
	if r.Code == "provider_quota_exceeded" {
		e.Code = llm.ErrQuotaExceeded
	}
	if json.Valid(raw) {
		e.Body = json.RawMessage(raw)
	}
	return e
}
