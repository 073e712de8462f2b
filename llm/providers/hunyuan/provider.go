package hunyuan

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/providers"
	"github.com/BaSui01/gptproxy/llm/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	providerName   = "hunyuan"
	defaultBaseURL = "https://hunyuan.cloud.tencent.com/hyllm/v1"
	chatPath       = "/chat/completions"

	// ExpiresIn 签名有效期（秒），expired = timestamp + ExpiresIn
	ExpiresIn = 7200

	DefaultTemperature float32 = 0.8
	DefaultTopP        float32 = 0.8
)

// Option 配置 HunyuanProvider.
type Option func(*HunyuanProvider)

// WithClock 注入时钟，用于生成 timestamp.
func WithClock(now func() time.Time) Option {
	return func(p *HunyuanProvider) { p.now = now }
}

// WithQueryID 注入 query_id 生成器.
func WithQueryID(next func() string) Option {
	return func(p *HunyuanProvider) { p.queryID = next }
}

// HunyuanProvider 实现腾讯混元原生接口.
type HunyuanProvider struct {
	cfg     providers.HunyuanConfig
	creds   llm.Credentials
	client  *transport.Client
	logger  *zap.Logger
	now     func() time.Time
	queryID func() string
}

// NewHunyuanProvider 创建新的混元提供者实例.
func NewHunyuanProvider(cfg providers.HunyuanConfig, logger *zap.Logger, opts ...Option) *HunyuanProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &HunyuanProvider{
		cfg:     cfg,
		creds:   llm.Credentials{AppID: cfg.AppID, SecretID: cfg.SecretID, SecretKey: cfg.SecretKey},
		logger:  logger.With(zap.String("provider", providerName)),
		now:     time.Now,
		queryID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.client = providers.NewTransport(providerName, cfg.BaseProviderConfig, defaultBaseURL, Signer{SecretKey: cfg.SecretKey}, logger)
	return p
}

func (p *HunyuanProvider) Name() string { return providerName }

// Request 混元请求体. AppID 为数字形式时按数字发送.
type Request struct {
	AppID       any       `json:"app_id"`
	SecretID    string    `json:"secret_id"`
	Timestamp   int64     `json:"timestamp"`
	Expired     int64     `json:"expired"`
	QueryID     string    `json:"query_id"`
	Temperature float32   `json:"temperature"`
	TopP        float32   `json:"top_p"`
	Stream      int       `json:"stream"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildRequest 将统一请求转换为混元请求体. 每次调用取新的 timestamp 与 query_id，
// 其余字段只由 req 与配置决定.
func (p *HunyuanProvider) BuildRequest(req *llm.ChatRequest, stream bool) *Request {
	ts := p.now().Unix()
	body := &Request{
		AppID:       appID(p.creds.AppID),
		SecretID:    p.creds.SecretID,
		Timestamp:   ts,
		Expired:     ts + ExpiresIn,
		QueryID:     p.queryID(),
		Temperature: providers.Float32Or(req.Temperature, DefaultTemperature),
		TopP:        providers.Float32Or(req.TopP, DefaultTopP),
		Messages:    make([]message, 0, len(req.Messages)),
	}
	if stream {
		body.Stream = 1
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, message{Role: string(m.Role), Content: m.Content})
	}
	return body
}

func appID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

type response struct {
	ID      string             `json:"id"`
	Created providers.UnixTime `json:"created"`
	Note    string             `json:"note"`
	ReqID   string             `json:"req_id"`
	Choices []struct {
		FinishReason string   `json:"finish_reason"`
		Messages     *message `json:"messages,omitempty"`
		Delta        *message `json:"delta,omitempty"`
	} `json:"choices"`
	Usage *llm.ChatUsage `json:"usage,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// check 在任何形状转换之前检查 error.code.
func (r *response) check(status int, raw []byte) error {
	if r.Error == nil || r.Error.Code == 0 {
		return nil
	}
	msg := r.Error.Message
	if msg == "" {
		msg = "hunyuan error " + strconv.Itoa(r.Error.Code)
	}
	var e *llm.Error
	if status >= 400 {
		e = providers.MapHTTPError(status, msg, providerName)
	} else {
		// 混元业务错误码没有 HTTP 语义
		e = &llm.Error{Code: llm.ErrUnmapped, Message: msg, Provider: providerName}
	}
	e.VendorCode = strconv.Itoa(r.Error.Code)
	if json.Valid(raw) {
		e.Body = json.RawMessage(raw)
	}
	return e
}

func (p *HunyuanProvider) prepare(req *llm.ChatRequest, stream bool) (*Request, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if p.creds.SecretKey == "" || p.creds.SecretID == "" {
		return nil, &llm.Error{
			Code:       llm.ErrUnauthorized,
			Message:    "hunyuan requires secret_id and secret_key",
			HTTPStatus: http.StatusUnauthorized,
			Provider:   providerName,
		}
	}
	return p.BuildRequest(req, stream), nil
}

// Completion 发起同步请求.
func (p *HunyuanProvider) Completion(ctx context.Context, req *llm.ChatRequest, opts ...llm.RequestOption) (*llm.ChatResponse, error) {
	body, err := p.prepare(req, false)
	if err != nil {
		return nil, err
	}

	var resp response
	raw, err := p.client.PostJSON(ctx, chatPath, body, llm.ResolveOptions(opts...), &resp)
	if err != nil {
		return nil, providers.FromTransportError(err, providerName, mapHTTPError)
	}
	if err := resp.check(http.StatusOK, raw); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Messages == nil {
		return nil, llm.Malformed(providerName, "missing choices[0].messages", raw)
	}

	c := resp.Choices[0]
	role := llm.Role(c.Messages.Role)
	if role == "" {
		role = llm.RoleAssistant
	}
	return &llm.ChatResponse{
		ID:       resp.ID,
		Object:   llm.ObjectChatCompletion,
		Provider: providerName,
		Model:    providers.ChooseModel(req, p.cfg.Model, providerName),
		Created:  resp.Created.Int64(),
		Choices: []llm.ChatChoice{{
			Index:        0,
			Message:      llm.Message{Role: role, Content: c.Messages.Content},
			FinishReason: providers.NormalizeFinishReason(c.FinishReason, nil),
		}},
		Usage: resp.Usage,
	}, nil
}

// Stream 发起流式请求.
func (p *HunyuanProvider) Stream(ctx context.Context, req *llm.ChatRequest, opts ...llm.RequestOption) (*llm.ChatStream, error) {
	body, err := p.prepare(req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.PostStream(ctx, chatPath, body, llm.ResolveOptions(opts...))
	if err != nil {
		return nil, providers.FromTransportError(err, providerName, mapHTTPError)
	}
	handler := &streamHandler{model: providers.ChooseModel(req, p.cfg.Model, providerName)}
	return providers.StartStream(ctx, providerName, resp.Body, handler)
}

func mapHTTPError(status int, body []byte) *llm.Error {
	var r response
	if err := json.Unmarshal(body, &r); err != nil || r.Error == nil || r.Error.Code == 0 {
		return nil
	}
	if e, ok := llm.AsError(r.check(status, body)); ok {
		return e
	}
	return nil
}

// streamHandler 每个 data 事件对应一个分片，finish_reason 非空的事件为最后一个.
type streamHandler struct {
	model    string
	finished bool
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
	if err := r.check(0, []byte(data)); err != nil {
		return nil, err
	}

	chunk := &llm.ChatChunk{
		ID:       r.ID,
		Object:   llm.ObjectChatCompletionChunk,
		Provider: providerName,
		Model:    h.model,
		Created:  r.Created.Int64(),
		Usage:    r.Usage,
	}
	for i, c := range r.Choices {
		d := c.Delta
		if d == nil {
			d = c.Messages
		}
		var delta llm.Message
		if d != nil {
			delta = llm.Message{Role: llm.Role(d.Role), Content: d.Content}
		}
		fr := providers.NormalizeFinishReason(c.FinishReason, nil)
		if !fr.IsNull() {
			h.finished = true
		}
		chunk.Choices = append(chunk.Choices, llm.ChunkChoice{Index: i, Delta: delta, FinishReason: fr})
	}
	return chunk, nil
}

func (h *streamHandler) Done() bool  { return h.finished }
func (h *streamHandler) Final() bool { return h.finished }
