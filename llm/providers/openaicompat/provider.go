// =============================================================================
// OpenAI-Compatible Provider
// =============================================================================
// Shared implementation for every vendor speaking the Chat Completions format.
// The factory uses it for "openai", "openaicompat" and any unknown vendor
// configured with a base URL.
// =============================================================================

package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/middleware"
	"github.com/BaSui01/gptproxy/llm/providers"
	"github.com/BaSui01/gptproxy/llm/transport"
	"go.uber.org/zap"
)

const (
	defaultBaseURL      = "https://api.openai.com"
	defaultEndpointPath = "/v1/chat/completions"
	defaultModel        = "gpt-4o-mini"
)

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	// ProviderName is the unique identifier for this provider (e.g., "openai", "deepseek").
	ProviderName string

	providers.OpenAICompatConfig

	// FallbackModel is used when both request and Model are empty.
	FallbackModel string
}

// Provider talks to one OpenAI-compatible endpoint. It holds only read-only
// configuration and is safe for concurrent use.
type Provider struct {
	cfg           Config
	client        *transport.Client
	logger        *zap.Logger
	rewriterChain *middleware.RewriterChain
}

// New creates a new OpenAI-compatible provider with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openaicompat"
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = defaultEndpointPath
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := cfg.BaseProviderConfig
	if cfg.Organization != "" {
		headers := make(map[string]string, len(base.DefaultHeaders)+1)
		for k, v := range base.DefaultHeaders {
			headers[k] = v
		}
		headers["OpenAI-Organization"] = cfg.Organization
		base.DefaultHeaders = headers
	}

	return &Provider{
		cfg:    cfg,
		client: providers.NewTransport(cfg.ProviderName, base, defaultBaseURL, transport.BearerAuth{Key: cfg.APIKey}, logger),
		logger: logger.With(zap.String("provider", cfg.ProviderName)),
		rewriterChain: middleware.NewRewriterChain(
			middleware.NewEmptyToolsCleaner(),
		),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.cfg.ProviderName }

// EndpointPath returns the chat completions path in use.
func (p *Provider) EndpointPath() string { return p.cfg.EndpointPath }

// Completion performs a non-streaming chat completion.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest, opts ...llm.RequestOption) (*llm.ChatResponse, error) {
	body, err := p.prepare(ctx, req, false)
	if err != nil {
		return nil, err
	}

	var resp Response
	raw, err := p.client.PostJSON(ctx, p.cfg.EndpointPath, body, llm.ResolveOptions(opts...), &resp)
	if err != nil {
		return nil, providers.FromTransportError(err, p.Name(), p.mapError)
	}
	if resp.Error != nil {
		return nil, resp.Error.toError(0, p.Name(), raw)
	}
	return p.toResponse(&resp, raw)
}

// Stream performs a streaming chat completion via SSE.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest, opts ...llm.RequestOption) (*llm.ChatStream, error) {
	body, err := p.prepare(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.PostStream(ctx, p.cfg.EndpointPath, body, llm.ResolveOptions(opts...))
	if err != nil {
		return nil, providers.FromTransportError(err, p.Name(), p.mapError)
	}
	return providers.StartStream(ctx, p.Name(), resp.Body, newStreamHandler(p.Name()))
}

// BuildRequest translates the unified request into the wire body without
// Extra merged in.
func (p *Provider) BuildRequest(req *llm.ChatRequest, stream bool) *Request {
	body := &Request{
		Model:       providers.ChooseModel(req, p.cfg.Model, p.cfg.FallbackModel),
		Messages:    toWireMessages(req.Messages),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Seed:        req.Seed,
		Tools:       toWireTools(req.Tools),
		ToolChoice:  toWireToolChoice(req.ToolChoice),
		User:        req.User,
		Stream:      stream,
	}
	if stream && req.StreamOptions != nil && req.StreamOptions.IncludeUsage {
		body.StreamOptions = &StreamOptions{IncludeUsage: true}
	}
	return body
}

func (p *Provider) prepare(ctx context.Context, req *llm.ChatRequest, stream bool) (any, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Apply rewriter chain
	rewritten, err := p.rewriterChain.Execute(ctx, req)
	if err != nil {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    fmt.Sprintf("request rewrite failed: %v", err),
			HTTPStatus: http.StatusBadRequest,
			Provider:   p.Name(),
			Cause:      err,
		}
	}

	body, err := providers.MergeExtra(p.BuildRequest(rewritten, stream), rewritten.Extra)
	if err != nil {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadRequest,
			Provider:   p.Name(),
			Cause:      err,
		}
	}
	return body, nil
}

func (p *Provider) toResponse(resp *Response, raw []byte) (*llm.ChatResponse, error) {
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return nil, llm.Malformed(p.Name(), "missing choices[0].message", raw)
	}
	out := &llm.ChatResponse{
		ID:       resp.ID,
		Object:   llm.ObjectChatCompletion,
		Provider: p.Name(),
		Model:    resp.Model,
		Created:  resp.Created.Int64(),
		Usage:    resp.Usage,
	}
	for _, c := range resp.Choices {
		msg := fromWireMessage(c.Message)
		if msg.Role == "" {
			msg.Role = llm.RoleAssistant
		}
		out.Choices = append(out.Choices, llm.ChatChoice{
			Index:        c.Index,
			Message:      msg,
			FinishReason: finishReason(c.FinishReason),
		})
	}
	return out, nil
}

// mapError keeps the vendor's error code next to the status-derived mapping.
func (p *Provider) mapError(status int, body []byte) *llm.Error {
	var env struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		return env.Error.toError(status, p.Name(), body)
	}
	return providers.MapHTTPError(status, providers.ReadErrorMessage(body), p.Name())
}

// streamHandler turns "data:" events into chunks. [DONE] ends the stream; a
// finish_reason alone makes EOF a clean end, since some vendors omit [DONE].
type streamHandler struct {
	provider string
	finished bool
	done     bool
}

func newStreamHandler(provider string) *streamHandler {
	return &streamHandler{provider: provider}
}

func (h *streamHandler) Handle(ev transport.Event) (*llm.ChatChunk, error) {
	data := strings.TrimSpace(ev.Data)
	if data == "" {
		return nil, nil
	}
	if data == "[DONE]" {
		h.done = true
		return nil, nil
	}

	var resp Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return nil, llm.Malformed(h.provider, "invalid stream event: "+err.Error(), []byte(data))
	}
	if resp.Error != nil {
		return nil, resp.Error.toError(0, h.provider, []byte(data))
	}

	chunk := &llm.ChatChunk{
		ID:       resp.ID,
		Object:   llm.ObjectChatCompletionChunk,
		Provider: h.provider,
		Model:    resp.Model,
		Created:  resp.Created.Int64(),
		Choices:  make([]llm.ChunkChoice, 0, len(resp.Choices)),
		Usage:    resp.Usage,
	}
	for _, c := range resp.Choices {
		delta := c.Delta
		if delta == nil {
			delta = c.Message
		}
		fr := finishReason(c.FinishReason)
		if !fr.IsNull() {
			h.finished = true
		}
		chunk.Choices = append(chunk.Choices, llm.ChunkChoice{
			Index:        c.Index,
			Delta:        fromWireMessage(delta),
			FinishReason: fr,
		})
	}
	return chunk, nil
}

func (h *streamHandler) Done() bool  { return h.done || h.finished }
func (h *streamHandler) Final() bool { return h.done }
