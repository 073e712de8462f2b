package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/gptproxy/llm"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 聊天接口 Handler
// =============================================================================

// ProviderHeader 选择服务商的请求头，优先于 provider 查询参数
const ProviderHeader = "X-Provider"

// ChatHandler 聊天接口处理器
type ChatHandler struct {
	registry     *llm.ProviderRegistry
	logger       *zap.Logger
	maxBodyBytes int64
}

// NewChatHandler 创建聊天处理器。maxBodyBytes 为 0 表示不限制请求体大小。
func NewChatHandler(registry *llm.ProviderRegistry, maxBodyBytes int64, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		registry:     registry,
		logger:       logger.With(zap.String("handler", "chat")),
		maxBodyBytes: maxBodyBytes,
	}
}

// HandleCompletion 处理 POST /v1/chat/completions。
// 请求体即统一请求；stream 为 true 时以 SSE 返回分片并以 data: [DONE] 结束。
func (h *ChatHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req llm.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.maxBodyBytes, h.logger); err != nil {
		return
	}

	provider, err := h.registry.Resolve(selectProvider(r))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	start := time.Now()
	result, err := llm.Create(r.Context(), provider, &req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if result.Stream != nil {
		h.writeStream(w, r, provider.Name(), result.Stream)
		return
	}

	resp := result.Response
	fields := []zap.Field{
		zap.String("provider", provider.Name()),
		zap.String("model", resp.Model),
		zap.Duration("duration", time.Since(start)),
	}
	if resp.Usage != nil {
		fields = append(fields,
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)
	}
	h.logger.Info("chat completion", fields...)

	WriteJSON(w, http.StatusOK, resp)
}

// writeStream 把分片逐个写成 SSE 事件。
// 首个分片之前的错误已由 Create 返回；此处的错误发生在数据已写出之后，
// 只能以一个 error 事件告知客户端，不再发送 [DONE]。
func (h *ChatHandler) writeStream(w http.ResponseWriter, r *http.Request, provider string, stream *llm.ChatStream) {
	defer stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, codeInternal, "streaming not supported", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
	w.WriteHeader(http.StatusOK)

	chunks := 0
	for stream.Next() {
		chunk := stream.Current()
		if err := writeEvent(w, chunk); err != nil {
			h.logger.Debug("client write failed", zap.Error(err))
			return
		}
		flusher.Flush()
		chunks++
	}

	if err := stream.Err(); err != nil {
		h.logger.Warn("stream aborted",
			zap.String("provider", provider),
			zap.Int("chunks", chunks),
			zap.Error(err),
		)
		_ = writeEvent(w, ErrorResponse{Error: ErrorInfoFrom(err)})
		flusher.Flush()
		return
	}

	if r.Context().Err() != nil {
		h.logger.Debug("client disconnected", zap.String("provider", provider), zap.Int("chunks", chunks))
		return
	}

	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
	h.logger.Info("chat stream", zap.String("provider", provider), zap.Int("chunks", chunks))
}

// writeEvent 写入一个 data 事件
func writeEvent(w http.ResponseWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(data)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	_, err = w.Write(buf)
	return err
}

// selectProvider 返回请求指定的服务商名称，未指定时为空（使用默认服务商）
func selectProvider(r *http.Request) string {
	if name := strings.TrimSpace(r.Header.Get(ProviderHeader)); name != "" {
		return name
	}
	return strings.TrimSpace(r.URL.Query().Get("provider"))
}
