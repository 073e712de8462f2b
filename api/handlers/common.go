package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/BaSui01/gptproxy/llm"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// ErrorResponse OpenAI 形状的错误响应体
type ErrorResponse struct {
	Error ErrorInfo `json:"error"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Message    string          `json:"message"`
	Type       string          `json:"type"`
	Code       string          `json:"code"`
	Provider   string          `json:"provider,omitempty"`
	VendorCode string          `json:"vendor_code,omitempty"`
	Retryable  bool            `json:"retryable,omitempty"`
	Vendor     json.RawMessage `json:"vendor_error,omitempty"`
	HTTPStatus int             `json:"-"` // 不序列化到 JSON
}

// 不属于 llm 错误码体系、由本层产生的错误码
const (
	codeInternal    = "INTERNAL_ERROR"
	codeUnsupported = "UNSUPPORTED_MEDIA_TYPE"
	codeTooLarge    = "REQUEST_TOO_LARGE"
)

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// 编码失败时响应头已写出，只能放弃
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError 将任意错误渲染为 {"error":{...}}，状态码取自 ErrorInfoFrom。
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	info := ErrorInfoFrom(err)

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", info.Code),
			zap.Int("status", info.HTTPStatus),
			zap.Bool("retryable", info.Retryable),
			zap.Error(err),
		}
		if info.HTTPStatus >= 500 {
			logger.Error("API error", fields...)
		} else {
			logger.Warn("API error", fields...)
		}
	}

	WriteJSON(w, info.HTTPStatus, ErrorResponse{Error: info})
}

// WriteErrorMessage 写入本层产生的简单错误
func WriteErrorMessage(w http.ResponseWriter, status int, code, message string, logger *zap.Logger) {
	WriteError(w, &llm.Error{Code: llm.ErrorCode(code), Message: message, HTTPStatus: status}, logger)
}

// ErrorInfoFrom 将错误转换为响应体。
//
//   - *llm.Error 使用映射出的状态码；未映射（HTTPStatus 为 0）时返回 502
//   - 传输层超时返回 504，其余传输错误与响应结构错误返回 502
//   - 其他错误返回 500
func ErrorInfoFrom(err error) ErrorInfo {
	if e, ok := llm.AsError(err); ok {
		status := e.HTTPStatus
		if status == 0 {
			status = http.StatusBadGateway
		}
		return ErrorInfo{
			Message:    e.Message,
			Type:       errorType(status),
			Code:       string(e.Code),
			Provider:   e.Provider,
			VendorCode: e.VendorCode,
			Retryable:  e.Retryable,
			Vendor:     e.Body,
			HTTPStatus: status,
		}
	}

	var te *llm.TransportError
	if errors.As(err, &te) {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		return ErrorInfo{
			Message:    err.Error(),
			Type:       errorType(status),
			Code:       string(llm.ErrTransport),
			Provider:   te.Provider,
			Retryable:  true,
			HTTPStatus: status,
		}
	}

	var me *llm.MalformedResponseError
	if errors.As(err, &me) {
		return ErrorInfo{
			Message:    err.Error(),
			Type:       errorType(http.StatusBadGateway),
			Code:       string(llm.ErrMalformedResponse),
			Provider:   me.Provider,
			HTTPStatus: http.StatusBadGateway,
		}
	}

	return ErrorInfo{
		Message:    "internal server error",
		Type:       errorType(http.StatusInternalServerError),
		Code:       codeInternal,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// errorType 返回与 OpenAI 客户端兼容的错误类型
func errorType(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	}
	if status >= 400 && status < 500 {
		return "invalid_request_error"
	}
	return "api_error"
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体，maxBytes > 0 时限制请求体大小。
// 未知字段被忽略，OpenAI 客户端常携带本层不识别的参数。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := &llm.Error{Code: llm.ErrInvalidRequest, Message: "request body is empty", HTTPStatus: http.StatusBadRequest}
		WriteError(w, err, logger)
		return err
	}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apiErr := &llm.Error{
				Code:       codeTooLarge,
				Message:    fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
				HTTPStatus: http.StatusRequestEntityTooLarge,
				Cause:      err,
			}
			WriteError(w, apiErr, logger)
			return apiErr
		}
		apiErr := &llm.Error{Code: llm.ErrInvalidRequest, Message: "invalid JSON body", HTTPStatus: http.StatusBadRequest, Cause: err}
		WriteError(w, apiErr, logger)
		return apiErr
	}

	return nil
}

// ValidateContentType 验证 Content-Type 为 application/json（允许携带参数）
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		WriteErrorMessage(w, http.StatusUnsupportedMediaType, codeUnsupported, "Content-Type must be application/json", logger)
		return false
	}
	return true
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码与写出字节数
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int
	Written      bool
	BytesWritten int64
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.BytesWritten += int64(n)
	return n, err
}

// Flush 透传 http.Flusher，SSE 依赖它
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap 供 http.ResponseController 访问底层 writer
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
