package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// 统一的 LLM 错误码，用于对齐 HTTP 状态与可重试性。
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "LLM_INVALID_REQUEST"    // 参数/格式错误
	ErrUnauthorized      ErrorCode = "LLM_UNAUTHORIZED"       // 未授权或密钥失效
	ErrForbidden         ErrorCode = "LLM_FORBIDDEN"          // 权限不足或 token 过期
	ErrNotFound          ErrorCode = "LLM_NOT_FOUND"          // 模型或资源不存在
	ErrRateLimited       ErrorCode = "LLM_RATE_LIMITED"       // 上游限流
	ErrQuotaExceeded     ErrorCode = "LLM_QUOTA_EXCEEDED"     // 额度/配额用尽
	ErrContentFiltered   ErrorCode = "LLM_CONTENT_FILTERED"   // 命中内容安全
	ErrModelOverloaded   ErrorCode = "LLM_MODEL_OVERLOADED"   // 模型过载
	ErrUpstreamError     ErrorCode = "LLM_UPSTREAM_ERROR"     // 上游 5xx
	ErrUnmapped          ErrorCode = "LLM_UNMAPPED"           // 服务商错误码无法映射
	ErrMalformedResponse ErrorCode = "LLM_MALFORMED_RESPONSE" // 成功状态但响应结构不符
	ErrTransport         ErrorCode = "LLM_TRANSPORT"          // 网络层失败
)

// Error 服务商通过自身错误结构明确返回的失败（统一错误）。
//
// HTTPStatus 为 0 表示该服务商错误码没有映射，调用方不应假设任何 HTTP 语义。
// Body 为服务商原始错误体，原样透传。Retryable 只是给调用方的提示，本层从不重试。
type Error struct {
	Code       ErrorCode       `json:"code"`
	Message    string          `json:"message"`
	HTTPStatus int             `json:"http_status,omitempty"`
	VendorCode string          `json:"vendor_code,omitempty"`
	Body       json.RawMessage `json:"vendor_error,omitempty"`
	Retryable  bool            `json:"retryable"`
	Provider   string          `json:"provider,omitempty"`
	Cause      error           `json:"-"`
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// StatusKnown 报告 HTTPStatus 是否由映射表得出。
func (e *Error) StatusKnown() bool { return e.HTTPStatus != 0 }

// TransportError 网络、DNS、超时等与服务商无关的失败，原样上抛。
type TransportError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError 服务商返回成功状态，但响应结构不符合预期（如缺少 choices[0]、流被截断）。
type MalformedResponseError struct {
	Provider string
	Reason   string
	Body     []byte
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %s", e.Provider, e.Reason)
}

// Malformed 构造 MalformedResponseError。
func Malformed(provider, reason string, body []byte) *MalformedResponseError {
	return &MalformedResponseError{Provider: provider, Reason: reason, Body: body}
}

// AsError 从错误链中提取 *Error。
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable 报告错误是否建议重试。网络错误视为可重试，响应结构错误不可重试。
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	var te *TransportError
	return errors.As(err, &te)
}

// StatusOf 返回错误对应的 HTTP 语义状态码，未映射时返回 0。
func StatusOf(err error) int {
	if e, ok := AsError(err); ok {
		return e.HTTPStatus
	}
	return 0
}

// CodeOf 返回错误的统一错误码。
func CodeOf(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	var te *TransportError
	if errors.As(err, &te) {
		return ErrTransport
	}
	var me *MalformedResponseError
	if errors.As(err, &me) {
		return ErrMalformedResponse
	}
	return ""
}
