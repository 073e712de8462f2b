package providers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/transport"
)

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 llm.Error
// 这是所有服务商在没有更细粒度错误码时使用的通用映射函数
func MapHTTPError(status int, msg string, provider string) *llm.Error {
	e := &llm.Error{Message: msg, HTTPStatus: status, Provider: provider}
	switch status {
	case http.StatusUnauthorized:
		e.Code = llm.ErrUnauthorized
	case http.StatusForbidden:
		e.Code = llm.ErrForbidden
	case http.StatusNotFound:
		e.Code = llm.ErrNotFound
	case http.StatusTooManyRequests:
		e.Code = llm.ErrRateLimited
		e.Retryable = true
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		// 检查配额/信用关键字
		msgLower := strings.ToLower(msg)
		if strings.Contains(msgLower, "quota") || strings.Contains(msgLower, "credit") {
			e.Code = llm.ErrQuotaExceeded
		} else {
			e.Code = llm.ErrInvalidRequest
		}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		e.Code = llm.ErrUpstreamError
		e.Retryable = true
	case 529: // Model overloaded (used by some providers)
		e.Code = llm.ErrModelOverloaded
		e.Retryable = true
	default:
		e.Code = llm.ErrUpstreamError
		e.Retryable = status >= 500
	}
	return e
}

// ReadErrorMessage 从错误响应体中提取错误消息
// 尝试解析 OpenAI 风格的 {"error":{...}} 或扁平的 {"message":...}，失败则回退到原始文本
func ReadErrorMessage(data []byte) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil {
		if errResp.Error.Message != "" {
			if errResp.Error.Type != "" {
				return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
			}
			return errResp.Error.Message
		}
		if errResp.Message != "" {
			return errResp.Message
		}
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "empty error response"
	}
	return text
}

// FromTransportError 把传输层的 *transport.StatusError 转换为 *llm.Error，
// mapper 为 nil 时使用 MapHTTPError。其他错误（网络错误、响应结构错误）原样返回。
func FromTransportError(err error, provider string, mapper func(status int, body []byte) *llm.Error) error {
	var se *transport.StatusError
	if !errors.As(err, &se) {
		return err
	}
	var e *llm.Error
	if mapper != nil {
		e = mapper(se.StatusCode, se.Body)
	}
	if e == nil {
		e = MapHTTPError(se.StatusCode, ReadErrorMessage(se.Body), provider)
	}
	if e.Provider == "" {
		e.Provider = provider
	}
	if len(e.Body) == 0 && json.Valid(se.Body) {
		e.Body = json.RawMessage(se.Body)
	}
	return e
}

// UnixTime 兼容数字与数字字符串两种形式的 unix 秒时间戳（部分服务商以字符串返回 created）。
type UnixTime int64

func (t *UnixTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*t = 0
			return nil
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(data), 64)
		if ferr != nil {
			return fmt.Errorf("invalid unix timestamp %q", string(data))
		}
		n = int64(f)
	}
	*t = UnixTime(n)
	return nil
}

// Int64 返回秒数。
func (t UnixTime) Int64() int64 { return int64(t) }

// MergeExtra 将透传字段合并进已序列化的请求体，已存在的字段不会被覆盖。
func MergeExtra(body any, extra map[string]any, skip ...string) (any, error) {
	if len(extra) == 0 {
		return body, nil
	}
	raw, err := transport.MarshalJSON(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	merged := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, fmt.Errorf("request body is not an object: %w", err)
	}
	skipped := make(map[string]struct{}, len(skip))
	for _, k := range skip {
		skipped[k] = struct{}{}
	}
	for k, v := range extra {
		if _, ok := skipped[k]; ok {
			continue
		}
		if _, exists := merged[k]; exists {
			continue
		}
		b, err := transport.MarshalJSON(v)
		if err != nil {
			return nil, fmt.Errorf("extra field %q: %w", k, err)
		}
		merged[k] = b
	}
	return merged, nil
}

// ChooseModel 根据请求和默认值选择模型
func ChooseModel(req *llm.ChatRequest, defaultModel, fallbackModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallbackModel
}

// NormalizeFinishReason 把服务商的结束原因映射到统一枚举。
// 空串与字符串 "null" 视为尚未结束；aliases 中没有的取值原样透传。
func NormalizeFinishReason(reason string, aliases map[string]llm.FinishReason) llm.FinishReason {
	reason = strings.TrimSpace(reason)
	if reason == "" || reason == "null" {
		return llm.FinishReasonNull
	}
	if mapped, ok := aliases[reason]; ok {
		return mapped
	}
	return llm.FinishReason(reason)
}

// CumulativeDelta 根据上一次的累积文本计算本次真正的增量。
// cur 不以 prev 为前缀时（服务商改写了已输出内容），返回完整的 cur。
func CumulativeDelta(prev, cur string) string {
	if strings.HasPrefix(cur, prev) {
		return cur[len(prev):]
	}
	return cur
}

// Float32Or 返回 *v，nil 时返回默认值。
func Float32Or(v *float32, def float32) float32 {
	if v == nil {
		return def
	}
	return *v
}

// StringExtra 从 Extra 中读取字符串字段。
func StringExtra(extra map[string]any, key string) string {
	if v, ok := extra[key].(string); ok {
		return v
	}
	return ""
}
