package qwen

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/providers"
)

// codeStatus DashScope 错误码到 HTTP 语义的映射.
var codeStatus = map[string]int{
	"InvalidApiKey":        http.StatusUnauthorized,
	"InvalidParameter":     http.StatusBadRequest,
	"DataInspectionFailed": http.StatusBadRequest,
	"Arrearage":            http.StatusForbidden,
	"AccessDenied":         http.StatusForbidden,
	"ModelNotFound":        http.StatusNotFound,
}

// StatusForCode 返回错误码对应的 HTTP 状态，未知错误码返回 0.
// Throttling.* 与 InternalError.* 按前缀匹配.
func StatusForCode(code string) int {
	if s, ok := codeStatus[code]; ok {
		return s
	}
	switch {
	case code == "Throttling" || strings.HasPrefix(code, "Throttling."):
		return http.StatusTooManyRequests
	case code == "InternalError" || strings.HasPrefix(code, "InternalError."):
		return http.StatusInternalServerError
	case strings.HasPrefix(code, "AccessDenied."):
		return http.StatusForbidden
	}
	return 0
}

// newError 按错误码映射，未知错误码回退到 status；status 也未知时为未映射错误.
func newError(code, message string, status int, raw []byte) *llm.Error {
	if message == "" {
		message = "dashscope error"
	}
	mapped := StatusForCode(code)
	if mapped == 0 && status >= 400 {
		mapped = status
	}

	var e *llm.Error
	if mapped == 0 {
		e = &llm.Error{Code: llm.ErrUnmapped, Message: message, Provider: providerName}
	} else {
		e = providers.MapHTTPError(mapped, message, providerName)
	}
	switch {
	case code == "DataInspectionFailed":
		e.Code = llm.ErrContentFiltered
	case code == "Arrearage" || code == "Throttling.AllocationQuota":
		e.Code = llm.ErrQuotaExceeded
		e.Retryable = false
	case strings.HasPrefix(code, "InternalError"):
		e.Retryable = true
	}
	e.VendorCode = code
	if json.Valid(raw) {
		e.Body = json.RawMessage(raw)
	}
	return e
}

// mapHTTPError 解析 {"code","message","request_id"} 错误体.
func mapHTTPError(status int, body []byte) *llm.Error {
	var r response
	if err := json.Unmarshal(body, &r); err != nil || r.Code == "" {
		return nil
	}
	return newError(r.Code, r.Message, status, body)
}

// statusFromComments 读取 SSE 注释行 ":HTTP_STATUS/400".
func statusFromComments(comments []string) int {
	for _, c := range comments {
		if v, ok := strings.CutPrefix(c, "HTTP_STATUS/"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return 0
}
