package ernie

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/providers"
)

// errorStatus 文心错误码到 HTTP 状态的精确映射（不按区间判断）.
var errorStatus = map[int]int{
	2:      http.StatusInternalServerError,
	6:      http.StatusForbidden,
	111:    http.StatusForbidden,
	17:     http.StatusTooManyRequests,
	18:     http.StatusTooManyRequests,
	19:     http.StatusTooManyRequests,
	40407:  http.StatusTooManyRequests,
	110:    http.StatusUnauthorized,
	40401:  http.StatusUnauthorized,
	336003: http.StatusBadRequest,
	336100: http.StatusInternalServerError,
}

// StatusFor 返回错误码对应的 HTTP 状态，未映射时返回 0.
func StatusFor(code int) int {
	return errorStatus[code]
}

// AssertNonZero 在 code 为 0 时返回 nil，否则返回映射后的 *llm.Error.
// 未映射的错误码同样返回错误，只是 HTTPStatus 为 0.
func AssertNonZero(code int, message string) error {
	if code == 0 {
		return nil
	}
	return newError(code, message, nil)
}

func newError(code int, message string, raw []byte) *llm.Error {
	if message == "" {
		message = fmt.Sprintf("ernie error %d", code)
	}

	var e *llm.Error
	if status := StatusFor(code); status != 0 {
		e = providers.MapHTTPError(status, message, providerName)
	} else {
		e = &llm.Error{Code: llm.ErrUnmapped, Message: message, Provider: providerName}
	}
	switch code {
	case 17, 19:
		// 日配额 / 总配额用尽，重试无意义
		e.Code = llm.ErrQuotaExceeded
		e.Retryable = false
	case 336100:
		e.Retryable = true
	}
	e.VendorCode = strconv.Itoa(code)
	if len(raw) > 0 {
		e.Body = raw
	}
	return e
}

// apiError 文心错误字段。官方接口使用 error_code/error_msg，部分网关改写为 code/message.
type apiError struct {
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
}

func (e apiError) code() int {
	if e.ErrorCode != 0 {
		return e.ErrorCode
	}
	return e.Code
}

func (e apiError) message() string {
	if e.ErrorMsg != "" {
		return e.ErrorMsg
	}
	return e.Message
}

// check 对整个响应体执行 AssertNonZero，并附带原始错误体.
func (e apiError) check(raw []byte) error {
	if e.code() == 0 {
		return nil
	}
	return newError(e.code(), e.message(), raw)
}
