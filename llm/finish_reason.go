package llm

import (
	"bytes"
	"encoding/json"
)

// FinishReason 生成结束原因。空值表示尚未结束，序列化为 JSON null。
// 服务商返回的未知取值原样透传。
type FinishReason string

const (
	FinishReasonNull          FinishReason = ""
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonFunctionCall  FinishReason = "function_call"
)

// IsNull 报告是否尚未结束。
func (f FinishReason) IsNull() bool { return f == FinishReasonNull }

func (f FinishReason) MarshalJSON() ([]byte, error) {
	if f == FinishReasonNull {
		return []byte("null"), nil
	}
	return json.Marshal(string(f))
}

func (f *FinishReason) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = FinishReasonNull
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = FinishReason(s)
	return nil
}
