package llm

import "strings"

// FirstChoice 返回 choices[0]。resp 为 nil 或没有 choice 时返回 MalformedResponseError，
// Provider 取自响应本身。
func FirstChoice(resp *ChatResponse) (ChatChoice, error) {
	if resp == nil {
		return ChatChoice{}, Malformed("", "nil response", nil)
	}
	if len(resp.Choices) == 0 {
		return ChatChoice{}, Malformed(resp.Provider, "missing choices[0]", nil)
	}
	return resp.Choices[0], nil
}

// StreamText 拼接一组 chunk 中第一个 choice 的增量文本，遇到替换分片时从头开始
func StreamText(chunks []ChatChunk) string {
	var b strings.Builder
	for _, c := range chunks {
		if c.Replaces() {
			b.Reset()
		}
		b.WriteString(c.DeltaContent())
	}
	return b.String()
}
