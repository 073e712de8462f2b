package qwen

import (
	"encoding/json"
	"strings"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/providers"
	"github.com/BaSui01/gptproxy/llm/transport"
)

// streamHandler 处理 event:result / event:error 事件.
// 累积模式下记录每个 choice 已输出的文本，只产出新增部分.
type streamHandler struct {
	model       string
	incremental bool
	created     int64
	prev        map[int]string
	finished    bool
}

func newStreamHandler(model string, incremental bool, created int64) *streamHandler {
	return &streamHandler{
		model:       model,
		incremental: incremental,
		created:     created,
		prev:        make(map[int]string),
	}
}

func (h *streamHandler) Handle(ev transport.Event) (*llm.ChatChunk, error) {
	data := strings.TrimSpace(ev.Data)
	if ev.Event == "error" {
		var r response
		_ = json.Unmarshal([]byte(data), &r)
		return nil, newError(r.Code, r.Message, statusFromComments(ev.Comments), []byte(data))
	}
	if data == "" {
		return nil, nil
	}

	var r response
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, llm.Malformed(providerName, "invalid stream event: "+err.Error(), []byte(data))
	}
	if r.Code != "" {
		return nil, newError(r.Code, r.Message, statusFromComments(ev.Comments), []byte(data))
	}
	if r.Output == nil {
		return nil, llm.Malformed(providerName, "missing output", []byte(data))
	}

	chunk := &llm.ChatChunk{
		ID:       r.RequestID,
		Object:   llm.ObjectChatCompletionChunk,
		Provider: providerName,
		Model:    h.model,
		Created:  h.created,
		Usage:    r.usage(),
	}
	if len(r.Output.Choices) > 0 {
		for i, c := range r.Output.Choices {
			delta := llm.Message{
				Role:      llm.Role(c.Message.Role),
				Content:   h.delta(i, c.Message.Content),
				ToolCalls: fromWireToolCalls(c.Message.ToolCalls),
			}
			chunk.Choices = append(chunk.Choices, llm.ChunkChoice{Index: i, Delta: delta, FinishReason: h.finish(c.FinishReason)})
		}
		return chunk, nil
	}
	chunk.Choices = []llm.ChunkChoice{{
		Index:        0,
		Delta:        llm.Message{Role: llm.RoleAssistant, Content: h.delta(0, r.Output.Text)},
		FinishReason: h.finish(r.Output.FinishReason),
	}}
	return chunk, nil
}

func (h *streamHandler) delta(index int, text string) string {
	if h.incremental {
		return text
	}
	d := providers.CumulativeDelta(h.prev[index], text)
	h.prev[index] = text
	return d
}

func (h *streamHandler) finish(reason string) llm.FinishReason {
	fr := providers.NormalizeFinishReason(reason, nil)
	if !fr.IsNull() {
		h.finished = true
	}
	return fr
}

func (h *streamHandler) Done() bool  { return h.finished }
func (h *streamHandler) Final() bool { return h.finished }
