package dify

import (
	"encoding/json"
	"strings"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/transport"
)

// streamHandler 把 Dify 事件还原为统一分片，message_end 之后不再读取.
// message_replace 之后的 message 事件属于被替换的答案，不再输出.
type streamHandler struct {
	model    string
	ended    bool
	replaced bool
}

func (h *streamHandler) Handle(ev transport.Event) (*llm.ChatChunk, error) {
	data := strings.TrimSpace(ev.Data)
	if data == "" {
		return nil, nil
	}
	var r response
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, llm.Malformed(providerName, "invalid stream event: "+err.Error(), []byte(data))
	}

	switch r.Event {
	case "message", "agent_message":
		if h.replaced {
			return nil, nil
		}
		return h.chunk(&r, r.Answer, llm.FinishReasonNull), nil
	case "message_replace":
		h.replaced = true
		c := h.chunk(&r, r.Answer, llm.FinishReasonNull)
		c.Choices[0].Replace = true
		return c, nil
	case "message_end":
		h.ended = true
		finish := llm.FinishReasonStop
		if h.replaced {
			finish = llm.FinishReasonContentFilter
		}
		c := h.chunk(&r, "", finish)
		c.Usage = r.usage()
		return c, nil
	case "error":
		return nil, eventError(&r, []byte(data))
	default:
		// ping、workflow_started、node_finished、agent_thought、message_file、tts_message 等
		return nil, nil
	}
}

func (h *streamHandler) chunk(r *response, content string, finish llm.FinishReason) *llm.ChatChunk {
	return &llm.ChatChunk{
		ID:       r.messageID(),
		Object:   llm.ObjectChatCompletionChunk,
		Provider: providerName,
		Model:    h.model,
		Created:  r.CreatedAt.Int64(),
		Choices: []llm.ChunkChoice{{
			Index:        0,
			Delta:        llm.Message{Role: llm.RoleAssistant, Content: content},
			FinishReason: finish,
		}},
	}
}

func (h *streamHandler) Done() bool  { return h.ended }
func (h *streamHandler) Final() bool { return h.ended }
