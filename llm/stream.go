package llm

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ChunkSource 由各服务商实现：每次 Recv 消费一个上游事件并返回一个统一分片。
// 正常结束返回 io.EOF；服务商错误事件返回 *Error。
type ChunkSource interface {
	Recv() (*ChatChunk, error)
	Close() error
}

// ChatStream 单消费者、只进、不可重启的惰性分片序列。
//
//	s, err := p.Stream(ctx, req)
//	if err != nil { ... }
//	defer s.Close()
//	for s.Next() {
//		fmt.Print(s.Current().DeltaContent())
//	}
//	if err := s.Err(); err != nil { ... }
//
// ctx 取消后序列在最多再产出一个已解析分片后结束，Err 返回 nil。
type ChatStream struct {
	ctx       context.Context
	src       ChunkSource
	cur       ChatChunk
	err       error
	done      bool
	closeOnce sync.Once
	closeErr  error
}

// NewChatStream 包装一个 ChunkSource。ctx 应与发起 HTTP 请求的 ctx 相同。
func NewChatStream(ctx context.Context, src ChunkSource) *ChatStream {
	return &ChatStream{ctx: ctx, src: src}
}

// Next 拉取下一个分片。返回 false 表示序列结束（正常结束、取消或出错）。
func (s *ChatStream) Next() bool {
	if s.done {
		return false
	}
	if s.ctx.Err() != nil {
		s.finish(nil)
		return false
	}
	chunk, err := s.src.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) || s.ctx.Err() != nil {
			err = nil
		}
		s.finish(err)
		return false
	}
	s.cur = *chunk
	return true
}

// Current 返回最近一次 Next 产出的分片。
func (s *ChatStream) Current() ChatChunk { return s.cur }

// Err 返回导致序列提前结束的错误。正常结束或被取消时为 nil。
func (s *ChatStream) Err() error { return s.err }

// Close 中断底层 HTTP 流，可重复调用。
func (s *ChatStream) Close() error {
	s.done = true
	s.closeOnce.Do(func() {
		s.closeErr = s.src.Close()
	})
	return s.closeErr
}

// Collect 读完整个序列并返回全部分片。
func (s *ChatStream) Collect() ([]ChatChunk, error) {
	defer s.Close()
	var out []ChatChunk
	for s.Next() {
		out = append(out, s.Current())
	}
	return out, s.Err()
}

func (s *ChatStream) finish(err error) {
	s.err = err
	_ = s.Close()
}

// Accumulate 将分片序列合并为一个完整响应，常用于只支持流式的调用方。
func Accumulate(chunks []ChatChunk) *ChatResponse {
	resp := &ChatResponse{Object: ObjectChatCompletion}
	var content []byte
	msg := Message{Role: RoleAssistant}
	var finish FinishReason
	for _, c := range chunks {
		if resp.ID == "" {
			resp.ID = c.ID
		}
		if c.Model != "" {
			resp.Model = c.Model
		}
		if c.Provider != "" {
			resp.Provider = c.Provider
		}
		if c.Created != 0 {
			resp.Created = c.Created
		}
		if c.Usage != nil {
			u := *c.Usage
			resp.Usage = &u
		}
		for _, ch := range c.Choices {
			if ch.Replace {
				content = content[:0]
			}
			content = append(content, ch.Delta.Content...)
			msg.ToolCalls = mergeToolCalls(msg.ToolCalls, ch.Delta.ToolCalls)
			if !ch.FinishReason.IsNull() {
				finish = ch.FinishReason
			}
		}
	}
	msg.Content = string(content)
	resp.Choices = []ChatChoice{{Index: 0, Message: msg, FinishReason: finish}}
	return resp
}

func mergeToolCalls(acc, deltas []ToolCall) []ToolCall {
	for _, d := range deltas {
		i := indexOfToolCall(acc, d.Index)
		if i < 0 {
			acc = append(acc, d)
			continue
		}
		if d.ID != "" {
			acc[i].ID = d.ID
		}
		if d.Type != "" {
			acc[i].Type = d.Type
		}
		if d.Function.Name != "" {
			acc[i].Function.Name = d.Function.Name
		}
		acc[i].Function.Arguments += d.Function.Arguments
	}
	return acc
}

func indexOfToolCall(calls []ToolCall, index int) int {
	for i, c := range calls {
		if c.Index == index {
			return i
		}
	}
	return -1
}
