package providers

import (
	"context"
	"errors"
	"io"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/transport"
)

// EventHandler 把一个服务商 SSE 事件转换为至多一个统一分片。
//
//   - 返回 (chunk, nil) 产出一个分片；chunk 为 nil 表示该事件不产生分片（如心跳）
//   - 返回 (_, err) 中止序列，err 通常为 *llm.Error
//
// Done 报告此刻遇到 EOF 是否属于正常结束；Final 报告序列是否已经结束，不应再读取。
type EventHandler interface {
	Handle(ev transport.Event) (*llm.ChatChunk, error)
	Done() bool
	Final() bool
}

// SSESource 基于 SSE 解码器的 llm.ChunkSource 实现，各服务商复用。
// 每次 Recv 只读取产出下一个分片所需的事件。
type SSESource struct {
	provider string
	body     io.ReadCloser
	dec      *transport.Decoder
	handler  EventHandler
	pending  *llm.ChatChunk
	ended    bool
}

// NewSSESource 包装流式响应体。
func NewSSESource(provider string, body io.ReadCloser, handler EventHandler) *SSESource {
	return &SSESource{
		provider: provider,
		body:     body,
		dec:      transport.NewDecoder(body),
		handler:  handler,
	}
}

func (s *SSESource) Recv() (*llm.ChatChunk, error) {
	if s.pending != nil {
		c := s.pending
		s.pending = nil
		return c, nil
	}
	if s.ended {
		return nil, io.EOF
	}
	for {
		if s.handler.Final() {
			return nil, io.EOF
		}
		ev, err := s.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if s.handler.Done() {
					return nil, io.EOF
				}
				return nil, llm.Malformed(s.provider, "stream ended before completion", nil)
			}
			return nil, &llm.TransportError{Provider: s.provider, Op: "read stream", Err: err}
		}
		chunk, err := s.handler.Handle(ev)
		if err != nil {
			return nil, err
		}
		if chunk != nil {
			return chunk, nil
		}
	}
}

func (s *SSESource) Close() error {
	return s.body.Close()
}

// StartStream 先读出第一个分片再返回序列。
// 首个事件就是错误事件时直接返回该错误，调用方拿不到任何分片；
// 读取期间 ctx 被取消则返回一个空序列（Err 为 nil）。
func StartStream(ctx context.Context, provider string, body io.ReadCloser, handler EventHandler) (*llm.ChatStream, error) {
	src := NewSSESource(provider, body, handler)
	first, err := src.Recv()
	switch {
	case err == nil:
		src.pending = first
	case errors.Is(err, io.EOF) || ctx.Err() != nil:
		src.ended = true
	default:
		_ = src.Close()
		return nil, err
	}
	return llm.NewChatStream(ctx, src), nil
}
