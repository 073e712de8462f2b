package retry

import (
	"context"

	"github.com/BaSui01/gptproxy/llm"
	"go.uber.org/zap"
)

// Provider 在调用方一侧为 llm.Provider 增加重试。
// Completion 整体重试；Stream 只重试建立连接（含首个分片），
// 序列一旦交给调用方就不再重试，避免重复输出。
type Provider struct {
	inner   llm.Provider
	retryer Retryer
}

// Wrap 用 policy 包装 p，policy 为 nil 时使用 DefaultRetryPolicy。
func Wrap(p llm.Provider, policy *RetryPolicy, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		inner:   p,
		retryer: NewBackoffRetryer(policy, logger.With(zap.String("provider", p.Name()))),
	}
}

func (p *Provider) Name() string { return p.inner.Name() }

// Unwrap 返回被包装的 Provider。
func (p *Provider) Unwrap() llm.Provider { return p.inner }

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest, opts ...llm.RequestOption) (*llm.ChatResponse, error) {
	return DoWithResultTyped(p.retryer, ctx, func() (*llm.ChatResponse, error) {
		return p.inner.Completion(ctx, req, opts...)
	})
}

func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest, opts ...llm.RequestOption) (*llm.ChatStream, error) {
	return DoWithResultTyped(p.retryer, ctx, func() (*llm.ChatStream, error) {
		return p.inner.Stream(ctx, req, opts...)
	})
}
