package middleware

import (
	"context"

	llmpkg "github.com/BaSui01/gptproxy/llm"
)

// EmptyToolsCleaner 在没有工具时去掉 tool_choice。
// OpenAI 兼容服务商会以 400 拒绝只有 tool_choice 的请求。原请求不被修改。
type EmptyToolsCleaner struct{}

func (r *EmptyToolsCleaner) Name() string {
	return "empty_tools_cleaner"
}

func (r *EmptyToolsCleaner) Rewrite(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error) {
	if req == nil || len(req.Tools) > 0 || req.ToolChoice == "" {
		return req, nil
	}
	out := req.Clone()
	out.ToolChoice = ""
	return out, nil
}

// NewEmptyToolsCleaner 创建空工具清理器
func NewEmptyToolsCleaner() *EmptyToolsCleaner {
	return &EmptyToolsCleaner{}
}
