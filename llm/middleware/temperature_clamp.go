package middleware

import (
	"context"

	llmpkg "github.com/BaSui01/gptproxy/llm"
)

// TemperatureClamp 把 temperature 与 top_p 限制在 [Min, Max] 区间
// 文心要求 temperature ∈ (0, 1]，传 0 会被拒绝，因此 Min 通常取一个很小的正数
type TemperatureClamp struct {
	Min float32
	Max float32
}

// NewTemperatureClamp 创建区间限制改写器
func NewTemperatureClamp(min, max float32) *TemperatureClamp {
	return &TemperatureClamp{Min: min, Max: max}
}

func (r *TemperatureClamp) Name() string {
	return "temperature_clamp"
}

func (r *TemperatureClamp) Rewrite(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error) {
	if req == nil || (!r.outside(req.Temperature) && !r.outside(req.TopP)) {
		return req, nil
	}
	out := req.Clone()
	out.Temperature = r.clamp(req.Temperature)
	out.TopP = r.clamp(req.TopP)
	return out, nil
}

func (r *TemperatureClamp) outside(v *float32) bool {
	return v != nil && (*v < r.Min || *v > r.Max)
}

func (r *TemperatureClamp) clamp(v *float32) *float32 {
	if v == nil {
		return nil
	}
	c := *v
	if c < r.Min {
		c = r.Min
	}
	if c > r.Max {
		c = r.Max
	}
	return &c
}
