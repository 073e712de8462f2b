package observability

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/BaSui01/gptproxy/internal/metrics"
	"github.com/BaSui01/gptproxy/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/gptproxy/llm"

const statusOK = "ok"

// Provider 为 llm.Provider 增加追踪、指标与日志，不改变任何返回值。
type Provider struct {
	inner     llm.Provider
	collector *metrics.Collector
	tracer    trace.Tracer
	costs     *CostCalculator
	logger    *zap.Logger

	meter       metric.Meter
	instruments *otelInstruments
}

// otelInstruments 与 Prometheus 指标并行的 OTel 指标，由 MeterProvider 决定是否导出。
type otelInstruments struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	tokens   metric.Int64Counter
}

func newOtelInstruments(m metric.Meter) (*otelInstruments, error) {
	requests, err := m.Int64Counter("llm.client.requests",
		metric.WithDescription("Upstream LLM calls"))
	if err != nil {
		return nil, err
	}
	duration, err := m.Float64Histogram("llm.client.duration",
		metric.WithDescription("Upstream LLM call duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	tokens, err := m.Int64Counter("llm.client.tokens",
		metric.WithDescription("Tokens reported by the vendor"))
	if err != nil {
		return nil, err
	}
	return &otelInstruments{requests: requests, duration: duration, tokens: tokens}, nil
}

func (i *otelInstruments) record(ctx context.Context, provider, model string, stream bool, status string, duration time.Duration, prompt, completion int) {
	attrs := metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
		attribute.Bool("llm.stream", stream),
		attribute.String("llm.status", status),
	)
	// 取消的调用 ctx 已结束，打点不依赖它
	ctx = context.WithoutCancel(ctx)
	i.requests.Add(ctx, 1, attrs)
	i.duration.Record(ctx, duration.Seconds(), attrs)
	if prompt > 0 {
		i.tokens.Add(ctx, int64(prompt), metric.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
			attribute.String("llm.token_type", "prompt")))
	}
	if completion > 0 {
		i.tokens.Add(ctx, int64(completion), metric.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
			attribute.String("llm.token_type", "completion")))
	}
}

// Option 配置 Provider.
type Option func(*Provider)

// WithMeter 指定 OTel Meter，默认使用全局 MeterProvider。
func WithMeter(m metric.Meter) Option {
	return func(p *Provider) { p.meter = m }
}

// WithCostCalculator 使用自定义价格表估算成本。
func WithCostCalculator(c *CostCalculator) Option {
	return func(p *Provider) { p.costs = c }
}

// Instrument 包装 p。collector 为 nil 时不记录指标；tracer 为 nil 时使用全局 TracerProvider。
func Instrument(p llm.Provider, collector *metrics.Collector, tracer trace.Tracer, logger *zap.Logger, opts ...Option) *Provider {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ip := &Provider{
		inner:     p,
		collector: collector,
		tracer:    tracer,
		costs:     NewCostCalculator(),
		logger:    logger.With(zap.String("provider", p.Name())),
	}
	for _, opt := range opts {
		opt(ip)
	}
	if ip.meter == nil {
		ip.meter = otel.Meter(instrumentationName)
	}
	instruments, err := newOtelInstruments(ip.meter)
	if err != nil {
		ip.logger.Warn("otel instruments unavailable", zap.Error(err))
	}
	ip.instruments = instruments
	return ip
}

func (p *Provider) Name() string { return p.inner.Name() }

// Unwrap 返回被包装的 Provider。
func (p *Provider) Unwrap() llm.Provider { return p.inner }

func (p *Provider) startSpan(ctx context.Context, name string, req *llm.ChatRequest, stream bool) (context.Context, trace.Span) {
	model := ""
	if req != nil {
		model = req.Model
	}
	return p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", p.inner.Name()),
			attribute.String("llm.model", model),
			attribute.Bool("llm.stream", stream),
		))
}

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest, opts ...llm.RequestOption) (*llm.ChatResponse, error) {
	ctx, span := p.startSpan(ctx, "llm.completion", req, false)
	defer span.End()

	start := time.Now()
	resp, err := p.inner.Completion(ctx, req, opts...)
	duration := time.Since(start)

	model := requestModel(req)
	var usage *llm.ChatUsage
	if resp != nil {
		if resp.Model != "" {
			model = resp.Model
		}
		usage = resp.Usage
		span.SetAttributes(attribute.String("llm.response_id", resp.ID))
	}
	p.record(ctx, span, model, false, duration, usage, err)
	return resp, err
}

func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest, opts ...llm.RequestOption) (*llm.ChatStream, error) {
	ctx, span := p.startSpan(ctx, "llm.stream", req, true)

	start := time.Now()
	s, err := p.inner.Stream(ctx, req, opts...)
	if err != nil {
		p.record(ctx, span, requestModel(req), true, time.Since(start), nil, err)
		span.End()
		return nil, err
	}
	if p.collector != nil {
		p.collector.StreamOpened(p.inner.Name())
	}
	span.AddEvent("stream.opened")

	src := &observedSource{p: p, ctx: ctx, inner: s, span: span, start: start, model: requestModel(req)}
	return llm.NewChatStream(ctx, src), nil
}

// record 汇总一次调用：指标、span 状态与 debug 日志。
func (p *Provider) record(ctx context.Context, span trace.Span, model string, stream bool, duration time.Duration, usage *llm.ChatUsage, err error) {
	name := p.inner.Name()
	status := statusOK
	switch {
	case err != nil:
		status = string(llm.CodeOf(err))
		if status == "" {
			status = "error"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("llm.error_code", status))
		if e, ok := llm.AsError(err); ok {
			span.SetAttributes(attribute.Int("llm.http_status", e.HTTPStatus), attribute.String("llm.vendor_code", e.VendorCode))
		}
	case ctx.Err() != nil:
		status = "cancelled"
	default:
		span.SetStatus(codes.Ok, "")
	}

	var prompt, completion int
	if usage != nil {
		prompt, completion = usage.PromptTokens, usage.CompletionTokens
		span.SetAttributes(
			attribute.Int("llm.usage.prompt_tokens", prompt),
			attribute.Int("llm.usage.completion_tokens", completion),
		)
	}
	cost := p.costs.Calculate(name, model, prompt, completion)
	if cost > 0 {
		span.SetAttributes(attribute.Float64("llm.cost_usd", cost))
	}

	if p.collector != nil {
		p.collector.RecordLLMRequest(name, model, stream, status, duration, prompt, completion)
		p.collector.RecordLLMCost(name, model, cost)
		if err != nil {
			p.collector.RecordLLMError(name, status)
		}
	}
	if p.instruments != nil {
		p.instruments.record(ctx, name, model, stream, status, duration, prompt, completion)
	}

	fields := []zap.Field{
		zap.String("model", model),
		zap.Bool("stream", stream),
		zap.String("status", status),
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", prompt),
		zap.Int("completion_tokens", completion),
	}
	if err != nil {
		p.logger.Debug("llm call failed", append(fields, zap.Error(err))...)
		return
	}
	p.logger.Debug("llm call finished", fields...)
}

func requestModel(req *llm.ChatRequest) string {
	if req == nil {
		return ""
	}
	return req.Model
}

// observedSource 在底层序列之上统计分片与用量，序列结束时收尾 span 与指标。
type observedSource struct {
	p     *Provider
	ctx   context.Context
	inner *llm.ChatStream
	span  trace.Span
	start time.Time
	model string

	chunks int
	usage  *llm.ChatUsage
	err    error
	once   sync.Once
}

func (o *observedSource) Recv() (*llm.ChatChunk, error) {
	if !o.inner.Next() {
		if err := o.inner.Err(); err != nil {
			o.err = err
			return nil, err
		}
		return nil, io.EOF
	}
	c := o.inner.Current()
	o.chunks++
	if c.Model != "" {
		o.model = c.Model
	}
	if c.Usage != nil {
		u := *c.Usage
		o.usage = &u
	}
	if o.p.collector != nil {
		o.p.collector.RecordStreamChunk(o.p.inner.Name())
	}
	return &c, nil
}

func (o *observedSource) Close() error {
	err := o.inner.Close()
	o.once.Do(func() {
		o.span.SetAttributes(attribute.Int("llm.stream.chunks", o.chunks))
		streamErr := o.err
		if errors.Is(streamErr, context.Canceled) {
			streamErr = nil
		}
		o.p.record(o.ctx, o.span, o.model, true, time.Since(o.start), o.usage, streamErr)
		if o.p.collector != nil {
			o.p.collector.StreamClosed(o.p.inner.Name())
		}
		o.span.End()
	})
	return err
}
