package main

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/gptproxy/api/handlers"
	"github.com/BaSui01/gptproxy/config"
	"github.com/BaSui01/gptproxy/internal/metrics"
	"github.com/BaSui01/gptproxy/internal/server"
	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/factory"
	"github.com/BaSui01/gptproxy/llm/observability"
	"github.com/BaSui01/gptproxy/llm/retry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装服务商注册表、HTTP 路由与中间件链
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	tracer    trace.Tracer
	meter     metric.Meter
	collector *metrics.Collector
	costs     *observability.CostCalculator
	registry  *llm.ProviderRegistry
	handler   http.Handler
	manager   *server.Manager

	// 限流器后台清理的生命周期
	cancel context.CancelFunc
}

// ServerOption 调整 Server 的可选依赖
type ServerOption func(*Server)

// WithMeter 指定上游调用 OTel 指标使用的 Meter，默认取全局 MeterProvider
func WithMeter(m metric.Meter) ServerOption {
	return func(s *Server) { s.meter = m }
}

// NewServer 按配置构建服务器，不监听端口。tracer 为 nil 时使用全局 tracer。
func NewServer(cfg *config.Config, logger *zap.Logger, tracer trace.Tracer, opts ...ServerOption) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		tracer:    tracer,
		collector: metrics.NewCollector(cfg.Telemetry.MetricsNamespace, logger),
		costs:     observability.NewCostCalculator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.costs.UpdatePrices(cfg.Prices)

	registry, err := factory.NewRegistryFromConfig(cfg.Registry(), logger, s.wrapProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider registry: %w", err)
	}
	if registry.Len() == 0 {
		logger.Warn("no providers configured, chat endpoint will answer 404")
	}
	s.registry = registry

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.handler = s.routes(ctx)

	s.manager = server.NewManager(s.handler, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CertFile:        cfg.Server.TLSCertFile,
		KeyFile:         cfg.Server.TLSKeyFile,
	}, logger)

	return s, nil
}

// wrapProvider 为每个服务商加上观测层，配置了重试时在外层再包一层重试，
// 因此每一次尝试都会单独计入指标与链路。
func (s *Server) wrapProvider(p llm.Provider) llm.Provider {
	observed := observability.Instrument(p, s.collector, s.tracer, s.logger,
		observability.WithCostCalculator(s.costs),
		observability.WithMeter(s.meter))
	return withRetry(observed, s.cfg.Retry, s.logger)
}

// withRetry 在 MaxRetries > 0 时包装重试层
func withRetry(p llm.Provider, cfg config.RetryConfig, logger *zap.Logger) llm.Provider {
	if cfg.MaxRetries <= 0 {
		return p
	}
	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = cfg.MaxRetries
	if cfg.InitialDelay > 0 {
		policy.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		policy.MaxDelay = cfg.MaxDelay
	}
	return retry.Wrap(p, policy, logger)
}

// =============================================================================
// 🌐 路由
// =============================================================================

func (s *Server) routes(ctx context.Context) http.Handler {
	chat := handlers.NewChatHandler(s.registry, s.cfg.Server.MaxBodyBytes, s.logger)

	health := handlers.NewHealthHandler(Version, s.logger)
	health.RegisterCheck(handlers.NewProvidersHealthCheck(s.registry))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", chat.HandleCompletion)
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /version", handleVersion)
	mux.Handle("GET /metrics", s.collector.Handler())

	skipLimitPaths := []string{"/health", "/version", "/metrics"}
	return Chain(mux,
		RequestID(),
		Recovery(s.logger),
		SecurityHeaders(),
		OTelTracing(s.tracer),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, skipLimitPaths, s.collector, s.logger),
	)
}

func handleVersion(w http.ResponseWriter, _ *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

// Handler 返回完整的 HTTP 处理链
func (s *Server) Handler() http.Handler { return s.handler }

// Registry 返回已注册的服务商
func (s *Server) Registry() *llm.ProviderRegistry { return s.registry }

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run 启动 HTTP 服务并阻塞到 ctx 结束，随后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	s.logger.Info("HTTP server starting",
		zap.Int("port", s.cfg.Server.HTTPPort),
		zap.Strings("providers", s.registry.List()),
		zap.Bool("tls", s.cfg.Server.TLSCertFile != ""),
	)
	if err := s.manager.Run(ctx); err != nil {
		return err
	}
	s.logger.Info("Graceful shutdown completed")
	return nil
}

// Close 释放后台资源，可重复调用
func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}
