// =============================================================================
// gptproxy 主入口
// =============================================================================
// 统一的大模型网关：一套 OpenAI 风格的请求/响应契约，背后接入多个服务商
//
// 使用方法:
//
//	gptproxy serve                                 # 启动 HTTP 服务
//	gptproxy serve --config config.yaml            # 指定配置文件
//	gptproxy chat --provider qwen --prompt "你好"   # 命令行直接调用服务商
//	gptproxy chat --stream --prompt "写一首诗"      # 流式输出
//	gptproxy health --addr http://localhost:8080   # 健康检查
//	gptproxy version                               # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/gptproxy/config"
	"github.com/BaSui01/gptproxy/internal/telemetry"
	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/factory"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "chat":
		err = runChat(ctx, os.Args[2:], os.Stdout, os.Stderr)
	case "version":
		printVersion(os.Stdout)
	case "health":
		err = runHealthCheck(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting gptproxy",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	srv, err := NewServer(cfg, logger, otelProviders.Tracer(), WithMeter(otelProviders.Meter()))
	if err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("gptproxy stopped")
	return nil
}

// =============================================================================
// 💬 chat 命令
// =============================================================================

func runChat(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	providerName := fs.String("provider", "", "Provider name (default provider when empty)")
	model := fs.String("model", "", "Model override")
	system := fs.String("system", "", "Optional system prompt")
	prompt := fs.String("prompt", "", "User prompt (remaining arguments are used when empty)")
	stream := fs.Bool("stream", false, "Stream the answer as it is generated")
	retries := fs.Int("retries", -1, "Retry attempts for retryable errors (-1 uses the config value)")
	timeout := fs.Duration("timeout", 0, "Overall request timeout, 0 means none")
	verbose := fs.Bool("verbose", false, "Log provider activity to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	text := *prompt
	if text == "" {
		text = strings.Join(fs.Args(), " ")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("a prompt is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *retries >= 0 {
		cfg.Retry.MaxRetries = *retries
	}

	logCfg := config.LogConfig{Level: "warn", Format: "console"}
	if *verbose {
		logCfg.Level = "debug"
	}
	logger, err := initLogger(logCfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry, err := factory.NewRegistryFromConfig(cfg.Registry(), logger, func(p llm.Provider) llm.Provider {
		return withRetry(p, cfg.Retry, logger)
	})
	if err != nil {
		return err
	}
	provider, err := registry.Resolve(*providerName)
	if err != nil {
		return err
	}

	req := &llm.ChatRequest{Model: *model, Stream: *stream}
	if *system != "" {
		req.Messages = append(req.Messages, llm.Message{Role: llm.RoleSystem, Content: *system})
	}
	req.Messages = append(req.Messages, llm.Message{Role: llm.RoleUser, Content: text})

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	result, err := llm.Create(ctx, provider, req)
	if err != nil {
		return err
	}

	if result.Stream != nil {
		return printStream(ctx, result.Stream, stdout, stderr)
	}

	choice, err := llm.FirstChoice(result.Response)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, choice.Message.Content)
	printTokenUsage(stderr, result.Response.Usage)
	return nil
}

// printStream 边收边打印增量文本
func printStream(ctx context.Context, s *llm.ChatStream, stdout, stderr io.Writer) error {
	defer s.Close()
	var usage *llm.ChatUsage
	for s.Next() {
		chunk := s.Current()
		if chunk.Replaces() {
			// 已输出的内容无法撤回，另起一行输出替换后的答案
			fmt.Fprintln(stdout)
		}
		fmt.Fprint(stdout, chunk.DeltaContent())
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	fmt.Fprintln(stdout)
	if err := s.Err(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("stream cancelled: %w", ctx.Err())
	}
	printTokenUsage(stderr, usage)
	return nil
}

func printTokenUsage(w io.Writer, usage *llm.ChatUsage) {
	if usage == nil {
		return
	}
	fmt.Fprintf(w, "tokens: prompt=%d completion=%d total=%d\n",
		usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(*addr, "/") + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	fmt.Fprintln(stdout, "OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "gptproxy %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `gptproxy - unified gateway for chat completion providers

Usage:
  gptproxy <command> [options]

Commands:
  serve     Start the HTTP server
  chat      Send one chat request from the command line
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>     Path to configuration file (YAML)

Options for 'chat':
  --config <path>     Path to configuration file (YAML)
  --provider <name>   Provider to use (%s)
  --model <name>      Model override
  --system <text>     System prompt
  --prompt <text>     User prompt
  --stream            Stream the answer
  --retries <n>       Retry attempts for retryable errors
  --timeout <d>       Overall timeout, e.g. 30s

Examples:
  gptproxy serve --config /etc/gptproxy/config.yaml
  gptproxy chat --provider ernie --prompt "你好"
  GPTPROXY_PROVIDERS_QWEN_API_KEY=sk-xxx gptproxy chat --provider qwen --stream 写一首诗
  gptproxy health --addr http://localhost:8080
`, strings.Join(factory.SupportedProviders(), ", "))
}
