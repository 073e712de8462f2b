// Package factory provides a centralized factory for creating LLM Provider
// instances by name. It imports all provider sub-packages and maps string
// names to their constructors, breaking the import cycle that would occur
// if this logic lived in the llm package directly.
package factory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/providers"
	"github.com/BaSui01/gptproxy/llm/providers/dify"
	"github.com/BaSui01/gptproxy/llm/providers/ernie"
	"github.com/BaSui01/gptproxy/llm/providers/hunyuan"
	"github.com/BaSui01/gptproxy/llm/providers/openaicompat"
	"github.com/BaSui01/gptproxy/llm/providers/qwen"
	"go.uber.org/zap"
)

// ProviderConfig is the generic configuration accepted by the factory function.
// Vendor-specific settings that are not credentials go in Extra.
type ProviderConfig struct {
	// Type selects the adapter when the configured name is an alias
	// (e.g. name "prod-qwen", type "qwen"). Empty means the name itself.
	Type    string        `json:"type,omitempty" yaml:"type,omitempty"`
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Hunyuan credentials.
	AppID     string `json:"app_id,omitempty" yaml:"app_id,omitempty"`
	SecretID  string `json:"secret_id,omitempty" yaml:"secret_id,omitempty"`
	SecretKey string `json:"secret_key,omitempty" yaml:"secret_key,omitempty"`

	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Query   map[string]string `json:"query,omitempty" yaml:"query,omitempty"`
	Extra   map[string]any    `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// preset describes an OpenAI-compatible vendor reachable with the generic adapter.
type preset struct {
	baseURL       string
	endpointPath  string
	fallbackModel string
}

var presets = map[string]preset{
	"openai":   {"https://api.openai.com", "/v1/chat/completions", "gpt-4o-mini"},
	"deepseek": {"https://api.deepseek.com", "/chat/completions", "deepseek-chat"},
	"kimi":     {"https://api.moonshot.cn", "/v1/chat/completions", "moonshot-v1-8k"},
	"grok":     {"https://api.x.ai", "/v1/chat/completions", "grok-beta"},
	"mistral":  {"https://api.mistral.ai", "/v1/chat/completions", "mistral-small-latest"},
	"glm":      {"https://open.bigmodel.cn", "/api/paas/v4/chat/completions", "glm-4-flash"},
	"doubao":   {"https://ark.cn-beijing.volces.com", "/api/v3/chat/completions", "Doubao-1.5-pro-32k"},
}

// aliases maps alternative names onto adapter types.
var aliases = map[string]string{
	"baidu":     "ernie",
	"wenxin":    "ernie",
	"tencent":   "hunyuan",
	"dashscope": "qwen",
	"aliyun":    "qwen",
}

// NewProviderFromConfig creates a Provider instance based on the provider name
// and a generic ProviderConfig.
//
// Native adapters: dify, ernie (baidu), hunyuan (tencent), qwen (dashscope).
// OpenAI-compatible presets: openai, deepseek, kimi, grok, mistral, glm, doubao.
// Any other name with a base_url becomes a generic OpenAI-compatible provider.
func NewProviderFromConfig(name string, cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kind := strings.ToLower(cfg.Type)
	if kind == "" {
		kind = strings.ToLower(name)
	}
	if a, ok := aliases[kind]; ok {
		kind = a
	}

	base := providers.BaseProviderConfig{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		Timeout:        cfg.Timeout,
		DefaultHeaders: cfg.Headers,
		DefaultQuery:   cfg.Query,
	}

	switch kind {
	case "dify":
		dc := providers.DifyConfig{BaseProviderConfig: base, User: providers.StringExtra(cfg.Extra, "user")}
		return dify.NewDifyProvider(dc, logger), nil

	case "ernie":
		return ernie.NewErnieProvider(providers.ErnieConfig{BaseProviderConfig: base}, logger), nil

	case "hunyuan":
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return nil, fmt.Errorf("provider %q: hunyuan requires secret_id and secret_key", name)
		}
		hc := providers.HunyuanConfig{
			BaseProviderConfig: base,
			AppID:              cfg.AppID,
			SecretID:           cfg.SecretID,
			SecretKey:          cfg.SecretKey,
		}
		return hunyuan.NewHunyuanProvider(hc, logger), nil

	case "qwen":
		qc := providers.QwenConfig{BaseProviderConfig: base, ResultFormat: providers.StringExtra(cfg.Extra, "result_format")}
		return qwen.NewQwenProvider(qc, logger), nil

	case "openaicompat":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("provider %q: base_url is required for openaicompat", name)
		}
		return newCompat(name, base, preset{}, cfg.Extra, logger), nil
	}

	if p, ok := presets[kind]; ok {
		return newCompat(kind, base, p, cfg.Extra, logger), nil
	}

	// 通用 OpenAI 兼容提供商：任意名称 + base_url 即可接入
	// 支持 Groq、Fireworks、OpenRouter、Ollama、vLLM 等
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("unknown provider %q: built-in provider not found, and base_url is required for generic OpenAI-compatible provider", name)
	}
	logger.Info("creating generic OpenAI-compatible provider",
		zap.String("provider", name),
		zap.String("base_url", cfg.BaseURL))
	return newCompat(name, base, preset{}, cfg.Extra, logger), nil
}

func newCompat(name string, base providers.BaseProviderConfig, p preset, extra map[string]any, logger *zap.Logger) *openaicompat.Provider {
	if base.BaseURL == "" {
		base.BaseURL = p.baseURL
	}
	oc := openaicompat.Config{
		ProviderName: name,
		OpenAICompatConfig: providers.OpenAICompatConfig{
			BaseProviderConfig: base,
			EndpointPath:       p.endpointPath,
			Organization:       providers.StringExtra(extra, "organization"),
		},
		FallbackModel: p.fallbackModel,
	}
	if v := providers.StringExtra(extra, "endpoint_path"); v != "" {
		oc.EndpointPath = v
	}
	return openaicompat.New(oc, logger)
}

// SupportedProviders returns the sorted list of built-in provider names.
// Any name not in this list will be treated as a generic OpenAI-compatible
// provider, requiring base_url in the configuration.
func SupportedProviders() []string {
	names := []string{"dify", "ernie", "hunyuan", "qwen", "openaicompat"}
	for name := range presets {
		names = append(names, name)
	}
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryConfig describes multiple providers and which one is the default.
// Use this with NewRegistryFromConfig to build a ProviderRegistry in one call.
type RegistryConfig struct {
	// Default is the name of the default provider (must match a key in Providers).
	Default string `json:"default" yaml:"default"`
	// Providers maps provider names to their configurations.
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
}

// NewRegistryFromConfig creates a ProviderRegistry populated with all providers
// defined in the RegistryConfig. It sets the default provider if specified.
// Any provider that fails to initialize is logged as a warning and skipped.
// wrap, when non-nil, decorates every provider before registration.
func NewRegistryFromConfig(cfg RegistryConfig, logger *zap.Logger, wrap func(llm.Provider) llm.Provider) (*llm.ProviderRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := llm.NewProviderRegistry()

	for name, pcfg := range cfg.Providers {
		p, err := NewProviderFromConfig(name, pcfg, logger)
		if err != nil {
			logger.Warn("skipping provider: initialization failed",
				zap.String("provider", name),
				zap.Error(err))
			continue
		}
		if wrap != nil {
			p = wrap(p)
		}
		reg.Register(name, p)
		logger.Info("provider registered", zap.String("provider", name))
	}

	if cfg.Default != "" {
		if err := reg.SetDefault(cfg.Default); err != nil {
			return reg, fmt.Errorf("failed to set default provider %q: %w", cfg.Default, err)
		}
	} else if names := reg.List(); len(names) == 1 {
		// 只有一个服务商时它就是默认服务商
		_ = reg.SetDefault(names[0])
	}

	return reg, nil
}
