package providers

import (
	"net/http"
	"net/url"
	"time"

	"github.com/BaSui01/gptproxy/llm/transport"
	"go.uber.org/zap"
)

// BaseProviderConfig 所有 Provider 共享的基础配置字段。
// 构造完成后各 Provider 只读使用，不会再修改。
type BaseProviderConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// DefaultHeaders / DefaultQuery 合并到每一次调用
	DefaultHeaders map[string]string `json:"default_headers,omitempty" yaml:"default_headers,omitempty"`
	DefaultQuery   map[string]string `json:"default_query,omitempty" yaml:"default_query,omitempty"`

	// HTTPClient 覆盖默认的连接池客户端（相当于自定义 httpAgent）
	HTTPClient *http.Client `json:"-" yaml:"-"`
}

// OpenAICompatConfig OpenAI 兼容 Provider 配置
type OpenAICompatConfig struct {
	BaseProviderConfig `yaml:",inline"`
	// EndpointPath 聊天补全路径，默认 /v1/chat/completions
	EndpointPath string `json:"endpoint_path,omitempty" yaml:"endpoint_path,omitempty"`
	Organization string `json:"organization,omitempty" yaml:"organization,omitempty"`
}

// DifyConfig Dify 应用 Provider 配置（APIKey 为应用密钥）
type DifyConfig struct {
	BaseProviderConfig `yaml:",inline"`
	// User 未在请求中指定 user 时使用的终端用户标识
	User string `json:"user,omitempty" yaml:"user,omitempty"`
}

// ErnieConfig 百度文心 Provider 配置（APIKey 为 access_token）
type ErnieConfig struct {
	BaseProviderConfig `yaml:",inline"`
}

// HunyuanConfig 腾讯混元 Provider 配置
type HunyuanConfig struct {
	BaseProviderConfig `yaml:",inline"`
	AppID              string `json:"app_id" yaml:"app_id"`
	SecretID           string `json:"secret_id" yaml:"secret_id"`
	SecretKey          string `json:"secret_key" yaml:"secret_key"`
}

// QwenConfig 阿里 DashScope/Qwen Provider 配置
type QwenConfig struct {
	BaseProviderConfig `yaml:",inline"`
	// ResultFormat text 或 message，默认 text
	ResultFormat string `json:"result_format,omitempty" yaml:"result_format,omitempty"`
}

// NewTransport 以统一方式从基础配置构造传输层客户端。
func NewTransport(provider string, cfg BaseProviderConfig, defaultBaseURL string, auth transport.Authenticator, logger *zap.Logger) *transport.Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	var headers http.Header
	if len(cfg.DefaultHeaders) > 0 {
		headers = make(http.Header, len(cfg.DefaultHeaders))
		for k, v := range cfg.DefaultHeaders {
			headers.Set(k, v)
		}
	}
	var query url.Values
	if len(cfg.DefaultQuery) > 0 {
		query = make(url.Values, len(cfg.DefaultQuery))
		for k, v := range cfg.DefaultQuery {
			query.Set(k, v)
		}
	}
	return transport.New(transport.Config{
		Provider:       provider,
		BaseURL:        baseURL,
		Timeout:        cfg.Timeout,
		HTTPClient:     cfg.HTTPClient,
		DefaultHeaders: headers,
		DefaultQuery:   query,
		Auth:           auth,
		Logger:         logger,
	})
}
