// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BaSui01/gptproxy/llm/factory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gptproxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Empty(t, cfg.Providers)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8888
  read_timeout: 60s
  rate_limit_rps: 5
  rate_limit_burst: 10

log:
  level: "debug"
  format: "console"
  file:
    path: "/var/log/gptproxy.log"

default: qwen
providers:
  qwen:
    api_key: "sk-dashscope"
    model: "qwen-plus"
    extra:
      result_format: message
  prod-hunyuan:
    type: hunyuan
    app_id: "1300000000"
    secret_id: "AKID"
    secret_key: "secret"
    timeout: 45s

prices:
  - provider: qwen
    model: qwen-plus
    price_input: 0.001
    price_output: 0.002
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5.0, cfg.Server.RateLimitRPS)
	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/log/gptproxy.log", cfg.Log.File.Path)
	assert.Equal(t, 100, cfg.Log.File.MaxSizeMB)

	assert.Equal(t, "qwen", cfg.Default)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "sk-dashscope", cfg.Providers["qwen"].APIKey)
	assert.Equal(t, "message", cfg.Providers["qwen"].Extra["result_format"])
	hy := cfg.Providers["prod-hunyuan"]
	assert.Equal(t, "hunyuan", hy.Type)
	assert.Equal(t, "AKID", hy.SecretID)
	assert.Equal(t, 45*time.Second, hy.Timeout)

	require.Len(t, cfg.Prices, 1)
	assert.Equal(t, 0.002, cfg.Prices[0].PriceOutput)

	reg := cfg.Registry()
	assert.Equal(t, "qwen", reg.Default)
	assert.Len(t, reg.Providers, 2)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("GPTPROXY_SERVER_HTTP_PORT", "9000")
	t.Setenv("GPTPROXY_SERVER_SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("GPTPROXY_LOG_OUTPUT_PATHS", "stdout, /tmp/a.log")
	t.Setenv("GPTPROXY_LOG_FILE_COMPRESS", "false")
	t.Setenv("GPTPROXY_TELEMETRY_SAMPLE_RATE", "0.5")
	t.Setenv("GPTPROXY_TELEMETRY_EXPORT_METRICS", "true")
	t.Setenv("GPTPROXY_TELEMETRY_METRIC_INTERVAL", "15s")
	t.Setenv("GPTPROXY_DEFAULT", "ernie")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"stdout", "/tmp/a.log"}, cfg.Log.OutputPaths)
	assert.False(t, cfg.Log.File.Compress)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
	assert.True(t, cfg.Telemetry.ExportMetrics)
	assert.Equal(t, 15*time.Second, cfg.Telemetry.MetricInterval)
	assert.Equal(t, "ernie", cfg.Default)
}

func TestLoader_ProvidersFromEnv(t *testing.T) {
	path := writeConfig(t, `
providers:
  prod-hunyuan:
    type: hunyuan
    app_id: "1300000000"
`)
	t.Setenv("GPTPROXY_PROVIDERS_PROD_HUNYUAN_SECRET_ID", "AKID-env")
	t.Setenv("GPTPROXY_PROVIDERS_PROD_HUNYUAN_SECRET_KEY", "key-env")
	t.Setenv("GPTPROXY_PROVIDERS_ERNIE_API_KEY", "24.token")
	t.Setenv("GPTPROXY_PROVIDERS_ERNIE_TIMEOUT", "20s")
	t.Setenv("GPTPROXY_PROVIDERS_MY_VLLM_BASE_URL", "http://vllm:8000")
	t.Setenv("GPTPROXY_PROVIDERS_MY_VLLM_TYPE", "openaicompat")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 3)
	hy := cfg.Providers["prod-hunyuan"]
	assert.Equal(t, "1300000000", hy.AppID, "file value kept")
	assert.Equal(t, "AKID-env", hy.SecretID)
	assert.Equal(t, "key-env", hy.SecretKey)

	assert.Equal(t, factory.ProviderConfig{APIKey: "24.token", Timeout: 20 * time.Second}, cfg.Providers["ernie"])
	assert.Equal(t, "http://vllm:8000", cfg.Providers["my_vllm"].BaseURL)
	assert.Equal(t, "openaicompat", cfg.Providers["my_vllm"].Type)
}

func TestLoader_ProvidersFromEnv_InvalidTimeout(t *testing.T) {
	t.Setenv("GPTPROXY_PROVIDERS_QWEN_TIMEOUT", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GPTPROXY_PROVIDERS_QWEN_TIMEOUT")
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8888
providers:
  qwen:
    api_key: "from-file"
`)
	t.Setenv("GPTPROXY_SERVER_HTTP_PORT", "7777")
	t.Setenv("GPTPROXY_PROVIDERS_QWEN_API_KEY", "from-env")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, "from-env", cfg.Providers["qwen"].APIKey)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("PROXY_SERVER_HTTP_PORT", "6666")
	t.Setenv("GPTPROXY_SERVER_HTTP_PORT", "5555")

	cfg, err := NewLoader().WithEnvPrefix("PROXY").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("GPTPROXY_SERVER_HTTP_PORT", "70000")

	_, err := NewLoader().WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/gptproxy.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("GPTPROXY_SERVER_HTTP_PORT", "eighty")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GPTPROXY_SERVER_HTTP_PORT")
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "port zero", modify: func(c *Config) { c.Server.HTTPPort = 0 }, wantErr: "invalid HTTP port"},
		{name: "negative rps", modify: func(c *Config) { c.Server.RateLimitRPS = -1 }, wantErr: "rate_limit_rps"},
		{name: "rps without burst", modify: func(c *Config) { c.Server.RateLimitBurst = 0 }, wantErr: "rate_limit_burst"},
		{name: "rate limit off", modify: func(c *Config) { c.Server.RateLimitRPS, c.Server.RateLimitBurst = 0, 0 }},
		{name: "half tls", modify: func(c *Config) { c.Server.TLSCertFile = "cert.pem" }, wantErr: "tls_cert_file"},
		{name: "bad level", modify: func(c *Config) { c.Log.Level = "verbose" }, wantErr: "unknown log level"},
		{name: "bad format", modify: func(c *Config) { c.Log.Format = "xml" }, wantErr: "unknown log format"},
		{name: "bad sample rate", modify: func(c *Config) { c.Telemetry.SampleRate = 1.5 }, wantErr: "sample_rate"},
		{name: "negative metric interval", modify: func(c *Config) { c.Telemetry.MetricInterval = -time.Second }, wantErr: "metric_interval"},
		{name: "negative retries", modify: func(c *Config) { c.Retry.MaxRetries = -1 }, wantErr: "max_retries"},
		{
			name: "unknown default",
			modify: func(c *Config) {
				c.Default = "qwen"
				c.Providers = map[string]factory.ProviderConfig{"ernie": {APIKey: "t"}}
			},
			wantErr: `default provider "qwen"`,
		},
		{
			name: "known default",
			modify: func(c *Config) {
				c.Default = "ernie"
				c.Providers = map[string]factory.ProviderConfig{"ernie": {APIKey: "t"}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = -1
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
	assert.Contains(t, err.Error(), "unknown log format")
}

// --- 辅助函数测试 ---

func TestMustLoad_Success(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: 8181\n")

	assert.NotPanics(t, func() {
		cfg := MustLoad(path)
		assert.Equal(t, 8181, cfg.Server.HTTPPort)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	path := writeConfig(t, "server: [")

	assert.Panics(t, func() {
		MustLoad(path)
	})
}
