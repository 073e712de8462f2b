package factory

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BaSui01/gptproxy/llm"
	"github.com/BaSui01/gptproxy/llm/providers/openaicompat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// Factory Tests
// =============================================================================

func TestNewProviderFromConfig_AllProviders(t *testing.T) {
	logger := zap.NewNop()
	hunyuanCfg := ProviderConfig{AppID: "1300000000", SecretID: "sid", SecretKey: "skey"}

	tests := []struct {
		name         string
		providerName string
		cfg          ProviderConfig
		wantName     string
	}{
		{name: "openai", providerName: "openai", cfg: ProviderConfig{APIKey: "sk-test"}, wantName: "openai"},
		{name: "deepseek", providerName: "deepseek", cfg: ProviderConfig{APIKey: "sk-test"}, wantName: "deepseek"},
		{name: "kimi", providerName: "kimi", cfg: ProviderConfig{APIKey: "sk-test"}, wantName: "kimi"},
		{name: "glm", providerName: "glm", cfg: ProviderConfig{APIKey: "sk-test"}, wantName: "glm"},
		{name: "dify", providerName: "dify", cfg: ProviderConfig{APIKey: "app-test"}, wantName: "dify"},
		{name: "ernie", providerName: "ernie", cfg: ProviderConfig{APIKey: "token"}, wantName: "ernie"},
		{name: "baidu alias", providerName: "baidu", cfg: ProviderConfig{APIKey: "token"}, wantName: "ernie"},
		{name: "hunyuan", providerName: "hunyuan", cfg: hunyuanCfg, wantName: "hunyuan"},
		{name: "tencent alias", providerName: "tencent", cfg: hunyuanCfg, wantName: "hunyuan"},
		{name: "qwen", providerName: "qwen", cfg: ProviderConfig{APIKey: "sk-test"}, wantName: "qwen"},
		{name: "dashscope alias", providerName: "dashscope", cfg: ProviderConfig{APIKey: "sk-test"}, wantName: "qwen"},
		{name: "type overrides name", providerName: "prod-qwen", cfg: ProviderConfig{Type: "qwen", APIKey: "sk-test"}, wantName: "qwen"},
		{name: "case insensitive", providerName: "Dify", cfg: ProviderConfig{APIKey: "app-test"}, wantName: "dify"},
		{
			name:         "openaicompat keeps configured name",
			providerName: "local-vllm",
			cfg:          ProviderConfig{Type: "openaicompat", BaseURL: "http://localhost:8000"},
			wantName:     "local-vllm",
		},
		{
			name:         "generic with base_url",
			providerName: "groq",
			cfg:          ProviderConfig{APIKey: "gsk", BaseURL: "https://api.groq.com/openai"},
			wantName:     "groq",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProviderFromConfig(tt.providerName, tt.cfg, logger)
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}

func TestNewProviderFromConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		pname   string
		cfg     ProviderConfig
		wantMsg string
	}{
		{"unknown without base_url", "unknown-provider", ProviderConfig{APIKey: "k"}, "base_url is required"},
		{"openaicompat without base_url", "x", ProviderConfig{Type: "openaicompat"}, "base_url is required"},
		{"hunyuan without secrets", "hunyuan", ProviderConfig{AppID: "1"}, "secret_id and secret_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProviderFromConfig(tt.pname, tt.cfg, nil)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestNewProviderFromConfig_PresetEndpoint(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"deepseek", "/chat/completions"},
		{"glm", "/api/paas/v4/chat/completions"},
		{"doubao", "/api/v3/chat/completions"},
		{"openai", "/v1/chat/completions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProviderFromConfig(tt.name, ProviderConfig{APIKey: "k"}, nil)
			require.NoError(t, err)
			compat, ok := p.(*openaicompat.Provider)
			require.True(t, ok)
			assert.Equal(t, tt.path, compat.EndpointPath())
		})
	}

	p, err := NewProviderFromConfig("deepseek", ProviderConfig{Extra: map[string]any{"endpoint_path": "/beta/chat/completions"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/beta/chat/completions", p.(*openaicompat.Provider).EndpointPath())
}

func TestNewProviderFromConfig_HeadersAndModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "prod", r.Header.Get("X-Env"))
		assert.Equal(t, "2024-02-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "org-1", r.Header.Get("OpenAI-Organization"))
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","created":1,"model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}))
	t.Cleanup(server.Close)

	p, err := NewProviderFromConfig("openai", ProviderConfig{
		APIKey:  "sk",
		BaseURL: server.URL,
		Model:   "gpt-4o",
		Headers: map[string]string{"X-Env": "prod"},
		Query:   map[string]string{"api-version": "2024-02-01"},
		Extra:   map[string]any{"organization": "org-1"},
	}, nil)
	require.NoError(t, err)

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content())
}

func TestSupportedProviders(t *testing.T) {
	names := SupportedProviders()
	for _, want := range []string{"dify", "ernie", "baidu", "hunyuan", "qwen", "dashscope", "openai", "openaicompat", "deepseek"} {
		assert.Contains(t, names, want)
	}
	assert.IsIncreasing(t, names)
}

func TestNewRegistryFromConfig(t *testing.T) {
	var wrapped []string
	reg, err := NewRegistryFromConfig(RegistryConfig{
		Default: "qwen",
		Providers: map[string]ProviderConfig{
			"qwen":    {APIKey: "sk"},
			"dify":    {APIKey: "app"},
			"broken":  {APIKey: "k"},
			"hunyuan": {},
		},
	}, zap.NewNop(), func(p llm.Provider) llm.Provider {
		wrapped = append(wrapped, p.Name())
		return p
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"dify", "qwen"}, reg.List())
	assert.ElementsMatch(t, []string{"dify", "qwen"}, wrapped)

	p, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "qwen", p.Name())

	_, err = reg.Resolve("broken")
	assert.Equal(t, llm.ErrNotFound, llm.CodeOf(err))
	assert.Equal(t, http.StatusNotFound, llm.StatusOf(err))

	_, err = NewRegistryFromConfig(RegistryConfig{Default: "missing"}, nil, nil)
	assert.Error(t, err)
}

func TestNewRegistryFromConfig_SingleProviderIsDefault(t *testing.T) {
	reg, err := NewRegistryFromConfig(RegistryConfig{
		Providers: map[string]ProviderConfig{"ernie": {APIKey: "24.token"}},
	}, nil, nil)
	require.NoError(t, err)

	p, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "ernie", p.Name())
}

// =============================================================================
// Registry Tests
// =============================================================================

func TestProviderRegistry_RegisterAndGet(t *testing.T) {
	reg := llm.NewProviderRegistry()
	p, _ := NewProviderFromConfig("deepseek", ProviderConfig{APIKey: "sk-test"}, nil)

	reg.Register("deepseek", p)

	got, ok := reg.Get("deepseek")
	assert.True(t, ok)
	assert.Equal(t, "deepseek", got.Name())

	_, ok = reg.Get("nonexistent")
	assert.False(t, ok)
}

func TestProviderRegistry_DefaultProvider(t *testing.T) {
	reg := llm.NewProviderRegistry()
	p, _ := NewProviderFromConfig("deepseek", ProviderConfig{APIKey: "sk-test"}, nil)
	reg.Register("deepseek", p)

	// No default set yet
	_, err := reg.Default()
	require.Error(t, err)

	// Set default
	err = reg.SetDefault("deepseek")
	require.NoError(t, err)

	got, err := reg.Default()
	require.NoError(t, err)
	assert.Equal(t, "deepseek", got.Name())

	// Set default to unregistered name
	err = reg.SetDefault("nonexistent")
	require.Error(t, err)
}

func TestProviderRegistry_List(t *testing.T) {
	reg := llm.NewProviderRegistry()
	p1, _ := NewProviderFromConfig("deepseek", ProviderConfig{APIKey: "sk-test"}, nil)
	p2, _ := NewProviderFromConfig("qwen", ProviderConfig{APIKey: "sk-test"}, nil)

	reg.Register("deepseek", p1)
	reg.Register("qwen", p2)

	names := reg.List()
	assert.Equal(t, []string{"deepseek", "qwen"}, names)
}

func TestProviderRegistry_Unregister(t *testing.T) {
	reg := llm.NewProviderRegistry()
	p, _ := NewProviderFromConfig("deepseek", ProviderConfig{APIKey: "sk-test"}, nil)
	reg.Register("deepseek", p)
	reg.SetDefault("deepseek")

	reg.Unregister("deepseek")

	_, ok := reg.Get("deepseek")
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())

	// Default should be cleared
	_, err := reg.Default()
	require.Error(t, err)
}

func TestProviderRegistry_Len(t *testing.T) {
	reg := llm.NewProviderRegistry()
	assert.Equal(t, 0, reg.Len())

	p, _ := NewProviderFromConfig("deepseek", ProviderConfig{APIKey: "sk-test"}, nil)
	reg.Register("deepseek", p)
	assert.Equal(t, 1, reg.Len())
}

func TestProviderRegistry_ConcurrentAccess(t *testing.T) {
	reg := llm.NewProviderRegistry()
	var wg sync.WaitGroup

	// Concurrent writes
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			p, _ := NewProviderFromConfig("deepseek", ProviderConfig{APIKey: "sk-test"}, nil)
			name := "provider-" + string(rune('a'+idx%26))
			reg.Register(name, p)
		}(i)
	}

	// Concurrent reads
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.List()
			reg.Len()
			reg.Get("deepseek")
		}()
	}

	wg.Wait()
	// No panic = pass
}
