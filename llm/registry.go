package llm

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// ProviderRegistry 按名称管理已配置的 Provider，并可指定一个默认 Provider。
// 并发安全；serve 模式按请求的 X-Provider 从这里取用。
type ProviderRegistry struct {
	providers       map[string]Provider
	defaultProvider string
	mu              sync.RWMutex
}

// NewProviderRegistry 创建空的注册表。
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]Provider),
	}
}

// Register 以 name 注册 Provider，同名时覆盖。
func (r *ProviderRegistry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get 按名称取 Provider。
func (r *ProviderRegistry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Default 返回默认 Provider；未设置或已被注销时返回错误。
func (r *ProviderRegistry) Default() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultProvider == "" {
		return nil, fmt.Errorf("no default provider set")
	}
	p, ok := r.providers[r.defaultProvider]
	if !ok {
		return nil, fmt.Errorf("default provider %q not found in registry", r.defaultProvider)
	}
	return p, nil
}

// Resolve 返回 name 对应的 Provider，name 为空时返回默认 Provider。
// 找不到时返回 ErrNotFound（404）的 *Error，可直接渲染给调用方。
func (r *ProviderRegistry) Resolve(name string) (Provider, error) {
	if name == "" {
		p, err := r.Default()
		if err != nil {
			return nil, &Error{Code: ErrNotFound, Message: err.Error(), HTTPStatus: http.StatusNotFound}
		}
		return p, nil
	}
	p, ok := r.Get(name)
	if !ok {
		return nil, &Error{Code: ErrNotFound, Message: fmt.Sprintf("provider %q not configured", name), HTTPStatus: http.StatusNotFound}
	}
	return p, nil
}

// SetDefault 指定默认 Provider，name 必须已注册。
func (r *ProviderRegistry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q not registered", name)
	}
	r.defaultProvider = name
	return nil
}

// List 返回排序后的全部名称。
func (r *ProviderRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister 注销 Provider；若为默认 Provider 则清除默认设置。
func (r *ProviderRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, name)
	if r.defaultProvider == name {
		r.defaultProvider = ""
	}
}

// Len 返回已注册数量。
func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
