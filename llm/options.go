package llm

import (
	"net/http"
	"net/url"
)

// RequestOptions 单次调用的附加项，叠加在客户端默认 header/query 之上。
type RequestOptions struct {
	Headers http.Header
	Query   url.Values
}

// RequestOption 修改 RequestOptions。
type RequestOption func(*RequestOptions)

// WithHeader 为本次调用追加 header。
func WithHeader(key, value string) RequestOption {
	return func(o *RequestOptions) {
		if o.Headers == nil {
			o.Headers = make(http.Header)
		}
		o.Headers.Set(key, value)
	}
}

// WithQuery 为本次调用追加 query 参数。
func WithQuery(key, value string) RequestOption {
	return func(o *RequestOptions) {
		if o.Query == nil {
			o.Query = make(url.Values)
		}
		o.Query.Set(key, value)
	}
}

// ResolveOptions 按顺序应用 opts。
func ResolveOptions(opts ...RequestOption) RequestOptions {
	var o RequestOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
