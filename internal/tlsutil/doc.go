// Package tlsutil 提供上游服务商调用共用的 HTTP 客户端：
// TLS 1.2+、仅 AEAD 密码套件、按主机复用的连接池。
package tlsutil
