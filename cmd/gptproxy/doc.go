// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package main 提供 gptproxy 可执行程序入口。

# 概述

cmd/gptproxy 把统一的聊天补全契约暴露为 HTTP 服务，同时提供命令行
直接调用服务商的 chat 子命令。配置来自 YAML 文件与 GPTPROXY_ 前缀的
环境变量，日志使用 zap（可选 lumberjack 滚动文件），指标使用 Prometheus，
链路使用 OpenTelemetry。

# 核心类型

  - Server：组装服务商注册表、路由、中间件与 server.Manager
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、chat、version、health
  - 路由：POST /v1/chat/completions、GET /health、GET /version、GET /metrics
  - 中间件链：RequestID、Recovery、SecurityHeaders、OTelTracing、
    RequestLogger、MetricsMiddleware、RateLimiter（基于 IP）
  - 服务商包装：observability.Instrument 记录每次上游调用，
    retry.Wrap 在配置 max_retries 时重试可重试错误
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
