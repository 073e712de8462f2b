// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 提供跨模型服务商的通用适配与辅助能力，是所有具体 Provider
实现的公共基础层。各服务商子包（openaicompat、dify、ernie、hunyuan、qwen）
依赖本包完成配置、错误映射、时间戳解析与流式事件的统一消费。

# 核心类型

  - BaseProviderConfig：所有 Provider 共享的基础配置（APIKey、BaseURL、Model、Timeout、默认 header/query）
  - UnixTime：兼容数字与字符串的 unix 时间戳
  - SSESource / EventHandler：SSE 事件到统一分片的惰性转换

# 核心函数

  - MapHTTPError：将 HTTP 状态码映射为语义化的 llm.Error（含 Retryable 标记）
  - FromTransportError：将传输层的非 2xx 响应交给服务商错误映射
  - MergeExtra：透传字段合并进请求体
  - NormalizeFinishReason：结束原因映射，未知取值原样透传
  - CumulativeDelta：累积式流输出转增量
*/
package providers
