// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 gptproxy HTTP 前端的请求处理器。

# 概述

handlers 把统一适配层暴露为 OpenAI 兼容的 HTTP 接口。请求体即统一请求，
X-Provider 请求头或 provider 查询参数选择服务商，未指定时使用默认服务商。
所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - ChatHandler：POST /v1/chat/completions，同步 JSON 或 SSE 流式响应
  - HealthHandler：GET /health，执行已注册的本地检查
  - ErrorResponse：{"error":{"message","type","code"}} 错误响应体
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码与字节数

# 错误映射

  - *llm.Error 使用映射出的状态码，未映射时返回 502
  - 传输层超时返回 504，其余传输错误与响应结构错误返回 502
  - 流式响应开始后的错误以一个 data 错误事件结束，不发送 [DONE]
*/
package handlers
