// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义多服务商大模型网关的统一契约：请求、响应、流式分片、错误分类。

# 概述

各服务商（OpenAI 兼容、Dify、文心 Ernie、腾讯混元、阿里 DashScope/Qwen）
的接口、鉴权、错误语义与流式协议各不相同。本包只定义上层看到的统一形状，
具体转换由 llm/providers 下的各子包完成。

# 核心接口

  - [Provider]：Completion / Stream / Name
  - [Create]：按 ChatRequest.Stream 在调度前决定返回完整响应或惰性序列
  - [ChunkSource]：服务商流式事件到统一分片的单步转换

# 核心类型

  - [ChatRequest] / [ChatResponse] / [ChatChunk]：统一请求、响应与增量分片
  - [ChatStream]：可取消、单消费者、只进的惰性序列
  - [FinishReason]：结束原因，空值序列化为 null
  - [Credentials]：服务商凭据，所有输出形式均脱敏

# 错误分类

  - [TransportError]：网络/超时/DNS 失败，原样上抛
  - [Error]：服务商明确返回的错误，经映射表转换；HTTPStatus 为 0 表示未映射
  - [MalformedResponseError]：成功状态但响应结构不符，或流被截断

本层不做任何内部重试，错误一经发现立即返回调用方。
*/
package llm
