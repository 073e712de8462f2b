// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 observability 为 llm.Provider 提供可观测性包装，涵盖分布式追踪、
Prometheus 指标与成本估算。

# 概述

Instrument 返回一个与被包装 Provider 行为完全一致的 Provider：
每次调用创建一个 OpenTelemetry Span（llm.completion / llm.stream），
并把请求数、耗时、Token、错误码与估算成本写入 internal/metrics.Collector。
流式调用的 Span 持续到序列结束（正常结束、出错或被取消）。

# 核心类型

  - Provider：带观测能力的 llm.Provider 包装器。
  - CostCalculator：成本计算器，内置 OpenAI、DeepSeek、Qwen、ERNIE、
    混元、GLM 等模型价格，支持按配置批量更新。

# Span 属性

  - llm.provider、llm.model、llm.stream
  - llm.error_code、llm.http_status、llm.vendor_code（出错时）
  - llm.usage.prompt_tokens、llm.usage.completion_tokens、llm.cost_usd
  - llm.stream.chunks（流式）
*/
package observability
