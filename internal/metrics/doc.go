// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 serve 模式的
HTTP 入口与各服务商的上游调用两个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标。每个 Collector
持有独立的 Registry（附带 Go 运行时与进程指标），通过 Handler 暴露
/metrics，所有指标按 namespace 隔离。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、响应体大小、限流拒绝数，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - LLM 指标：上游请求总数与耗时（区分 stream）、Token 用量
    （prompt/completion）、按统一错误码分组的错误数、流式分片数、
    打开中的流数量与估算成本，按 provider/model 分组。
*/
package metrics
