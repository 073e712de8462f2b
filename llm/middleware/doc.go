// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 middleware 提供请求改写器链：在统一请求被转换为服务商请求体之前，
按顺序执行参数清理与修正。

# 核心接口

  - RequestRewriter：请求改写器接口，包含 Rewrite 与 Name 方法。
  - RewriterChain：改写器链，按顺序执行多个 RequestRewriter，任一失败即中断。

# 内置改写器

  - EmptyToolsCleaner：Tools 为空时清除 ToolChoice，避免上游 400。
  - TemperatureClamp：把 temperature/top_p 限制在服务商接受的区间内。

改写器从不修改调用方传入的请求，需要修改时先 Clone。
*/
package middleware
