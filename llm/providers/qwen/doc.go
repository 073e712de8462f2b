// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 qwen 提供阿里巴巴通义千问（Qwen）在 DashScope 原生接口上的 Provider 适配实现。

# 概述

DashScope 原生接口把输入放在 input（messages 或 prompt）下，生成参数放在
parameters 下，流式输出通过 X-DashScope-SSE: enable 开启。流式输出有两种模式：

  - 增量（incremental_output=true）：每个事件只携带新生成的文本
  - 累积（incremental_output 未设置或为 false）：每个事件重复此前已生成的全部文本

本包对累积模式逐事件求差，调用方拿到的始终是真正的增量。

# 核心接口

  - QwenProvider：对话门面，实现 llm.Provider；stream_options.incremental_output
    默认为 ChatIncrementalDefault（true）
  - Completions：文本补全门面（prompt 输入），incremental_output 默认为
    CompletionsIncrementalDefault（false，即累积）

# 错误映射

DashScope 以字符串错误码表达失败（InvalidApiKey、Throttling 等），本包按错误码
映射 HTTP 语义，未知错误码回退到响应状态；流式 event:error 事件中止序列，
状态取自 ":HTTP_STATUS/xxx" 注释行。
*/
package qwen
