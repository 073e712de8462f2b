// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 dify 提供 Dify 应用（Chat App / Agent App）的 Provider 适配实现。
Dify 不接收消息列表，而是以单条 query 加会话 ID 的方式对话，本包负责
把统一请求折叠为 Dify 的 chat-messages 请求，并把其事件流还原为统一分片。

# 核心结构体

  - DifyProvider：持有应用密钥与传输层客户端，实现 llm.Provider

# 构造函数

  - NewDifyProvider(cfg, logger)：默认 BaseURL 为 https://api.dify.ai/v1

# 请求转换

  - 最后一条 user 消息 → query
  - Extra["inputs"]、Extra["conversation_id"] 原样透传
  - user 未指定时使用配置值，再退回 "gptproxy"
  - response_mode：blocking 或 streaming

# 流式事件

  - message / agent_message / message_replace → 增量分片
  - message_end → 最终分片（finish_reason=stop，携带 usage）
  - error → *llm.Error，中止序列
  - ping、workflow_*、node_*、agent_thought 等事件跳过
*/
package dify
