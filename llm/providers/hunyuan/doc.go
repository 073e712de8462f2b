// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 hunyuan 提供腾讯混元（hyllm 原生接口）的 Provider 适配实现。

混元原生接口把鉴权参数（app_id、secret_id、timestamp、expired、query_id）
放在请求体内，并要求对整个请求体签名：参数按键名排序后拼接为
host+path?k1=v1&k2=v2…，以 SecretKey 做 HMAC-SHA1，Base64 后放入
Authorization 头。签名包含时间戳，每次请求重新计算，从不缓存。

# 核心结构体

  - HunyuanProvider：实现 llm.Provider
  - Signer：请求签名，可单独用于校验

# 构造函数

  - NewHunyuanProvider(cfg, logger, opts...)：WithClock / WithQueryID 用于注入时钟与请求 ID

# 默认值

  - temperature、top_p 未指定时均为 0.8
  - expired = timestamp + 7200
  - stream 编码为 0 / 1
*/
package hunyuan
