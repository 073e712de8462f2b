// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package config 提供 gptproxy 的配置加载。
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量。服务商密钥可以只通过环境变量
// 提供，例如 GPTPROXY_PROVIDERS_QWEN_API_KEY。
package config
