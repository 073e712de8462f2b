// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 ernie 提供百度文心一言（千帆 wenxinworkshop）的 Provider 适配实现。

文心接口无论成败 HTTP 状态都是 200，失败通过响应体中的 error_code 表达，
因此本包在任何响应形状转换之前先执行 AssertNonZero，把内部错误码合成为
HTTP 语义的 llm.Error。

# 核心结构体

  - ErnieProvider：access_token 认证，按模型名路由到 /chat/{endpoint}

# 核心函数

  - AssertNonZero(code, message)：错误码为 0 时返回 nil，否则返回映射后的错误
  - Endpoint(model)：模型名到接口路径的映射，未知模型名原样使用

# 错误码映射

	2                    → 500 内部错误
	6, 111               → 403 无权限 / token 过期
	17, 18, 19, 40407    → 429 限流
	110, 40401           → 401 token 无效
	336003               → 400 参数错误
	336100               → 500 服务暂时不可用（可重试）
	其他                  → 未映射（HTTPStatus 为 0）
*/
package ernie
