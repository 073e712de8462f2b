// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 gptproxy HTTP/HTTPS 服务器的生命周期管理。

# 概述

Manager 封装 net/http.Server：Start 非阻塞启动，Run 在 errgroup 中
运行服务并在 ctx 结束时优雅关闭，Shutdown 在配置的超时内排空请求。
设置证书与私钥时以 tlsutil 的加固配置启动 HTTPS。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道。
  - Config：监听地址、超时、最大请求头大小与 TLS 文件。
*/
package server
