// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 server 提供 HTTP 服务器生命周期管理。

# 核心类型

  - Manager：封装 net/http.Server，提供非阻塞 Start、Wait、Shutdown。
    OnShutdown 注册的回调在关闭开始时执行，用于先结束 SSE / WebSocket
    等长连接，使 Shutdown 不必等到超时
  - Config：监听地址、读写与空闲超时、最大请求头、优雅关闭超时

流式接口要求 WriteTimeout 为 0，否则长连接会被服务器截断。
*/
package server
