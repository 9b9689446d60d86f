// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package handlers 提供 ChatRelay HTTP API 的请求处理器实现。

# 概述

handlers 包把聊天路由连接到 relay 包：SSE 与 WebSocket 两种传输
实现 relay.Transport，轮次提交、停止与状态查询直接调用 relay.Relay。
所有 Handler 均遵循标准 net/http 接口，路由使用 Go 1.22 的方法与路径模式。

# 核心类型

  - ChatHandler：聊天路由，包括事件流订阅、轮次提交、停止、状态
  - SSETransport：text/event-stream 传输，定期写出 ": keep-alive" 注释
  - WSTransport：WebSocket 传输，帧格式为 {"event", "data"}
  - HealthHandler：健康检查（/health, /healthz, /ready, /version）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 code、kind、recommendation
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteClassifiedError / WriteJSON
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码映射（4xx/5xx）
  - 同步轮次的错误经 llm.Classify 分类后返回，流式轮次的错误以 error 事件推送
  - 可扩展健康检查：RegisterCheck 注册数据库、Redis 等依赖检查
*/
package handlers
