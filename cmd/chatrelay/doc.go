// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package main 提供 ChatRelay 服务端程序入口。

# 概述

cmd/chatrelay 是聊天中继服务的可执行入口，提供 HTTP API 服务、
健康检查和版本查询等子命令。程序从 YAML 配置文件与 CHATRELAY_
前缀的环境变量加载配置，使用 zap 输出结构化日志，并在独立端口
暴露 Prometheus 指标。

# 核心类型

  - Server：主服务器，按依赖顺序组装存储、目录、中继与 Handler
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、version、health（探测 /health 或 /ready）
  - 中间件链：Recovery、RequestID、OTelTracing、MetricsMiddleware、
    SecurityHeaders、RequestLogger、CORS、APIKeyAuth、JWTAuth、RateLimiter
  - 可选依赖：数据库（API Key 表与交互日志）、Redis（API Key 缓存）
  - 目录热更新：catalog.reload_interval 大于 0 时轮询目录文件
  - 优雅关闭：信号 → 关闭 HTTP（结束所有会话）→ 停止后台任务 → 刷新交互日志 → 关闭连接
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
