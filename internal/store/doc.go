// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 store 提供基于 GORM 的持久化：提供商 API Key 表与交互日志表。

# 核心类型

  - ProviderAPIKey：provider_api_keys 表，按模型 ID 或提供商保存密钥
  - InteractionLog：interaction_logs 表，保存一次对话的请求、响应、错误与停止记录
  - KeyStore：按 模型 ID → 提供商 的顺序查找启用的密钥
  - Recorder：relay.InteractionRecorder 的异步实现，队列满时丢弃并计数

Migrate 通过 AutoMigrate 建表，支持 postgres / mysql / sqlite。
*/
package store
