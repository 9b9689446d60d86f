// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 claude 提供 Anthropic Claude 系列模型的请求策略。
Claude API 与 OpenAI 格式有显著差异，本包负责将统一的消息与工具表示
映射到 Anthropic Messages API（/v1/messages），并解码其流式事件。

# 核心结构体

  - ClaudeProvider：独立实现 llm.Provider 接口（未嵌入 openaicompat）

# 协议差异

  - 认证使用 x-api-key 请求头（非 Bearer Token），并携带 anthropic-version
  - system 消息从 messages 数组中提取，单独传递到 system 字段
  - 消息 content 为数组形式，支持 text / image / tool_use / tool_result 混合
  - Tool 结果需包装为 user 角色的 tool_result 类型
  - max_tokens 必填，未配置时使用 4096
  - 流式 SSE 事件结构独立（message_start / content_block_delta 等），
    ping 保活事件忽略，error 事件转换为 ProviderError

# 特殊工具

  - web_search → tools 数组中的 web_search_20250305 服务端工具条目
*/
package claude
