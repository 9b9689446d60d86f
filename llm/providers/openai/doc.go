// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 openai 提供 OpenAI 模型的请求策略。该包在 openaicompat 基础上扩展，
负责 Organization 头、流式用量统计与 web_search 特殊工具的字段映射。

# 核心结构体

  - OpenAIProvider：嵌入 openaicompat.Provider，实现 llm.Provider

# 支持能力

  - Chat Completions（/v1/chat/completions）
  - 流式输出（SSE，stream_options.include_usage）
  - 原生 Function Calling / Tool Use
  - web_search 特殊工具 → 顶层 web_search_options 字段
  - Organization header 支持
*/
package openai
