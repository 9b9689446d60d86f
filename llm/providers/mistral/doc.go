// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 mistral 提供 Mistral AI 模型的请求策略。Mistral 使用 OpenAI 兼容的
API 格式，本包通过嵌入 openaicompat.Provider 复用请求构建、工具映射与
SSE 解析等通用逻辑。

# 核心结构体

  - MistralProvider：嵌入 openaicompat.Provider，实现 llm.Provider

# 定制行为

  - 默认 BaseURL: https://api.mistral.ai
  - tool_choice 的 required 写作 "any"
  - 工具结果消息补齐 name 字段
  - 不支持 web_search 等特殊工具，构建请求时丢弃并记录警告
*/
package mistral
