// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 gemini 提供 Google Gemini 系列模型的请求策略，
对接 Generative Language API 的 generateContent 与
streamGenerateContent（alt=sse）端点。

# 核心结构体

  - GeminiProvider：独立实现 llm.Provider 接口

# 协议差异

  - 认证使用 x-goog-api-key 请求头
  - 模型名位于 URL 路径中，动作后缀按是否流式选择
  - assistant 角色映射为 model，system 消息进入 systemInstruction
  - 工具结果转换为 user 角色的 functionResponse，response 必须为 JSON 对象
  - 函数参数 schema 会去除 $schema / additionalProperties
  - 流式响应没有结束标记，以 finishReason + 响应体结束判定完成
  - 未携带 ID 的 functionCall 会生成 call_ 前缀的本地 ID

# 特殊工具

  - web_search → tools 数组中的 googleSearch 条目
*/
package gemini
