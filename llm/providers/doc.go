// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 是各提供商策略的公共基础层。子包 openai、anthropic、gemini、
mistral 与 openaicompat 依赖本包完成配置、错误映射与通用转换。

# 核心类型

  - BaseProviderConfig：所有 Provider 共享的基础配置（BaseURL）
  - OpenAIConfig / ClaudeConfig / GeminiConfig / MistralConfig / LocalConfig：
    各提供商的专有配置

# 核心函数

  - ObjectSchema：工具参数 schema 为空时回退为空对象 schema
  - MergeFields：序列化请求体并写入特殊工具等额外顶层字段
  - NewAPIError / ExtractErrorMessage：由非 2xx 响应构造 llm.APIError
  - StatusFromErrorType / StreamErrorEvent：把流内错误类型映射为等价状态码
  - ImageURL / HasImages：多模态图片内容辅助
  - JoinURL：拼接基础地址与路径
*/
package providers
