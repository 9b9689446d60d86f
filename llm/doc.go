// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 llm 提供统一的大语言模型请求构建与响应归一层。

# 概述

本包屏蔽 OpenAI、Anthropic、Google Gemini、Mistral 与本地 OpenAI 兼容端点
在请求格式、鉴权头、工具调用与流式协议上的差异。上层只面对统一的
types.Message、types.ToolDefinition 与 StreamEvent。

本包不发起网络调用。它只构建 *CompletionRequest，并解释提供商返回的数据。

# 核心接口

  - [Provider]：单个提供商的策略，组合 [RequestBuilder]、[ToolMapper]、
    [ResponseParser] 与流解码器工厂
  - [StreamDecoder]：解释一次流式响应的 SSE 帧，检测终止标记
  - [StreamEvent]：封闭的事件接口，取值为 [TextDelta]、[ToolCallDelta]、
    [Complete] 与 [ProviderError]

# 核心类型

  - [Registry]：按 [ProviderID] 注册策略，BuildRequest 负责 max_tokens 截断、
    温度回退与工具转换
  - [ModelDescriptor]：模型配置（提供商、服务商模型名、URL、上下文上限）
  - [ToolCallAccumulator]：按索引缓存流式工具参数片段，终止时才解析
  - [Classification]：错误分类结果，由 [Classify] 产生，永不 panic

# 错误分类

  - ConfigurationError：模型、应用、密钥、权限或提供商配置问题，发生在网络调用之前
  - TransportError：连接拒绝、DNS、TLS、连接重置
  - TimeoutError：请求超过截止时间
  - ProviderAPIError：非 2xx 响应，Code 为十进制状态码
  - NormalizationError：无法解析的响应载荷

# 子包

  - providers/*：各提供商策略实现
  - factory：注册全部内置策略
  - streaming：SSE 分帧与流归一状态机
  - throttle：按模型的并发与速率限制
  - tokenizer：提示词 Token 估算
*/
package llm
