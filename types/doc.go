// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 chatrelay 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、relay、api 等上层
模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Message：对话消息（Role、Content、Parts、ToolCalls、ToolResults）
  - ToolDefinition：与提供商无关的工具定义（含 IsSpecialTool 标记），
    发往提供商的函数名取 ID，ID 为空时取 Name
  - ToolCall：模型发起的工具调用（参数为不透明 JSON 对象）
  - ToolChoice：工具选择策略（auto / none / required / 指定函数）
  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记

# 主要能力

  - Context 传播：WithTraceID / WithUserID / WithRoles / WithRequestID / WithChatID
  - 错误辅助：AsError / GetErrorCode / IsRetryable / IsConfigurationCode
*/
package types
