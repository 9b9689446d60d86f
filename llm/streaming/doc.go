// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 streaming 将提供商的流式响应体归一为统一的事件序列。

# 概述

响应体以任意大小的字节块到达。Framer 负责把字节块还原为完整的
SSE 帧，Normalizer 把帧交给对应提供商的 llm.StreamDecoder 解释，
并维护 Idle → Streaming → {Complete, Failed, Aborted} 状态机。

# 核心类型

  - Framer：支持 \n 与 \r\n 行尾、多行 data 拼接、注释行（保活）丢弃，
    半行在调用之间保留，输出与分块方式无关
  - Normalizer：Feed / Finish 同步处理，Run 在独立 goroutine 中读取响应体
    并通过通道按提供商顺序投递事件
  - State：归一化器生命周期状态

# 终止语义

  - 每个流恰好产生一个终止事件（Complete 或 ProviderError）
  - 无法解析的载荷产生一个携带 NormalizationError 的 ProviderError，状态为 Failed
  - 响应体结束时由解码器判定是否已完成，未完成视为截断
  - ctx 取消时状态为 Aborted，不再产生任何事件
*/
package streaming
