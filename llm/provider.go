package llm

import (
	"encoding/json"

	"github.com/BaSui01/chatrelay/types"
)

// RequestBuilder 将提供商无关的输入转换为提供商原生 HTTP 请求。
// 实现必须是纯函数：不发起网络调用，不记录凭据。
type RequestBuilder interface {
	Build(in BuildInput) (*CompletionRequest, error)
}

// StreamDecoder 解释单个提供商的 SSE 帧。
//
// Decode 每次处理一帧，返回按提供商顺序排列的事件；done 为 true 表示已出现终止标记，
// 此时返回的事件中最后一个必为 Complete 或 ProviderError。返回 error 表示负载格式错误。
// Finish 在响应体结束且未出现终止标记时调用。
type StreamDecoder interface {
	Decode(frame Frame) (events []StreamEvent, done bool, err error)
	Finish() ([]StreamEvent, error)
}

// ProviderTools 是转换后的工具表示：Tools 放入请求的工具数组，
// Fields 为特殊工具需要的顶层字段，Dropped 为该提供商不支持而被丢弃的工具名。
type ProviderTools struct {
	Tools   []json.RawMessage
	Fields  map[string]json.RawMessage
	Dropped []string
}

// Empty 报告是否没有任何工具需要写入请求。
func (t ProviderTools) Empty() bool {
	return len(t.Tools) == 0 && len(t.Fields) == 0
}

// ToolMapper 在通用工具表示与提供商格式之间转换。
type ToolMapper interface {
	ToolsToProviderFormat(defs []types.ToolDefinition) (ProviderTools, error)
	ToolCallsFromProviderFormat(raw json.RawMessage) ([]types.ToolCall, error)
	ToolCallsToProviderFormat(calls []types.ToolCall) (json.RawMessage, error)
}

// ResponseParser 解析非流式响应体。
type ResponseParser interface {
	ParseCompletion(body []byte) (*Completion, error)
}

// Provider 是单个服务商的完整策略集合。
type Provider interface {
	ID() ProviderID
	RequestBuilder
	ToolMapper
	ResponseParser
	NewStreamDecoder() StreamDecoder
}
