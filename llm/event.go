package llm

import (
	"github.com/BaSui01/chatrelay/types"
)

// StreamEvent 是流式归一化的输出事件，封闭接口，仅以下四种实现：
// TextDelta、ToolCallDelta、Complete、ProviderError。
type StreamEvent interface {
	streamEvent()
}

// TextDelta 是一段增量文本。
type TextDelta struct {
	Text string
}

// ToolCallDelta 是一次工具调用的增量。ID/Name 仅在首个片段出现。
type ToolCallDelta struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}

// Complete 是成功结束事件，ToolCalls 中的调用均已完整。
type Complete struct {
	FinishReason string
	ToolCalls    []types.ToolCall
	Usage        *Usage
}

// ProviderError 是失败结束事件。
type ProviderError struct {
	HTTPStatus int
	RawBody    string
	Err        error
}

func (TextDelta) streamEvent()     {}
func (ToolCallDelta) streamEvent() {}
func (Complete) streamEvent()      {}
func (ProviderError) streamEvent() {}

// IsTerminal 报告事件是否结束一次流。
func IsTerminal(ev StreamEvent) bool {
	switch ev.(type) {
	case Complete, ProviderError:
		return true
	default:
		return false
	}
}

// Usage 是 token 用量统计。
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Frame 是一个完整的 SSE 帧。
type Frame struct {
	Event string
	Data  string
}

// Completion 是非流式调用的完整结果。
type Completion struct {
	Model        string           `json:"model,omitempty"`
	Content      string           `json:"content"`
	ToolCalls    []types.ToolCall `json:"toolCalls,omitempty"`
	FinishReason string           `json:"finishReason,omitempty"`
	Usage        *Usage           `json:"usage,omitempty"`
}
