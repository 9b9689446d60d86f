package claude

import "encoding/json"

// claudeMessage 是 Messages API 的消息，content 总是内容块数组.
type claudeMessage struct {
	Role    string          `json:"role"`
	Content []claudeContent `json:"content"`
}

// claudeContent 是一个内容块：text / image / tool_use / tool_result.
type claudeContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    *claudeSource   `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// claudeSource 是图片来源.
type claudeSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// claudeTool 是客户端函数工具定义.
type claudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// claudeServerTool 是服务端执行的工具（如 web_search）.
type claudeServerTool struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	MaxUses int    `json:"max_uses,omitempty"`
}

// claudeRequest 是 /v1/messages 请求体.
type claudeRequest struct {
	Model       string            `json:"model"`
	Messages    []claudeMessage   `json:"messages"`
	System      string            `json:"system,omitempty"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature *float64          `json:"temperature,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
	Tools       []json.RawMessage `json:"tools,omitempty"`
	ToolChoice  any               `json:"tool_choice,omitempty"`
}

// claudeUsage 是 token 用量.
type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// claudeResponse 是非流式响应.
type claudeResponse struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Model      string          `json:"model"`
	Content    []claudeContent `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      *claudeUsage    `json:"usage,omitempty"`
	Error      *claudeError    `json:"error,omitempty"`
}

// claudeError 是错误对象，错误响应与流内 error 事件共用.
type claudeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// claudeStreamEvent 覆盖所有流事件字段，按 Type 区分.
type claudeStreamEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	Message      *claudeResponse `json:"message,omitempty"`
	ContentBlock *claudeContent  `json:"content_block,omitempty"`
	Delta        *claudeDelta    `json:"delta,omitempty"`
	Usage        *claudeUsage    `json:"usage,omitempty"`
	Error        *claudeError    `json:"error,omitempty"`
}

// claudeDelta 是 content_block_delta 与 message_delta 的增量.
type claudeDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}
