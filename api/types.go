package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/chatrelay/types"
)

// =============================================================================
// 聊天轮次类型
// =============================================================================

// ChatTurnRequest 是 POST /api/apps/{appId}/chat/{chatId} 的请求体。
// @Description 聊天轮次请求结构
type ChatTurnRequest struct {
	// 对话消息（必填）
	Messages []types.Message `json:"messages" binding:"required"`
	// 模型 ID；为空时使用应用首选模型，再回退到目录默认模型
	ModelID string `json:"modelId,omitempty" example:"gpt-4o"`
	// 采样温度；为空时回退到应用与全局默认值
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// 生成的最大 token 数，会被裁剪到模型上限
	MaxTokens int `json:"maxTokens,omitempty" example:"1024"`
	// 本轮附加的工具
	Tools []types.ToolDefinition `json:"tools,omitempty"`
	// 工具选择："auto"、"none"、"required"、工具名，或 {"mode","name"} 对象
	ToolChoice json.RawMessage `json:"toolChoice,omitempty" swaggertype:"string" example:"auto"`
}

// Validate 检查请求体的基本约束。
func (r *ChatTurnRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages is required")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case types.RoleSystem, types.RoleUser, types.RoleAssistant, types.RoleTool:
		default:
			return fmt.Errorf("messages[%d]: invalid role %q", i, m.Role)
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("maxTokens must not be negative")
	}
	for i, t := range r.Tools {
		if strings.TrimSpace(t.Key()) == "" {
			return fmt.Errorf("tools[%d]: id or name is required", i)
		}
	}
	return nil
}

// ParseToolChoice 解析 toolChoice 字段。空值返回 nil。
func ParseToolChoice(raw json.RawMessage) (*types.ToolChoice, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "":
			return nil, nil
		case types.ToolChoiceAuto, types.ToolChoiceNone, types.ToolChoiceRequired:
			return &types.ToolChoice{Mode: s}, nil
		default:
			return &types.ToolChoice{Name: s}, nil
		}
	}

	var c types.ToolChoice
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("invalid toolChoice: %w", err)
	}
	switch c.Mode {
	case "", types.ToolChoiceAuto, types.ToolChoiceNone, types.ToolChoiceRequired:
	default:
		return nil, fmt.Errorf("invalid toolChoice mode %q", c.Mode)
	}
	if c.IsZero() {
		return nil, nil
	}
	return &c, nil
}

// StreamingResponse 表示轮次已派发到已连接的流式会话。
// @Description 流式派发响应
type StreamingResponse struct {
	// 固定为 "streaming"
	Status string `json:"status" example:"streaming"`
	// 会话 ID
	ChatID string `json:"chatId" example:"chat-1"`
}

// CompletionResponse 是无流式会话时返回的同步补全结果。
// @Description 同步补全响应
type CompletionResponse struct {
	ChatID       string           `json:"chatId"`
	Model        string           `json:"model,omitempty"`
	Content      string           `json:"content"`
	ToolCalls    []types.ToolCall `json:"toolCalls,omitempty"`
	FinishReason string           `json:"finishReason,omitempty"`
	Usage        *Usage           `json:"usage,omitempty"`
}

// Usage 是 token 使用统计。
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// StopResponse 是 stop 端点的响应。
type StopResponse struct {
	Success bool `json:"success"`
}

// StatusResponse 是 status 端点的响应。
// @Description 会话状态
type StatusResponse struct {
	// 是否有已连接的传输
	Active bool `json:"active"`
	// 最近一次活动时间，无会话时为空
	LastActivity *time.Time `json:"lastActivity"`
	// 是否有在途请求
	Processing bool `json:"processing"`
}

// =============================================================================
// WebSocket 帧
// =============================================================================

// WSEnvelope 是服务端推送到 WebSocket 客户端的帧。
type WSEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// WSClientMessage 是客户端发往服务端的控制帧。
type WSClientMessage struct {
	// 目前仅支持 "stop"
	Type string `json:"type"`
}

// WSMessageStop 请求停止当前生成。
const WSMessageStop = "stop"
