package mistral

import (
	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/llm/providers"
	"github.com/BaSui01/chatrelay/llm/providers/openaicompat"
	"github.com/BaSui01/chatrelay/types"
)

// DefaultBaseURL 是 Mistral API 的默认地址。
const DefaultBaseURL = "https://api.mistral.ai"

// MistralProvider 实现 Mistral AI 请求策略.
// Mistral AI 使用 OpenAI 兼容的 API 格式，差异在于 tool_choice 的
// "any" 拼写、工具消息需要 name 字段，且不支持服务端特殊工具.
type MistralProvider struct {
	*openaicompat.Provider
	cfg providers.MistralConfig
}

// NewMistralProvider 创建新的 Mistral 提供者实例.
func NewMistralProvider(cfg providers.MistralConfig) *MistralProvider {
	// 如果未提供则设置默认 BaseURL
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &MistralProvider{
		Provider: openaicompat.New(openaicompat.Config{
			ID:                 llm.ProviderMistral,
			BaseURL:            cfg.BaseURL,
			RequiredToolChoice: "any",
			RequestHook:        fillToolMessageNames,
		}),
		cfg: cfg,
	}
}

// fillToolMessageNames 为工具结果消息补齐函数名，名称取自对应的工具调用.
func fillToolMessageNames(in llm.BuildInput, body *openaicompat.Request) {
	names := make(map[string]string)
	for _, m := range in.Messages {
		for _, tc := range m.ToolCalls {
			names[tc.ID] = tc.Name
		}
		for _, tr := range m.ToolResults {
			if tr.Name != "" {
				names[tr.ToolCallID] = tr.Name
			}
		}
		if m.Role == types.RoleTool && m.Name != "" {
			names[m.ToolCallID] = m.Name
		}
	}
	for i := range body.Messages {
		msg := &body.Messages[i]
		if msg.Role == string(types.RoleTool) && msg.Name == "" {
			msg.Name = names[msg.ToolCallID]
		}
	}
}
