package llm

import (
	"strings"
)

// ProviderID 标识一个模型服务商，决定请求构建与流解码策略。
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderGoogle    ProviderID = "google"
	ProviderMistral   ProviderID = "mistral"
	ProviderLocal     ProviderID = "local" // 自定义 OpenAI 兼容端点
)

// ParseProviderID 规范化配置中的 provider 名称，未知名称原样返回。
func ParseProviderID(s string) ProviderID {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return ProviderOpenAI
	case "anthropic", "claude":
		return ProviderAnthropic
	case "google", "gemini":
		return ProviderGoogle
	case "mistral":
		return ProviderMistral
	case "local", "custom", "openai-compatible":
		return ProviderLocal
	default:
		return ProviderID(s)
	}
}

// ModelDescriptor 描述一个可用模型。加载后不可变。
type ModelDescriptor struct {
	ID            string     `json:"id" yaml:"id"`
	Provider      ProviderID `json:"provider" yaml:"provider"`
	Name          string     `json:"model_name" yaml:"model_name"`   // 服务商侧的模型名
	URL           string     `json:"url,omitempty" yaml:"url"`       // 端点模板，可包含 {model}
	TokenLimit    int        `json:"token_limit" yaml:"token_limit"` // 最大输出 token
	Default       bool       `json:"default,omitempty" yaml:"default"`
	SupportsTools bool       `json:"supports_tools,omitempty" yaml:"supports_tools"`
}

// ProviderModel 返回发送给服务商的模型名，未配置时回退为 ID。
func (m ModelDescriptor) ProviderModel() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// ResolveURL 展开 URL 模板中的 {model} 占位符；URL 为空时使用 fallback。
func (m ModelDescriptor) ResolveURL(fallback string) string {
	u := m.URL
	if u == "" {
		u = fallback
	}
	return strings.ReplaceAll(u, "{model}", m.ProviderModel())
}
