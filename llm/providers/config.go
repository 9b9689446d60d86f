package providers

// BaseProviderConfig 所有 Provider 共享的基础配置字段。
// 模型配置中的 URL 优先于此处的 BaseURL。
type BaseProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
}

// OpenAIConfig OpenAI Provider 配置
type OpenAIConfig struct {
	BaseProviderConfig `yaml:",inline"`
	Organization       string `json:"organization,omitempty" yaml:"organization,omitempty"`
}

// ClaudeConfig Claude Provider 配置
type ClaudeConfig struct {
	BaseProviderConfig `yaml:",inline"`
	APIVersion         string `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	// WebSearchMaxUses 限制服务端 web_search 工具的调用次数
	WebSearchMaxUses int `json:"web_search_max_uses,omitempty" yaml:"web_search_max_uses,omitempty"`
}

// GeminiConfig Gemini Provider 配置
type GeminiConfig struct {
	BaseProviderConfig `yaml:",inline"`
}

// MistralConfig Mistral AI Provider 配置
type MistralConfig struct {
	BaseProviderConfig `yaml:",inline"`
}

// LocalConfig 自定义 OpenAI 兼容端点配置
type LocalConfig struct {
	BaseProviderConfig `yaml:",inline"`
}
