package openai

import (
	"encoding/json"
	"net/http"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/llm/providers"
	"github.com/BaSui01/chatrelay/llm/providers/openaicompat"
	"github.com/BaSui01/chatrelay/types"
)

// DefaultBaseURL 是 OpenAI API 的默认地址。
const DefaultBaseURL = "https://api.openai.com"

// OpenAIProvider 实现 OpenAI Chat Completions 策略.
// 请求构建、工具映射与流解码委托给嵌入的 openaicompat.Provider.
type OpenAIProvider struct {
	*openaicompat.Provider
	openaiCfg providers.OpenAIConfig
}

// NewOpenAIProvider 创建新的 OpenAI 提供者实例.
func NewOpenAIProvider(cfg providers.OpenAIConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	p := &OpenAIProvider{openaiCfg: cfg}
	p.Provider = openaicompat.New(openaicompat.Config{
		ID:           llm.ProviderOpenAI,
		BaseURL:      cfg.BaseURL,
		BuildHeaders: p.buildHeaders,
		SpecialTools: specialTools,
		IncludeUsage: true,
	})
	return p
}

// buildHeaders 设置 Bearer 认证与可选的 Organization 头.
func (p *OpenAIProvider) buildHeaders(h http.Header, apiKey string) {
	h.Set("Authorization", "Bearer "+apiKey)
	if p.openaiCfg.Organization != "" {
		h.Set("OpenAI-Organization", p.openaiCfg.Organization)
	}
}

// specialTools 将 web_search 映射到顶层 web_search_options 字段，其余特殊工具丢弃.
func specialTools(special []types.ToolDefinition) (map[string]json.RawMessage, []string) {
	fields := make(map[string]json.RawMessage)
	var dropped []string
	for _, d := range special {
		switch d.Key() {
		case types.SpecialToolWebSearch:
			opts := json.RawMessage(`{}`)
			if len(d.Parameters) > 0 && string(d.Parameters) != "null" {
				opts = d.Parameters
			}
			fields["web_search_options"] = opts
		default:
			dropped = append(dropped, d.Key())
		}
	}
	return fields, dropped
}
