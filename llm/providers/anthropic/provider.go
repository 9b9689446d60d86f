package claude

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/llm/providers"
	"github.com/BaSui01/chatrelay/types"
)

const (
	// DefaultBaseURL 是 Anthropic API 的默认地址.
	DefaultBaseURL = "https://api.anthropic.com"
	// DefaultAPIVersion 是 anthropic-version 请求头的默认值.
	DefaultAPIVersion = "2023-06-01"
	// defaultMaxTokens 在模型未配置上限时使用，Messages API 要求必填.
	defaultMaxTokens = 4096
	// defaultWebSearchMaxUses 是服务端 web_search 工具的默认调用上限.
	defaultWebSearchMaxUses = 5
)

// ClaudeProvider 实现 Anthropic Messages API 策略.
type ClaudeProvider struct {
	cfg providers.ClaudeConfig
}

// NewClaudeProvider 创建新的 Claude 提供者实例.
func NewClaudeProvider(cfg providers.ClaudeConfig) *ClaudeProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.WebSearchMaxUses <= 0 {
		cfg.WebSearchMaxUses = defaultWebSearchMaxUses
	}
	return &ClaudeProvider{cfg: cfg}
}

// ID 返回 provider 标识.
func (p *ClaudeProvider) ID() llm.ProviderID { return llm.ProviderAnthropic }

// Build 构建 /v1/messages 请求.
func (p *ClaudeProvider) Build(in llm.BuildInput) (*llm.CompletionRequest, error) {
	if in.APIKey == "" {
		return nil, types.NewError(types.ErrAPIKeyMissing, fmt.Sprintf("no API key for model %s", in.Model.ID)).
			WithProvider(string(llm.ProviderAnthropic))
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := in.Temperature

	system, messages := convertMessages(in.Messages)
	body := claudeRequest{
		Model:       in.Model.ProviderModel(),
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		Stream:      in.Stream,
	}
	if len(in.Tools.Tools) > 0 {
		body.Tools = in.Tools.Tools
		body.ToolChoice = toolChoice(in.ToolChoice)
	}

	data, err := providers.MergeFields(body, in.Tools.Fields)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("x-api-key", in.APIKey)
	header.Set("anthropic-version", p.cfg.APIVersion)
	if in.Stream {
		header.Set("Accept", "text/event-stream")
	}

	return &llm.CompletionRequest{
		Provider:    llm.ProviderAnthropic,
		ModelID:     in.Model.ID,
		Method:      http.MethodPost,
		URL:         in.Model.ResolveURL(providers.JoinURL(p.cfg.BaseURL, "/v1/messages")),
		Header:      header,
		Body:        data,
		Stream:      in.Stream,
		MaxTokens:   maxTokens,
		Temperature: in.Temperature,
	}, nil
}

// toolChoice 转换工具选择：auto / any / tool / none.
func toolChoice(c *types.ToolChoice) any {
	if c.IsZero() {
		return nil
	}
	if c.Name != "" {
		return map[string]string{"type": "tool", "name": c.Name}
	}
	switch c.Mode {
	case types.ToolChoiceRequired:
		return map[string]string{"type": "any"}
	case types.ToolChoiceNone:
		return map[string]string{"type": "none"}
	default:
		return map[string]string{"type": "auto"}
	}
}

// convertMessages 提取 system 消息，并把其余消息转换为内容块数组.
// 工具结果包装为 user 角色的 tool_result 块；相邻同角色消息合并，
// 以满足 user / assistant 交替的要求.
func convertMessages(msgs []types.Message) (string, []claudeMessage) {
	var systemParts []string
	out := make([]claudeMessage, 0, len(msgs))

	appendBlocks := func(role string, blocks []claudeContent) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, claudeMessage{Role: role, Content: blocks})
	}

	for _, m := range msgs {
		switch m.Role {
		case types.RoleSystem:
			if text := m.Text(); text != "" {
				systemParts = append(systemParts, text)
			}
		case types.RoleTool:
			appendBlocks("user", []claudeContent{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Text(),
			}})
		case types.RoleAssistant:
			blocks := contentBlocks(m)
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, claudeContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			appendBlocks("assistant", blocks)
		default:
			var blocks []claudeContent
			for _, tr := range m.ToolResults {
				blocks = append(blocks, claudeContent{
					Type:      "tool_result",
					ToolUseID: tr.ToolCallID,
					Content:   tr.Content(),
					IsError:   tr.IsError(),
				})
			}
			blocks = append(blocks, contentBlocks(m)...)
			appendBlocks("user", blocks)
		}
	}
	return strings.Join(systemParts, "\n\n"), out
}

func contentBlocks(m types.Message) []claudeContent {
	if !providers.HasImages(m) {
		if text := m.Text(); text != "" {
			return []claudeContent{{Type: "text", Text: text}}
		}
		return nil
	}
	blocks := make([]claudeContent, 0, len(m.Parts))
	for _, part := range m.Parts {
		switch part.Type {
		case types.PartText:
			if part.Text != "" {
				blocks = append(blocks, claudeContent{Type: "text", Text: part.Text})
			}
		case types.PartImage:
			if part.Image == nil {
				continue
			}
			src := &claudeSource{Type: "url", URL: part.Image.URL}
			if part.Image.Data != "" {
				mediaType := part.Image.MediaType
				if mediaType == "" {
					mediaType = "image/png"
				}
				src = &claudeSource{Type: "base64", MediaType: mediaType, Data: part.Image.Data}
			}
			blocks = append(blocks, claudeContent{Type: "image", Source: src})
		}
	}
	return blocks
}

// ParseCompletion 解析非流式响应.
func (p *ClaudeProvider) ParseCompletion(body []byte) (*llm.Completion, error) {
	var resp claudeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewNormalizationError(llm.ProviderAnthropic, string(body), err)
	}
	if resp.Error != nil {
		return nil, providers.NewAPIError(llm.ProviderAnthropic, providers.StatusFromErrorType(resp.Error.Type), body)
	}

	c := &llm.Completion{
		Model:        resp.Model,
		FinishReason: finishReason(resp.StopReason),
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	c.Content = text.String()

	calls, err := fromBlocks(resp.Content)
	if err != nil {
		return nil, err
	}
	c.ToolCalls = calls
	if resp.Usage != nil {
		c.Usage = &llm.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return c, nil
}

// NewStreamDecoder 为一次流式响应创建解码器.
func (p *ClaudeProvider) NewStreamDecoder() llm.StreamDecoder {
	return newDecoder()
}

// finishReason 将 stop_reason 归一为 OpenAI 风格.
func finishReason(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "refusal":
		return "content_filter"
	default:
		return stopReason
	}
}
