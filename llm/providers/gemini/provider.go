package gemini

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/llm/providers"
	"github.com/BaSui01/chatrelay/types"
)

// DefaultBaseURL 是 Gemini API 的默认地址.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

const (
	actionGenerate = ":generateContent"
	actionStream   = ":streamGenerateContent"
)

// GeminiProvider 实现 Google Gemini generateContent 策略.
type GeminiProvider struct {
	cfg providers.GeminiConfig
}

// NewGeminiProvider 创建新的 Gemini 提供者实例.
func NewGeminiProvider(cfg providers.GeminiConfig) *GeminiProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &GeminiProvider{cfg: cfg}
}

// ID 返回 provider 标识.
func (p *GeminiProvider) ID() llm.ProviderID { return llm.ProviderGoogle }

// Build 构建 generateContent / streamGenerateContent 请求.
// 模型 URL 可以是不带动作后缀的模型地址，也可以已带动作后缀.
func (p *GeminiProvider) Build(in llm.BuildInput) (*llm.CompletionRequest, error) {
	if in.APIKey == "" {
		return nil, types.NewError(types.ErrAPIKeyMissing, fmt.Sprintf("no API key for model %s", in.Model.ID)).
			WithProvider(string(llm.ProviderGoogle))
	}

	system, contents := convertMessages(in.Messages)
	temperature := in.Temperature
	body := geminiRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     &temperature,
			MaxOutputTokens: in.MaxTokens,
		},
	}
	if len(in.Tools.Tools) > 0 {
		body.Tools = in.Tools.Tools
		body.ToolConfig = toolConfig(in.ToolChoice)
	}

	data, err := providers.MergeFields(body, in.Tools.Fields)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("x-goog-api-key", in.APIKey)

	return &llm.CompletionRequest{
		Provider:    llm.ProviderGoogle,
		ModelID:     in.Model.ID,
		Method:      http.MethodPost,
		URL:         endpoint(in.Model.ResolveURL(providers.JoinURL(p.cfg.BaseURL, "/v1beta/models/{model}")), in.Stream),
		Header:      header,
		Body:        data,
		Stream:      in.Stream,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	}, nil
}

// endpoint 去掉已有的动作后缀，再按是否流式追加对应动作.
func endpoint(modelURL string, stream bool) string {
	base := modelURL
	if i := strings.Index(base, "?"); i >= 0 {
		base = base[:i]
	}
	for _, action := range []string{actionStream, actionGenerate} {
		base = strings.TrimSuffix(base, action)
	}
	if stream {
		return base + actionStream + "?alt=sse"
	}
	return base + actionGenerate
}

// toolConfig 转换工具选择：AUTO / ANY / NONE，指定工具时使用 allowedFunctionNames.
func toolConfig(c *types.ToolChoice) *geminiToolConfig {
	if c.IsZero() {
		return nil
	}
	cfg := geminiFunctionCallingConfig{Mode: "AUTO"}
	switch {
	case c.Name != "":
		cfg.Mode = "ANY"
		cfg.AllowedFunctionNames = []string{c.Name}
	case c.Mode == types.ToolChoiceRequired:
		cfg.Mode = "ANY"
	case c.Mode == types.ToolChoiceNone:
		cfg.Mode = "NONE"
	}
	return &geminiToolConfig{FunctionCallingConfig: cfg}
}

// convertMessages 提取 systemInstruction，assistant 映射为 model 角色，
// 工具结果转换为 user 角色的 functionResponse 部分.
func convertMessages(msgs []types.Message) (*geminiContent, []geminiContent) {
	var systemParts []geminiPart
	out := make([]geminiContent, 0, len(msgs))

	// functionResponse 需要函数名，按 tool call ID 反查
	names := make(map[string]string)

	appendParts := func(role string, parts []geminiPart) {
		if len(parts) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			return
		}
		out = append(out, geminiContent{Role: role, Parts: parts})
	}

	for _, m := range msgs {
		switch m.Role {
		case types.RoleSystem:
			if text := m.Text(); text != "" {
				systemParts = append(systemParts, geminiPart{Text: text})
			}
		case types.RoleAssistant:
			parts := contentParts(m)
			for _, tc := range m.ToolCalls {
				names[tc.ID] = tc.Name
				parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: objectArgs(tc.Arguments),
				}})
			}
			appendParts("model", parts)
		case types.RoleTool:
			name := m.Name
			if name == "" {
				name = names[m.ToolCallID]
			}
			appendParts("user", []geminiPart{{FunctionResponse: &geminiFunctionResponse{
				ID:       m.ToolCallID,
				Name:     name,
				Response: wrapResponse(m.Text()),
			}}})
		default:
			var parts []geminiPart
			for _, tr := range m.ToolResults {
				name := tr.Name
				if name == "" {
					name = names[tr.ToolCallID]
				}
				parts = append(parts, geminiPart{FunctionResponse: &geminiFunctionResponse{
					ID:       tr.ToolCallID,
					Name:     name,
					Response: wrapResponse(tr.Content()),
				}})
			}
			parts = append(parts, contentParts(m)...)
			appendParts("user", parts)
		}
	}

	if len(systemParts) == 0 {
		return nil, out
	}
	return &geminiContent{Parts: systemParts}, out
}

func contentParts(m types.Message) []geminiPart {
	if !providers.HasImages(m) {
		if text := m.Text(); text != "" {
			return []geminiPart{{Text: text}}
		}
		return nil
	}
	parts := make([]geminiPart, 0, len(m.Parts))
	for _, part := range m.Parts {
		switch part.Type {
		case types.PartText:
			if part.Text != "" {
				parts = append(parts, geminiPart{Text: part.Text})
			}
		case types.PartImage:
			img := part.Image
			if img == nil {
				continue
			}
			mimeType := img.MediaType
			if mimeType == "" {
				mimeType = "image/png"
			}
			if img.Data != "" {
				parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: mimeType, Data: img.Data}})
			} else if img.URL != "" {
				parts = append(parts, geminiPart{FileData: &geminiFileData{MimeType: mimeType, FileURI: img.URL}})
			}
		}
	}
	return parts
}

// objectArgs 保证 args 为 JSON 对象.
func objectArgs(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		return json.RawMessage(trimmed)
	}
	return json.RawMessage(`{}`)
}

// wrapResponse 将工具输出包装为 functionResponse.response 需要的 JSON 对象.
// 输出本身是 JSON 对象时直接使用，否则放入 content 字段.
func wrapResponse(content string) json.RawMessage {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	var value any = content
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		value = json.RawMessage(trimmed)
	}
	data, err := json.Marshal(map[string]any{"content": value})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// ParseCompletion 解析非流式响应.
func (p *GeminiProvider) ParseCompletion(body []byte) (*llm.Completion, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewNormalizationError(llm.ProviderGoogle, string(body), err)
	}
	if resp.Error != nil {
		return nil, providers.NewAPIError(llm.ProviderGoogle, errorStatus(resp.Error), body)
	}

	c := &llm.Completion{Model: resp.ModelVersion}
	var rawReason string
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		rawReason = cand.FinishReason
		var text strings.Builder
		for _, part := range cand.Content.Parts {
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
		}
		c.Content = text.String()

		calls, err := fromParts(cand.Content.Parts)
		if err != nil {
			return nil, err
		}
		c.ToolCalls = calls
	} else if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		rawReason = "SAFETY"
	}
	c.FinishReason = finishReason(rawReason, len(c.ToolCalls) > 0)
	c.Usage = usage(resp.UsageMetadata)
	return c, nil
}

// NewStreamDecoder 为一次流式响应创建解码器.
func (p *GeminiProvider) NewStreamDecoder() llm.StreamDecoder {
	return newDecoder()
}

func errorStatus(e *geminiError) int {
	if e.Code > 0 {
		return e.Code
	}
	return providers.StatusFromErrorType(e.Status)
}

func usage(u *geminiUsageMetadata) *llm.Usage {
	if u == nil {
		return nil
	}
	total := u.TotalTokenCount
	if total == 0 {
		total = u.PromptTokenCount + u.CandidatesTokenCount
	}
	return &llm.Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      total,
	}
}

// finishReason 将 finishReason 归一为 OpenAI 风格.
// Gemini 在函数调用时同样返回 STOP，需结合是否存在调用判断.
func finishReason(reason string, hasCalls bool) string {
	switch reason {
	case "":
		return ""
	case "STOP":
		if hasCalls {
			return "tool_calls"
		}
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return "content_filter"
	default:
		return strings.ToLower(reason)
	}
}
