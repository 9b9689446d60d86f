package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/llm/providers"
	"github.com/BaSui01/chatrelay/types"
	"github.com/google/uuid"
)

// unsupportedSchemaKeys 是 Gemini 函数声明不接受的 JSON Schema 关键字.
var unsupportedSchemaKeys = []string{"$schema", "additionalProperties"}

// ToolsToProviderFormat 转换工具定义. 普通工具合并为一个 functionDeclarations 条目，
// web_search 转换为独立的 googleSearch 条目.
func (p *GeminiProvider) ToolsToProviderFormat(defs []types.ToolDefinition) (llm.ProviderTools, error) {
	var (
		out          llm.ProviderTools
		declarations []geminiFunctionDeclaration
		search       bool
	)
	for _, d := range defs {
		switch {
		case !d.IsSpecialTool:
			params, err := sanitizeSchema(providers.ObjectSchema(d.Parameters))
			if err != nil {
				return llm.ProviderTools{}, fmt.Errorf("tool %q schema: %w", d.Key(), err)
			}
			declarations = append(declarations, geminiFunctionDeclaration{
				Name:        d.Key(),
				Description: d.Description,
				Parameters:  params,
			})
		case d.Key() == types.SpecialToolWebSearch:
			search = true
		default:
			out.Dropped = append(out.Dropped, d.Key())
		}
	}

	if len(declarations) > 0 {
		raw, err := json.Marshal(geminiTool{FunctionDeclarations: declarations})
		if err != nil {
			return llm.ProviderTools{}, fmt.Errorf("marshal function declarations: %w", err)
		}
		out.Tools = append(out.Tools, raw)
	}
	if search {
		raw, err := json.Marshal(geminiTool{GoogleSearch: &struct{}{}})
		if err != nil {
			return llm.ProviderTools{}, fmt.Errorf("marshal google search tool: %w", err)
		}
		out.Tools = append(out.Tools, raw)
	}
	return out, nil
}

// ToolCallsFromProviderFormat 从 parts 数组中提取 functionCall.
func (p *GeminiProvider) ToolCallsFromProviderFormat(raw json.RawMessage) ([]types.ToolCall, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var parts []geminiPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("parse gemini tool calls: %w", err)
	}
	return fromParts(parts)
}

// ToolCallsToProviderFormat 将工具调用渲染为 functionCall parts 数组.
func (p *GeminiProvider) ToolCallsToProviderFormat(calls []types.ToolCall) (json.RawMessage, error) {
	parts := make([]geminiPart, 0, len(calls))
	for _, tc := range calls {
		parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{
			ID:   tc.ID,
			Name: tc.Name,
			Args: objectArgs(tc.Arguments),
		}})
	}
	return json.Marshal(parts)
}

func fromParts(parts []geminiPart) ([]types.ToolCall, error) {
	var out []types.ToolCall
	for _, part := range parts {
		fc := part.FunctionCall
		if fc == nil {
			continue
		}
		args, err := llm.NormalizeArguments(fc.Args)
		if err != nil {
			return nil, llm.NewNormalizationError(llm.ProviderGoogle, string(fc.Args), err)
		}
		out = append(out, types.ToolCall{
			ID:        callID(fc.ID),
			Name:      fc.Name,
			Arguments: args,
			Provider:  string(llm.ProviderGoogle),
			Status:    types.ToolCallComplete,
		})
	}
	return out, nil
}

// callID 为未携带 ID 的函数调用生成本地 ID.
func callID(id string) string {
	if id != "" {
		return id
	}
	return "call_" + uuid.NewString()
}

// sanitizeSchema 递归移除 Gemini 不支持的 schema 关键字.
func sanitizeSchema(schema json.RawMessage) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal(schema, &v); err != nil {
		return nil, err
	}
	return json.Marshal(stripKeys(v))
}

func stripKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for _, k := range unsupportedSchemaKeys {
			delete(t, k)
		}
		for k, child := range t {
			t[k] = stripKeys(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = stripKeys(child)
		}
		return t
	default:
		return v
	}
}
