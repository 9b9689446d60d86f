package claude

import (
	"encoding/json"
	"fmt"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/llm/providers"
	"github.com/BaSui01/chatrelay/types"
)

// webSearchToolType 是服务端 web_search 工具的版本化类型名.
const webSearchToolType = "web_search_20250305"

// ToolsToProviderFormat 转换工具定义. web_search 作为服务端工具条目加入 tools 数组.
func (p *ClaudeProvider) ToolsToProviderFormat(defs []types.ToolDefinition) (llm.ProviderTools, error) {
	var out llm.ProviderTools
	for _, d := range defs {
		var (
			raw []byte
			err error
		)
		switch {
		case !d.IsSpecialTool:
			raw, err = json.Marshal(claudeTool{
				Name:        d.Key(),
				Description: d.Description,
				InputSchema: providers.ObjectSchema(d.Parameters),
			})
		case d.Key() == types.SpecialToolWebSearch:
			raw, err = json.Marshal(claudeServerTool{
				Type:    webSearchToolType,
				Name:    types.SpecialToolWebSearch,
				MaxUses: p.cfg.WebSearchMaxUses,
			})
		default:
			out.Dropped = append(out.Dropped, d.Key())
			continue
		}
		if err != nil {
			return llm.ProviderTools{}, fmt.Errorf("marshal tool %q: %w", d.Key(), err)
		}
		out.Tools = append(out.Tools, raw)
	}
	return out, nil
}

// ToolCallsFromProviderFormat 从内容块数组中提取 tool_use 块.
func (p *ClaudeProvider) ToolCallsFromProviderFormat(raw json.RawMessage) ([]types.ToolCall, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var blocks []claudeContent
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("parse anthropic tool calls: %w", err)
	}
	return fromBlocks(blocks)
}

// ToolCallsToProviderFormat 将工具调用渲染为 tool_use 内容块数组.
func (p *ClaudeProvider) ToolCallsToProviderFormat(calls []types.ToolCall) (json.RawMessage, error) {
	blocks := make([]claudeContent, 0, len(calls))
	for _, tc := range calls {
		input := tc.Arguments
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		blocks = append(blocks, claudeContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
	}
	return json.Marshal(blocks)
}

func fromBlocks(blocks []claudeContent) ([]types.ToolCall, error) {
	var out []types.ToolCall
	for _, b := range blocks {
		if b.Type != "tool_use" {
			continue
		}
		args, err := llm.NormalizeArguments(b.Input)
		if err != nil {
			return nil, llm.NewNormalizationError(llm.ProviderAnthropic, string(b.Input), err)
		}
		out = append(out, types.ToolCall{
			ID:        b.ID,
			Name:      b.Name,
			Arguments: args,
			Provider:  string(llm.ProviderAnthropic),
			Status:    types.ToolCallComplete,
		})
	}
	return out, nil
}
