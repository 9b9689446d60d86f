package openaicompat

import (
	"encoding/json"
	"fmt"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/llm/providers"
	"github.com/BaSui01/chatrelay/types"
)

// ToolsToProviderFormat converts tool definitions into function tools.
// Special tools are delegated to Config.SpecialTools or dropped.
func (p *Provider) ToolsToProviderFormat(defs []types.ToolDefinition) (llm.ProviderTools, error) {
	regular, special := types.SplitSpecial(defs)

	var out llm.ProviderTools
	for _, d := range regular {
		raw, err := json.Marshal(Tool{
			Type: "function",
			Function: FunctionDef{
				Name:        d.Key(),
				Description: d.Description,
				Parameters:  providers.ObjectSchema(d.Parameters),
			},
		})
		if err != nil {
			return llm.ProviderTools{}, fmt.Errorf("marshal tool %q: %w", d.Key(), err)
		}
		out.Tools = append(out.Tools, raw)
	}

	if len(special) == 0 {
		return out, nil
	}
	if p.Cfg.SpecialTools == nil {
		for _, d := range special {
			out.Dropped = append(out.Dropped, d.Key())
		}
		return out, nil
	}
	out.Fields, out.Dropped = p.Cfg.SpecialTools(special)
	return out, nil
}

// ToolCallsFromProviderFormat parses a JSON array of OpenAI tool calls.
func (p *Provider) ToolCallsFromProviderFormat(raw json.RawMessage) ([]types.ToolCall, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var wire []ToolCall
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parse %s tool calls: %w", p.Cfg.ID, err)
	}
	return fromWireCalls(p.Cfg.ID, wire)
}

// ToolCallsToProviderFormat renders tool calls as a JSON array of OpenAI tool calls.
func (p *Provider) ToolCallsToProviderFormat(calls []types.ToolCall) (json.RawMessage, error) {
	return json.Marshal(toWireCalls(calls))
}

func toWireCalls(calls []types.ToolCall) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for _, tc := range calls {
		args := string(tc.Arguments)
		if args == "" {
			args = "{}"
		}
		out = append(out, ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      tc.Name,
				Arguments: args,
			},
		})
	}
	return out
}

func fromWireCalls(provider llm.ProviderID, wire []ToolCall) ([]types.ToolCall, error) {
	if len(wire) == 0 {
		return nil, nil
	}
	out := make([]types.ToolCall, 0, len(wire))
	for _, tc := range wire {
		args, err := llm.NormalizeArguments([]byte(tc.Function.Arguments))
		if err != nil {
			return nil, llm.NewNormalizationError(provider, tc.Function.Arguments, fmt.Errorf("tool call %q: %w", tc.Function.Name, err))
		}
		out = append(out, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
			Provider:  string(provider),
			Status:    types.ToolCallComplete,
		})
	}
	return out, nil
}
