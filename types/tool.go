package types

import (
	"encoding/json"
	"time"
)

// Well-known special tool names. Special tools are executed by the provider
// itself and are placed into provider-specific request fields.
const (
	SpecialToolWebSearch = "web_search"
)

// ToolDefinition is the provider-agnostic tool schema. ID is the stable
// function identifier sent to providers; Name is the human-readable label.
type ToolDefinition struct {
	ID            string          `json:"id,omitempty"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
	IsSpecialTool bool            `json:"isSpecialTool,omitempty"`
}

// Key returns the function name used on the wire: ID, or Name when ID is empty.
func (d ToolDefinition) Key() string {
	if d.ID != "" {
		return d.ID
	}
	return d.Name
}

// SplitSpecial separates regular function tools from provider-executed ones.
func SplitSpecial(defs []ToolDefinition) (regular, special []ToolDefinition) {
	for _, d := range defs {
		if d.IsSpecialTool {
			special = append(special, d)
		} else {
			regular = append(regular, d)
		}
	}
	return regular, special
}

// ToolChoice selects how the model may use tools.
// Mode is one of "auto", "none", "required"; Name forces a specific function.
type ToolChoice struct {
	Mode string `json:"mode,omitempty"`
	Name string `json:"name,omitempty"`
}

const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// ResolveToolChoice maps a named choice onto the wire key of the matching
// tool. A choice naming a tool by its human label is rewritten to the tool
// ID; unknown names are returned unchanged.
func ResolveToolChoice(choice *ToolChoice, defs []ToolDefinition) *ToolChoice {
	if choice == nil || choice.Name == "" {
		return choice
	}
	for _, d := range defs {
		if d.Key() == choice.Name {
			return choice
		}
	}
	for _, d := range defs {
		if d.Name == choice.Name {
			return &ToolChoice{Mode: choice.Mode, Name: d.Key()}
		}
	}
	return choice
}

// IsZero reports whether no tool choice was supplied.
func (c *ToolChoice) IsZero() bool {
	return c == nil || (c.Mode == "" && c.Name == "")
}

// ToolResult represents the result of a tool execution.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration,omitempty"`
}

// Content returns the textual form sent back to the model.
func (tr ToolResult) Content() string {
	if tr.Error != "" {
		return "Error: " + tr.Error
	}
	return string(tr.Result)
}

// ToMessage converts ToolResult to a Message.
func (tr ToolResult) ToMessage() Message {
	return Message{
		Role:       RoleTool,
		Content:    tr.Content(),
		Name:       tr.Name,
		ToolCallID: tr.ToolCallID,
	}
}

// IsError returns true if the tool execution failed.
func (tr ToolResult) IsError() bool {
	return tr.Error != ""
}
