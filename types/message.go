// Package types provides core types shared across the chatrelay packages.
// This package has ZERO dependencies on other chatrelay packages to avoid circular imports.
package types

import (
	"encoding/json"
	"time"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallStatus tracks whether a tool call's arguments are fully received.
type ToolCallStatus string

const (
	ToolCallPending  ToolCallStatus = "pending"
	ToolCallComplete ToolCallStatus = "complete"
)

// ToolCall represents a tool invocation request from the LLM.
// Arguments is an opaque JSON object; the relay never interprets it.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Provider  string          `json:"provider,omitempty"`
	Status    ToolCallStatus  `json:"status,omitempty"`
}

// PartType identifies a multimodal content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ImageContent represents image data for multimodal messages.
type ImageContent struct {
	Type      string `json:"type"` // "url" or "base64"
	URL       string `json:"url,omitempty"`
	Data      string `json:"data,omitempty"` // base64 encoded
	MediaType string `json:"media_type,omitempty"`
}

// ContentPart is one element of a structured message body.
type ContentPart struct {
	Type  PartType      `json:"type"`
	Text  string        `json:"text,omitempty"`
	Image *ImageContent `json:"image,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role        Role          `json:"role"`
	Content     string        `json:"content,omitempty"`
	Parts       []ContentPart `json:"parts,omitempty"`
	Name        string        `json:"name,omitempty"`
	ToolCalls   []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID  string        `json:"tool_call_id,omitempty"`
	ToolResults []ToolResult  `json:"tool_results,omitempty"`
	Timestamp   time.Time     `json:"timestamp,omitempty"`
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// Text returns the plain-text body, joining text parts when Content is empty.
func (m Message) Text() string {
	if m.Content != "" || len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type != PartText || p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// HasSystem reports whether any message in the list has the system role.
func HasSystem(messages []Message) bool {
	for _, m := range messages {
		if m.Role == RoleSystem {
			return true
		}
	}
	return false
}
