package claude

import (
	"encoding/json"
	"strings"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/llm/providers"
)

// decoder 处理 Messages API 的流事件：
// message_start → content_block_start / delta / stop ... → message_delta → message_stop.
// tool_use 的 input_json_delta 片段只在 message_stop 时解析.
type decoder struct {
	acc        *llm.ToolCallAccumulator
	stopReason string
	usage      llm.Usage
	sawUsage   bool
}

func newDecoder() *decoder {
	return &decoder{acc: llm.NewToolCallAccumulator(llm.ProviderAnthropic)}
}

// Decode 实现 llm.StreamDecoder.
func (d *decoder) Decode(frame llm.Frame) ([]llm.StreamEvent, bool, error) {
	data := strings.TrimSpace(frame.Data)
	if data == "" {
		return nil, false, nil
	}

	var ev claudeStreamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return nil, false, llm.NewNormalizationError(llm.ProviderAnthropic, data, err)
	}
	if ev.Type == "" {
		ev.Type = frame.Event
	}

	switch ev.Type {
	case "ping":
		return nil, false, nil

	case "error":
		errType, msg := "api_error", "stream error"
		if ev.Error != nil {
			errType, msg = ev.Error.Type, ev.Error.Message
		}
		return []llm.StreamEvent{providers.StreamErrorEvent(llm.ProviderAnthropic, errType, msg, data)}, true, nil

	case "message_start":
		if ev.Message != nil && ev.Message.Usage != nil {
			d.usage.PromptTokens = ev.Message.Usage.InputTokens
			d.sawUsage = true
		}
		return nil, false, nil

	case "content_block_start":
		if ev.ContentBlock == nil {
			return nil, false, nil
		}
		switch ev.ContentBlock.Type {
		case "tool_use":
			return []llm.StreamEvent{d.acc.Merge(ev.Index, ev.ContentBlock.ID, ev.ContentBlock.Name, "")}, false, nil
		case "text":
			if ev.ContentBlock.Text != "" {
				return []llm.StreamEvent{llm.TextDelta{Text: ev.ContentBlock.Text}}, false, nil
			}
		}
		return nil, false, nil

	case "content_block_delta":
		if ev.Delta == nil {
			return nil, false, nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			if ev.Delta.Text != "" {
				return []llm.StreamEvent{llm.TextDelta{Text: ev.Delta.Text}}, false, nil
			}
		case "input_json_delta":
			// 服务端工具（server_tool_use）的输入不属于客户端工具调用
			if d.acc.Has(ev.Index) && ev.Delta.PartialJSON != "" {
				return []llm.StreamEvent{d.acc.Merge(ev.Index, "", "", ev.Delta.PartialJSON)}, false, nil
			}
		}
		return nil, false, nil

	case "message_delta":
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			d.stopReason = ev.Delta.StopReason
		}
		if ev.Usage != nil {
			d.usage.CompletionTokens = ev.Usage.OutputTokens
			d.sawUsage = true
		}
		return nil, false, nil

	case "message_stop":
		events, err := d.complete()
		return events, true, err
	}

	// content_block_stop 以及未知事件类型忽略
	return nil, false, nil
}

// Finish 处理未收到 message_stop 即结束的响应体.
func (d *decoder) Finish() ([]llm.StreamEvent, error) {
	if d.stopReason == "" {
		return nil, llm.ErrUnexpectedEOF
	}
	return d.complete()
}

func (d *decoder) complete() ([]llm.StreamEvent, error) {
	calls, err := d.acc.Finalize()
	if err != nil {
		return nil, err
	}
	reason := finishReason(d.stopReason)
	if reason == "" {
		reason = "stop"
	}
	c := llm.Complete{FinishReason: reason, ToolCalls: calls}
	if d.sawUsage {
		u := d.usage
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
		c.Usage = &u
	}
	return []llm.StreamEvent{c}, nil
}
