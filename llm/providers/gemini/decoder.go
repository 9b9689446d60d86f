package gemini

import (
	"encoding/json"
	"strings"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/llm/providers"
)

// decoder 处理 streamGenerateContent?alt=sse 的响应帧.
// 每帧都是完整的 GenerateContentResponse；函数调用在单帧内完整给出，
// 流没有显式结束标记，响应体结束时由 Finish 产生 Complete.
type decoder struct {
	acc       *llm.ToolCallAccumulator
	nextIndex int
	reason    string
	usage     *llm.Usage
}

func newDecoder() *decoder {
	return &decoder{acc: llm.NewToolCallAccumulator(llm.ProviderGoogle)}
}

// Decode 实现 llm.StreamDecoder.
func (d *decoder) Decode(frame llm.Frame) ([]llm.StreamEvent, bool, error) {
	data := strings.TrimSpace(frame.Data)
	if data == "" {
		return nil, false, nil
	}

	var resp geminiResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return nil, false, llm.NewNormalizationError(llm.ProviderGoogle, data, err)
	}
	if resp.Error != nil {
		status := resp.Error.Status
		if status == "" {
			status = "INTERNAL"
		}
		ev := providers.StreamErrorEvent(llm.ProviderGoogle, status, resp.Error.Message, data)
		if resp.Error.Code > 0 {
			ev.HTTPStatus = resp.Error.Code
			if apiErr, ok := ev.Err.(*llm.APIError); ok {
				apiErr.StatusCode = resp.Error.Code
			}
		}
		return []llm.StreamEvent{ev}, true, nil
	}

	if u := usage(resp.UsageMetadata); u != nil {
		d.usage = u
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" && len(resp.Candidates) == 0 {
		d.reason = "SAFETY"
		return nil, false, nil
	}
	if len(resp.Candidates) == 0 {
		return nil, false, nil
	}

	cand := resp.Candidates[0]
	var events []llm.StreamEvent
	for _, part := range cand.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args := strings.TrimSpace(string(part.FunctionCall.Args))
			if args == "" {
				args = "{}"
			}
			events = append(events, d.acc.Merge(d.nextIndex, callID(part.FunctionCall.ID), part.FunctionCall.Name, args))
			d.nextIndex++
		case part.Thought:
		case part.Text != "":
			events = append(events, llm.TextDelta{Text: part.Text})
		}
	}
	if cand.FinishReason != "" {
		d.reason = cand.FinishReason
	}
	return events, false, nil
}

// Finish 在响应体结束时产生 Complete；未收到 finishReason 视为截断.
func (d *decoder) Finish() ([]llm.StreamEvent, error) {
	if d.reason == "" {
		return nil, llm.ErrUnexpectedEOF
	}
	calls, err := d.acc.Finalize()
	if err != nil {
		return nil, err
	}
	return []llm.StreamEvent{llm.Complete{
		FinishReason: finishReason(d.reason, len(calls) > 0),
		ToolCalls:    calls,
		Usage:        d.usage,
	}}, nil
}
