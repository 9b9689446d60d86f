package openaicompat

import (
	"encoding/json"
	"strings"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/llm/providers"
)

// doneMarker terminates an OpenAI-compatible stream.
const doneMarker = "[DONE]"

// decoder accumulates one streamed chat completion.
// Tool call fragments are keyed by their delta index and only parsed at [DONE].
type decoder struct {
	provider     llm.ProviderID
	acc          *llm.ToolCallAccumulator
	positional   map[int]int
	finishReason string
	usage        *llm.Usage
}

func newDecoder(provider llm.ProviderID) *decoder {
	return &decoder{
		provider:   provider,
		acc:        llm.NewToolCallAccumulator(provider),
		positional: make(map[int]int),
	}
}

// Decode implements llm.StreamDecoder.
func (d *decoder) Decode(frame llm.Frame) ([]llm.StreamEvent, bool, error) {
	data := strings.TrimSpace(frame.Data)
	if data == "" {
		return nil, false, nil
	}
	if data == doneMarker {
		events, err := d.complete()
		return events, true, err
	}

	var chunk Response
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil, false, llm.NewNormalizationError(d.provider, data, err)
	}
	if chunk.Error != nil {
		return []llm.StreamEvent{
			providers.StreamErrorEvent(d.provider, chunk.Error.Type, chunk.Error.Message, data),
		}, true, nil
	}
	if chunk.Usage != nil {
		d.usage = &llm.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}

	var events []llm.StreamEvent
	for _, choice := range chunk.Choices {
		if choice.Delta != nil {
			if choice.Delta.Content != "" {
				events = append(events, llm.TextDelta{Text: choice.Delta.Content})
			}
			for pos, tc := range choice.Delta.ToolCalls {
				index := d.slot(pos, tc)
				events = append(events, d.acc.Merge(index, tc.ID, tc.Function.Name, tc.Function.Arguments))
			}
		}
		if choice.FinishReason != "" {
			d.finishReason = choice.FinishReason
		}
	}
	return events, false, nil
}

// slot picks the accumulator index for a tool call delta. Deltas without an
// index are keyed by their position in the chunk; a new id at an occupied
// position starts a new call, and id-less fragments continue the latest
// call at that position.
func (d *decoder) slot(pos int, tc ToolCall) int {
	if tc.Index != nil {
		return *tc.Index
	}
	index, ok := d.positional[pos]
	if !ok {
		index = pos
		if d.acc.Has(index) {
			index = d.acc.NextIndex()
		}
	}
	if tc.ID != "" && d.acc.Has(index) && d.acc.ID(index) != tc.ID {
		index = d.acc.NextIndex()
	}
	d.positional[pos] = index
	return index
}

// Finish handles end of body without [DONE]. Some compatible servers close
// the stream right after the finish_reason chunk; that is accepted.
func (d *decoder) Finish() ([]llm.StreamEvent, error) {
	if d.finishReason == "" {
		return nil, llm.ErrUnexpectedEOF
	}
	return d.complete()
}

func (d *decoder) complete() ([]llm.StreamEvent, error) {
	calls, err := d.acc.Finalize()
	if err != nil {
		return nil, err
	}
	reason := d.finishReason
	if reason == "" {
		reason = "stop"
	}
	return []llm.StreamEvent{llm.Complete{FinishReason: reason, ToolCalls: calls, Usage: d.usage}}, nil
}
