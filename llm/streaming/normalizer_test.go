package streaming

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/llm/providers"
	claude "github.com/BaSui01/chatrelay/llm/providers/anthropic"
	"github.com/BaSui01/chatrelay/llm/providers/gemini"
	"github.com/BaSui01/chatrelay/llm/providers/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

const openAIToolStream = "data: {\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"Let me \"}}]}\n\n" +
	": keep-alive\n\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"check.\"}}]}\r\n\r\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"type\":\"function\",\"function\":{\"name\":\"get_weather\",\"arguments\":\"{\\\"ci\"}}]}}]}\n\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"ty\\\": \\\"Paris\\\"}\"}}]}}]}\n\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n" +
	"data: [DONE]\n\n"

const anthropicToolStream = "event: message_start\r\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":12}}}\r\n\r\n" +
	"event: ping\r\ndata: {\"type\":\"ping\"}\r\n\r\n" +
	"event: content_block_start\r\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\r\n\r\n" +
	"event: content_block_delta\r\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Checking \"}}\r\n\r\n" +
	"event: content_block_stop\r\ndata: {\"type\":\"content_block_stop\",\"index\":0}\r\n\r\n" +
	"event: content_block_start\r\ndata: {\"type\":\"content_block_start\",\"index\":1,\"content_block\":{\"type\":\"tool_use\",\"id\":\"toolu_1\",\"name\":\"get_weather\",\"input\":{}}}\r\n\r\n" +
	"event: content_block_delta\r\ndata: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"city\"}}\r\n\r\n" +
	"event: ping\r\ndata: {\"type\":\"ping\"}\r\n\r\n" +
	"event: content_block_delta\r\ndata: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\": \\\"Paris\\\"}\"}}\r\n\r\n" +
	"event: content_block_stop\r\ndata: {\"type\":\"content_block_stop\",\"index\":1}\r\n\r\n" +
	"event: message_delta\r\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"tool_use\"},\"usage\":{\"output_tokens\":9}}\r\n\r\n" +
	"event: message_stop\r\ndata: {\"type\":\"message_stop\"}\r\n\r\n"

const geminiToolStream = "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"Looking \"}]}}]}\r\n\r\n" +
	"data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"it up.\"}]}}]}\r\n\r\n" +
	"data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"functionCall\":{\"id\":\"fc_1\",\"name\":\"get_weather\",\"args\":{\"city\":\"Paris\"}}}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":8,\"candidatesTokenCount\":5,\"totalTokenCount\":13}}\r\n\r\n"

func newOpenAINormalizer() *Normalizer {
	p := openai.NewOpenAIProvider(providers.OpenAIConfig{})
	return NewNormalizer(llm.ProviderOpenAI, p.NewStreamDecoder(), zap.NewNop())
}

func newAnthropicNormalizer() *Normalizer {
	p := claude.NewClaudeProvider(providers.ClaudeConfig{})
	return NewNormalizer(llm.ProviderAnthropic, p.NewStreamDecoder(), zap.NewNop())
}

func newGeminiNormalizer() *Normalizer {
	p := gemini.NewGeminiProvider(providers.GeminiConfig{})
	return NewNormalizer(llm.ProviderGoogle, p.NewStreamDecoder(), zap.NewNop())
}

// streamFixtures 是各提供商的完整流式响应样本.
var streamFixtures = []struct {
	name string
	body string
	new  func() *Normalizer
}{
	{name: "openai", body: openAIToolStream, new: newOpenAINormalizer},
	{name: "anthropic", body: anthropicToolStream, new: newAnthropicNormalizer},
	{name: "gemini", body: geminiToolStream, new: newGeminiNormalizer},
}

func collect(n *Normalizer, chunks [][]byte) []llm.StreamEvent {
	var events []llm.StreamEvent
	for _, c := range chunks {
		events = append(events, n.Feed(c)...)
	}
	return append(events, n.Finish()...)
}

func TestNormalizer_OpenAIToolStream(t *testing.T) {
	n := newOpenAINormalizer()
	assert.Equal(t, StateIdle, n.State())

	events := collect(n, [][]byte{[]byte(openAIToolStream)})
	require.Len(t, events, 5)
	assert.Equal(t, llm.TextDelta{Text: "Let me "}, events[0])
	assert.Equal(t, llm.TextDelta{Text: "check."}, events[1])
	assert.Equal(t, llm.ToolCallDelta{Index: 0, ID: "call_1", Name: "get_weather", ArgumentsDelta: `{"ci`}, events[2])

	complete, ok := events[4].(llm.Complete)
	require.True(t, ok)
	assert.Equal(t, "tool_calls", complete.FinishReason)
	require.Len(t, complete.ToolCalls, 1)
	assert.JSONEq(t, `{"city":"Paris"}`, string(complete.ToolCalls[0].Arguments))
	assert.Equal(t, StateComplete, n.State())

	// 终止后不再产生事件
	assert.Empty(t, n.Feed([]byte("data: {\"choices\":[]}\n\n")))
	assert.Empty(t, n.Finish())
}

func TestNormalizer_FixturesComplete(t *testing.T) {
	for _, fx := range streamFixtures {
		t.Run(fx.name, func(t *testing.T) {
			n := fx.new()
			events := collect(n, [][]byte{[]byte(fx.body)})
			require.NotEmpty(t, events)

			complete, ok := events[len(events)-1].(llm.Complete)
			require.True(t, ok, "last event is %T", events[len(events)-1])
			require.Len(t, complete.ToolCalls, 1)
			assert.Equal(t, "get_weather", complete.ToolCalls[0].Name)
			assert.JSONEq(t, `{"city":"Paris"}`, string(complete.ToolCalls[0].Arguments))
			assert.Equal(t, "tool_calls", complete.FinishReason)
			assert.Equal(t, StateComplete, n.State())
		})
	}
}

func TestNormalizer_OneByteChunks(t *testing.T) {
	for _, fx := range streamFixtures {
		t.Run(fx.name, func(t *testing.T) {
			whole := collect(fx.new(), [][]byte{[]byte(fx.body)})

			body := []byte(fx.body)
			chunks := make([][]byte, len(body))
			for i := range body {
				chunks[i] = body[i : i+1]
			}
			assert.Equal(t, whole, collect(fx.new(), chunks))
		})
	}
}

func TestNormalizer_ChunkBoundaryIndependence(t *testing.T) {
	for _, fx := range streamFixtures {
		t.Run(fx.name, func(t *testing.T) {
			body := []byte(fx.body)
			whole := collect(fx.new(), [][]byte{body})

			rapid.Check(t, func(t *rapid.T) {
				cuts := rapid.SliceOfDistinct(rapid.IntRange(1, len(body)-1), rapid.ID[int]).Draw(t, "cuts")
				sort.Ints(cuts)

				chunks := make([][]byte, 0, len(cuts)+1)
				prev := 0
				for _, c := range cuts {
					chunks = append(chunks, body[prev:c])
					prev = c
				}
				chunks = append(chunks, body[prev:])

				got := collect(fx.new(), chunks)
				if !reflect.DeepEqual(whole, got) {
					t.Fatalf("events differ for cuts %v", cuts)
				}
			})
		})
	}
}

func TestNormalizer_MalformedPayload(t *testing.T) {
	n := newOpenAINormalizer()
	events := n.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: {not json}\n\ndata: {\"choices\":[]}\n\n"))

	require.Len(t, events, 2)
	assert.Equal(t, llm.TextDelta{Text: "ok"}, events[0])
	pe, ok := events[1].(llm.ProviderError)
	require.True(t, ok)
	var normErr *llm.NormalizationError
	require.True(t, errors.As(pe.Err, &normErr))
	assert.Equal(t, "{not json}", pe.RawBody)
	assert.Equal(t, llm.KindNormalization, llm.Classify(pe.Err).Kind)
	assert.Equal(t, StateFailed, n.State())
	assert.Empty(t, n.Finish())
}

func TestNormalizer_EOFWithoutTerminal(t *testing.T) {
	n := newOpenAINormalizer()
	events := collect(n, [][]byte{[]byte("data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"tial\"}}]}")})

	require.Len(t, events, 3)
	pe, ok := events[2].(llm.ProviderError)
	require.True(t, ok)
	assert.True(t, errors.Is(pe.Err, llm.ErrUnexpectedEOF))
	assert.Equal(t, StateFailed, n.State())
}

func TestNormalizer_EOFAfterFinishReason(t *testing.T) {
	n := newOpenAINormalizer()
	events := collect(n, [][]byte{[]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"},\"finish_reason\":\"stop\"}]}\n\n")})

	require.Len(t, events, 2)
	assert.Equal(t, llm.Complete{FinishReason: "stop"}, events[1])
	assert.Equal(t, StateComplete, n.State())
}

func TestNormalizer_AnthropicPingIgnored(t *testing.T) {
	p := claude.NewClaudeProvider(providers.ClaudeConfig{})
	n := NewNormalizer(llm.ProviderAnthropic, p.NewStreamDecoder(), nil)

	body := "event: ping\ndata: {\"type\":\"ping\"}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi\"}}\n\n" +
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"}}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"

	events := collect(n, [][]byte{[]byte(body)})
	require.Len(t, events, 2)
	assert.Equal(t, llm.TextDelta{Text: "Hi"}, events[0])
	assert.Equal(t, "stop", events[1].(llm.Complete).FinishReason)
}

func TestNormalizer_Run(t *testing.T) {
	n := newOpenAINormalizer()
	var events []llm.StreamEvent
	for ev := range n.Run(t.Context(), strings.NewReader(openAIToolStream)) {
		events = append(events, ev)
	}
	require.Len(t, events, 5)
	assert.True(t, llm.IsTerminal(events[4]))
	assert.Equal(t, StateComplete, n.State())
}

func TestNormalizer_RunReadError(t *testing.T) {
	n := newOpenAINormalizer()
	r := io.MultiReader(strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n"), errReader{err: errors.New("connection reset")})

	var events []llm.StreamEvent
	for ev := range n.Run(t.Context(), r) {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	pe, ok := events[1].(llm.ProviderError)
	require.True(t, ok)
	assert.EqualError(t, pe.Err, "connection reset")
	assert.Equal(t, StateFailed, n.State())
}

func TestNormalizer_RunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	pr, pw := io.Pipe()

	n := newOpenAINormalizer()
	ch := n.Run(ctx, pr)

	go func() {
		_, _ = pw.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n"))
	}()
	first := <-ch
	assert.Equal(t, llm.TextDelta{Text: "first"}, first)

	cancel()
	// 真实 HTTP 响应体在 ctx 取消后读取失败
	pw.CloseWithError(context.Canceled)

	var rest []llm.StreamEvent
	for ev := range ch {
		rest = append(rest, ev)
	}
	assert.Empty(t, rest)
	assert.Equal(t, StateAborted, n.State())
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
