package openaicompat

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// ---------------------------------------------------------------------------
// New() constructor
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	p := New(Config{ID: llm.ProviderLocal})
	assert.Equal(t, DefaultEndpointPath, p.Cfg.EndpointPath)
	assert.Equal(t, types.ToolChoiceRequired, p.Cfg.RequiredToolChoice)
	assert.Equal(t, llm.ProviderLocal, p.ID())

	p = New(Config{ID: llm.ProviderMistral, EndpointPath: "/api/chat", RequiredToolChoice: "any"})
	assert.Equal(t, "/api/chat", p.Cfg.EndpointPath)
	assert.Equal(t, "any", p.Cfg.RequiredToolChoice)
}

// ---------------------------------------------------------------------------
// Build
// ---------------------------------------------------------------------------

func decodeBody(t *testing.T, req *llm.CompletionRequest) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &m))
	return m
}

func TestBuild_RequestShape(t *testing.T) {
	p := New(Config{ID: llm.ProviderOpenAI, BaseURL: "https://api.test/", IncludeUsage: true})

	req, err := p.Build(llm.BuildInput{
		Model:       llm.ModelDescriptor{ID: "gpt-x", Name: "gpt-x-2025", Provider: llm.ProviderOpenAI},
		Messages:    []types.Message{{Role: types.RoleSystem, Content: "be brief"}, {Role: types.RoleUser, Content: "hi"}},
		APIKey:      "sk-test",
		Stream:      true,
		Temperature: 0.3,
		MaxTokens:   4096,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://api.test/v1/chat/completions", req.URL)
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
	assert.Equal(t, "text/event-stream", req.Header.Get("Accept"))

	body := decodeBody(t, req)
	assert.Equal(t, "gpt-x-2025", body["model"])
	assert.Equal(t, float64(4096), body["max_tokens"])
	assert.Equal(t, 0.3, body["temperature"])
	assert.Equal(t, true, body["stream"])
	assert.Equal(t, map[string]any{"include_usage": true}, body["stream_options"])
	assert.NotContains(t, body, "tools")
	assert.Len(t, body["messages"], 2)
}

func TestBuild_ModelURLWins(t *testing.T) {
	p := New(Config{ID: llm.ProviderLocal, BaseURL: "https://ignored.test", AllowEmptyKey: true})

	req, err := p.Build(llm.BuildInput{
		Model: llm.ModelDescriptor{ID: "llama", Provider: llm.ProviderLocal, URL: "http://localhost:8080/v1/chat/completions"},
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/v1/chat/completions", req.URL)
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestBuild_MissingKey(t *testing.T) {
	p := New(Config{ID: llm.ProviderOpenAI})
	_, err := p.Build(llm.BuildInput{Model: llm.ModelDescriptor{ID: "gpt-x"}})
	require.Error(t, err)
	assert.Equal(t, types.ErrAPIKeyMissing, types.GetErrorCode(err))
}

func TestBuild_ToolChoice(t *testing.T) {
	tests := []struct {
		name     string
		required string
		choice   *types.ToolChoice
		want     any
	}{
		{name: "none supplied", choice: nil, want: nil},
		{name: "auto", choice: &types.ToolChoice{Mode: types.ToolChoiceAuto}, want: "auto"},
		{name: "required", choice: &types.ToolChoice{Mode: types.ToolChoiceRequired}, want: "required"},
		{name: "required mistral spelling", required: "any", choice: &types.ToolChoice{Mode: types.ToolChoiceRequired}, want: "any"},
		{name: "named function", choice: &types.ToolChoice{Name: "lookup"}, want: map[string]any{
			"type": "function", "function": map[string]any{"name": "lookup"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(Config{ID: llm.ProviderOpenAI, RequiredToolChoice: tt.required})
			tools, err := p.ToolsToProviderFormat([]types.ToolDefinition{{Name: "lookup"}})
			require.NoError(t, err)

			req, err := p.Build(llm.BuildInput{
				Model:      llm.ModelDescriptor{ID: "gpt-x"},
				APIKey:     "k",
				Tools:      tools,
				ToolChoice: tt.choice,
			})
			require.NoError(t, err)
			body := decodeBody(t, req)
			assert.Equal(t, tt.want, body["tool_choice"])
			assert.Len(t, body["tools"], 1)
		})
	}
}

func TestBuild_SpecialToolFields(t *testing.T) {
	p := New(Config{
		ID: llm.ProviderOpenAI,
		SpecialTools: func(special []types.ToolDefinition) (map[string]json.RawMessage, []string) {
			return map[string]json.RawMessage{"web_search_options": json.RawMessage(`{}`)}, nil
		},
	})
	tools, err := p.ToolsToProviderFormat([]types.ToolDefinition{{Name: types.SpecialToolWebSearch, IsSpecialTool: true}})
	require.NoError(t, err)
	assert.Empty(t, tools.Tools)

	req, err := p.Build(llm.BuildInput{Model: llm.ModelDescriptor{ID: "gpt-x"}, APIKey: "k", Tools: tools})
	require.NoError(t, err)
	body := decodeBody(t, req)
	assert.Equal(t, map[string]any{}, body["web_search_options"])
	assert.NotContains(t, body, "tools")
}

func TestToolsToProviderFormat_DropsSpecialWithoutHandler(t *testing.T) {
	p := New(Config{ID: llm.ProviderLocal})
	tools, err := p.ToolsToProviderFormat([]types.ToolDefinition{
		{Name: "lookup", Description: "find", Parameters: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)},
		{Name: types.SpecialToolWebSearch, IsSpecialTool: true},
	})
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, []string{types.SpecialToolWebSearch}, tools.Dropped)
	assert.JSONEq(t, `{"type":"function","function":{"name":"lookup","description":"find","parameters":{"type":"object","properties":{"q":{"type":"string"}}}}}`, string(tools.Tools[0]))
}

func TestConvertMessages_ToolRoundTrip(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "weather?"},
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Paris"}`)}}},
		{Role: types.RoleUser, ToolResults: []types.ToolResult{{ToolCallID: "call_1", Name: "get_weather", Result: json.RawMessage(`"sunny"`)}}},
		{Role: types.RoleUser, Parts: []types.ContentPart{
			{Type: types.PartText, Text: "and this?"},
			{Type: types.PartImage, Image: &types.ImageContent{Type: "base64", Data: "AAAA", MediaType: "image/jpeg"}},
		}},
	}

	out := ConvertMessages(msgs)
	require.Len(t, out, 4)
	assert.Nil(t, out[1].Content)
	assert.Equal(t, `{"city":"Paris"}`, out[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool", out[2].Role)
	assert.Equal(t, "call_1", out[2].ToolCallID)
	assert.Equal(t, `"sunny"`, out[2].Content)

	parts, ok := out[3].Content.([]ContentPart)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", parts[1].ImageURL.URL)
}

// ---------------------------------------------------------------------------
// Tool call conversion
// ---------------------------------------------------------------------------

func TestToolCalls_RoundTrip(t *testing.T) {
	p := New(Config{ID: llm.ProviderOpenAI})

	rapid.Check(t, func(t *rapid.T) {
		id := rapid.StringMatching(`call_[A-Za-z0-9]{1,12}`).Draw(t, "id")
		name := rapid.StringMatching(`[a-z_]{1,16}`).Draw(t, "name")
		value := rapid.String().Draw(t, "value")
		args, _ := json.Marshal(map[string]string{"v": value})

		in := []types.ToolCall{{ID: id, Name: name, Arguments: args}}
		raw, err := p.ToolCallsToProviderFormat(in)
		if err != nil {
			t.Fatalf("to provider: %v", err)
		}
		out, err := p.ToolCallsFromProviderFormat(raw)
		if err != nil {
			t.Fatalf("from provider: %v", err)
		}
		if len(out) != 1 || out[0].ID != id || out[0].Name != name {
			t.Fatalf("identity lost: %+v", out)
		}
		var got map[string]string
		if err := json.Unmarshal(out[0].Arguments, &got); err != nil || got["v"] != value {
			t.Fatalf("arguments changed: %s", out[0].Arguments)
		}
	})
}

// ---------------------------------------------------------------------------
// Stream decoding
// ---------------------------------------------------------------------------

func decodeAll(t *testing.T, d llm.StreamDecoder, frames ...string) ([]llm.StreamEvent, bool, error) {
	t.Helper()
	var all []llm.StreamEvent
	for _, f := range frames {
		events, done, err := d.Decode(llm.Frame{Data: f})
		all = append(all, events...)
		if done || err != nil {
			return all, done, err
		}
	}
	return all, false, nil
}

func TestDecoder_TextAndToolCalls(t *testing.T) {
	p := New(Config{ID: llm.ProviderOpenAI})
	d := p.NewStreamDecoder()

	events, done, err := decodeAll(t, d,
		`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"ci"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ty\":\"Paris\"}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	require.NoError(t, err)
	assert.False(t, done)

	// 终止信号之前不得出现 Complete
	for _, ev := range events {
		_, isComplete := ev.(llm.Complete)
		assert.False(t, isComplete)
	}
	require.Len(t, events, 4)
	assert.Equal(t, llm.TextDelta{Text: "Hel"}, events[0])
	assert.Equal(t, llm.ToolCallDelta{Index: 0, ID: "call_1", Name: "get_weather", ArgumentsDelta: `{"ci`}, events[2])

	final, done, err := d.Decode(llm.Frame{Data: "[DONE]"})
	require.NoError(t, err)
	assert.True(t, done)
	require.Len(t, final, 1)
	complete, ok := final[0].(llm.Complete)
	require.True(t, ok)
	assert.Equal(t, "tool_calls", complete.FinishReason)
	require.Len(t, complete.ToolCalls, 1)
	assert.Equal(t, "call_1", complete.ToolCalls[0].ID)
	assert.JSONEq(t, `{"city":"Paris"}`, string(complete.ToolCalls[0].Arguments))
}

func TestDecoder_ToolCallsWithoutIndex(t *testing.T) {
	p := New(Config{ID: llm.ProviderLocal})
	d := p.NewStreamDecoder()

	events, _, err := decodeAll(t, d,
		`{"choices":[{"delta":{"tool_calls":[{"id":"call_a","type":"function","function":{"name":"f","arguments":"{\"x\":1}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"id":"call_b","type":"function","function":{"name":"g","arguments":"{\"y\""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"function":{"arguments":":2}"}}]}}]}`,
	)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, llm.ToolCallDelta{Index: 0, ID: "call_a", Name: "f", ArgumentsDelta: `{"x":1}`}, events[0])
	assert.Equal(t, llm.ToolCallDelta{Index: 1, ID: "call_b", Name: "g", ArgumentsDelta: `{"y"`}, events[1])
	assert.Equal(t, llm.ToolCallDelta{Index: 1, ArgumentsDelta: `:2}`}, events[2])

	final, done, err := d.Decode(llm.Frame{Data: "[DONE]"})
	require.NoError(t, err)
	assert.True(t, done)
	complete := final[0].(llm.Complete)
	require.Len(t, complete.ToolCalls, 2)
	assert.Equal(t, "call_a", complete.ToolCalls[0].ID)
	assert.JSONEq(t, `{"x":1}`, string(complete.ToolCalls[0].Arguments))
	assert.Equal(t, "call_b", complete.ToolCalls[1].ID)
	assert.Equal(t, "g", complete.ToolCalls[1].Name)
	assert.JSONEq(t, `{"y":2}`, string(complete.ToolCalls[1].Arguments))
}

func TestDecoder_ToolCallsWithoutIndexInOneChunk(t *testing.T) {
	p := New(Config{ID: llm.ProviderLocal})
	d := p.NewStreamDecoder()

	_, _, err := decodeAll(t, d,
		`{"choices":[{"delta":{"tool_calls":[{"id":"call_a","function":{"name":"f","arguments":"{}"}},{"id":"call_b","function":{"name":"g","arguments":"{}"}}]},"finish_reason":"tool_calls"}]}`,
	)
	require.NoError(t, err)

	final, err := d.Finish()
	require.NoError(t, err)
	complete := final[0].(llm.Complete)
	require.Len(t, complete.ToolCalls, 2)
	assert.Equal(t, []string{"call_a", "call_b"}, []string{complete.ToolCalls[0].ID, complete.ToolCalls[1].ID})
}

func TestDecoder_FinishWithoutDone(t *testing.T) {
	p := New(Config{ID: llm.ProviderMistral})

	d := p.NewStreamDecoder()
	_, _, err := decodeAll(t, d, `{"choices":[{"delta":{"content":"x"},"finish_reason":"stop"}]}`)
	require.NoError(t, err)
	events, err := d.Finish()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "stop", events[0].(llm.Complete).FinishReason)

	d = p.NewStreamDecoder()
	_, _, err = decodeAll(t, d, `{"choices":[{"delta":{"content":"x"}}]}`)
	require.NoError(t, err)
	_, err = d.Finish()
	assert.ErrorIs(t, err, llm.ErrUnexpectedEOF)
}

func TestDecoder_MalformedAndErrors(t *testing.T) {
	p := New(Config{ID: llm.ProviderOpenAI})

	_, _, err := p.NewStreamDecoder().Decode(llm.Frame{Data: `{"choices":[`})
	var norm *llm.NormalizationError
	require.True(t, errors.As(err, &norm))

	events, done, err := p.NewStreamDecoder().Decode(llm.Frame{Data: `{"error":{"message":"Rate limit reached","type":"rate_limit_exceeded"}}`})
	require.NoError(t, err)
	assert.True(t, done)
	require.Len(t, events, 1)
	pe := events[0].(llm.ProviderError)
	assert.Equal(t, 429, pe.HTTPStatus)
	assert.Equal(t, "429", llm.Classify(pe.Err).Code)

	// 终止时参数仍非法 JSON
	d := p.NewStreamDecoder()
	_, _, err = decodeAll(t, d, `{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c","function":{"name":"f","arguments":"{\"a\":"}}]}}]}`)
	require.NoError(t, err)
	_, done, err = d.Decode(llm.Frame{Data: "[DONE]"})
	assert.True(t, done)
	assert.True(t, errors.As(err, &norm))
}

// ---------------------------------------------------------------------------
// ParseCompletion
// ---------------------------------------------------------------------------

func TestParseCompletion(t *testing.T) {
	p := New(Config{ID: llm.ProviderOpenAI})

	c, err := p.ParseCompletion([]byte(`{
		"id":"chatcmpl-1","model":"gpt-x",
		"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"ok",
			"tool_calls":[{"id":"call_9","type":"function","function":{"name":"f","arguments":"{\"a\":1}"}}]}}],
		"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", c.Content)
	assert.Equal(t, "tool_calls", c.FinishReason)
	require.Len(t, c.ToolCalls, 1)
	assert.JSONEq(t, `{"a":1}`, string(c.ToolCalls[0].Arguments))
	assert.Equal(t, 8, c.Usage.TotalTokens)

	_, err = p.ParseCompletion([]byte(`{"choices":[]}`))
	assert.Error(t, err)
}

func TestToolsToProviderFormat_UsesToolID(t *testing.T) {
	p := New(Config{ID: llm.ProviderOpenAI})
	tools, err := p.ToolsToProviderFormat([]types.ToolDefinition{
		{ID: "get_weather", Name: "Get Weather", Description: "current weather"},
		{Name: "lookup"},
	})
	require.NoError(t, err)
	require.Len(t, tools.Tools, 2)
	assert.JSONEq(t, `{"type":"function","function":{"name":"get_weather","description":"current weather","parameters":{"type":"object","properties":{}}}}`, string(tools.Tools[0]))
	assert.JSONEq(t, `{"type":"function","function":{"name":"lookup","parameters":{"type":"object","properties":{}}}}`, string(tools.Tools[1]))
}
