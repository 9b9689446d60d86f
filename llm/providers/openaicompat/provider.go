// =============================================================================
// chatrelay OpenAI-Compatible Provider Base
// =============================================================================
// Shared request building, tool mapping and stream decoding for every
// provider that speaks the OpenAI Chat Completions format. OpenAI, Mistral
// and custom local endpoints configure this and only override what differs
// (base URL, headers, tool choice spelling, special tools).
// =============================================================================

package openaicompat

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/llm/providers"
	"github.com/BaSui01/chatrelay/types"
)

// DefaultEndpointPath is the chat completions endpoint path.
const DefaultEndpointPath = "/v1/chat/completions"

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	// ID is the provider identifier the strategy is registered under.
	ID llm.ProviderID

	// BaseURL is used when the model descriptor does not carry a URL.
	BaseURL string

	// EndpointPath is appended to BaseURL. Defaults to "/v1/chat/completions".
	EndpointPath string

	// AllowEmptyKey permits requests without credentials (local endpoints).
	AllowEmptyKey bool

	// BuildHeaders sets authentication headers. Defaults to "Authorization: Bearer <key>".
	BuildHeaders func(h http.Header, apiKey string)

	// RequiredToolChoice is the wire spelling of the "required" tool choice.
	// Defaults to "required"; Mistral uses "any".
	RequiredToolChoice string

	// SpecialTools maps provider-executed tools to top-level request fields.
	// Tools it does not return in fields must be reported in dropped.
	SpecialTools func(special []types.ToolDefinition) (fields map[string]json.RawMessage, dropped []string)

	// IncludeUsage requests a usage chunk at the end of streams.
	IncludeUsage bool

	// RequestHook may adjust the body before serialization.
	RequestHook func(in llm.BuildInput, body *Request)
}

// Provider implements llm.Provider for the OpenAI Chat Completions format.
type Provider struct {
	Cfg Config
}

// New creates a new OpenAI-compatible provider strategy.
func New(cfg Config) *Provider {
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = DefaultEndpointPath
	}
	if cfg.RequiredToolChoice == "" {
		cfg.RequiredToolChoice = types.ToolChoiceRequired
	}
	return &Provider{Cfg: cfg}
}

// ID returns the provider identifier.
func (p *Provider) ID() llm.ProviderID { return p.Cfg.ID }

// buildHeaders applies headers to the request.
func (p *Provider) buildHeaders(h http.Header, apiKey string, stream bool) {
	h.Set("Content-Type", "application/json")
	if stream {
		h.Set("Accept", "text/event-stream")
	}
	if apiKey == "" {
		return
	}
	if p.Cfg.BuildHeaders != nil {
		p.Cfg.BuildHeaders(h, apiKey)
		return
	}
	// Default: Bearer token auth
	h.Set("Authorization", "Bearer "+apiKey)
}

// Build constructs the provider-native HTTP request.
func (p *Provider) Build(in llm.BuildInput) (*llm.CompletionRequest, error) {
	if in.APIKey == "" && !p.Cfg.AllowEmptyKey {
		return nil, types.NewError(types.ErrAPIKeyMissing, fmt.Sprintf("no API key for model %s", in.Model.ID)).
			WithProvider(string(p.Cfg.ID))
	}

	temperature := in.Temperature
	body := Request{
		Model:       in.Model.ProviderModel(),
		Messages:    ConvertMessages(in.Messages),
		MaxTokens:   in.MaxTokens,
		Temperature: &temperature,
		Stream:      in.Stream,
	}
	if len(in.Tools.Tools) > 0 {
		body.Tools = in.Tools.Tools
		body.ToolChoice = p.toolChoice(in.ToolChoice)
	}
	if in.Stream && p.Cfg.IncludeUsage {
		body.StreamOptions = &StreamOptions{IncludeUsage: true}
	}
	if p.Cfg.RequestHook != nil {
		p.Cfg.RequestHook(in, &body)
	}

	data, err := providers.MergeFields(body, in.Tools.Fields)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	p.buildHeaders(header, in.APIKey, in.Stream)

	return &llm.CompletionRequest{
		Provider:    p.Cfg.ID,
		ModelID:     in.Model.ID,
		Method:      http.MethodPost,
		URL:         in.Model.ResolveURL(providers.JoinURL(p.Cfg.BaseURL, p.Cfg.EndpointPath)),
		Header:      header,
		Body:        data,
		Stream:      in.Stream,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	}, nil
}

// toolChoice converts the generic tool choice into the OpenAI wire value.
func (p *Provider) toolChoice(c *types.ToolChoice) any {
	if c.IsZero() {
		return nil
	}
	if c.Name != "" {
		return map[string]any{
			"type":     "function",
			"function": map[string]string{"name": c.Name},
		}
	}
	if c.Mode == types.ToolChoiceRequired {
		return p.Cfg.RequiredToolChoice
	}
	return c.Mode
}

// ConvertMessages converts generic messages into OpenAI format.
// Tool results carried on a message are expanded into tool messages that
// precede the message's own text.
func ConvertMessages(msgs []types.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		for _, tr := range m.ToolResults {
			out = append(out, Message{
				Role:       string(types.RoleTool),
				Content:    tr.Content(),
				ToolCallID: tr.ToolCallID,
			})
		}
		if len(m.ToolResults) > 0 && m.Text() == "" && len(m.ToolCalls) == 0 {
			continue
		}

		om := Message{
			Role:       string(m.Role),
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			Content:    messageContent(m),
		}
		if len(m.ToolCalls) > 0 {
			om.ToolCalls = toWireCalls(m.ToolCalls)
		}
		out = append(out, om)
	}
	return out
}

func messageContent(m types.Message) any {
	if !providers.HasImages(m) {
		text := m.Text()
		if text == "" && len(m.ToolCalls) > 0 {
			return nil
		}
		return text
	}
	parts := make([]ContentPart, 0, len(m.Parts))
	for _, part := range m.Parts {
		switch part.Type {
		case types.PartText:
			parts = append(parts, ContentPart{Type: "text", Text: part.Text})
		case types.PartImage:
			if part.Image != nil {
				parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: providers.ImageURL(part.Image)}})
			}
		}
	}
	return parts
}

// ParseCompletion parses a non-streaming response body.
func (p *Provider) ParseCompletion(body []byte) (*llm.Completion, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewNormalizationError(p.Cfg.ID, string(body), err)
	}
	if resp.Error != nil {
		return nil, providers.NewAPIError(p.Cfg.ID, providers.StatusFromErrorType(resp.Error.Type), body)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewNormalizationError(p.Cfg.ID, string(body), fmt.Errorf("empty choices"))
	}

	choice := resp.Choices[0]
	c := &llm.Completion{
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
	}
	if choice.Message != nil {
		c.Content = choice.Message.Content
		calls, err := fromWireCalls(p.Cfg.ID, choice.Message.ToolCalls)
		if err != nil {
			return nil, err
		}
		c.ToolCalls = calls
	}
	if resp.Usage != nil {
		c.Usage = &llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return c, nil
}

// NewStreamDecoder returns a decoder for one streamed response.
func (p *Provider) NewStreamDecoder() llm.StreamDecoder {
	return newDecoder(p.Cfg.ID)
}
