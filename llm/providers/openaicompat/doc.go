// Package openaicompat provides the shared strategy for every provider that
// speaks the OpenAI Chat Completions wire format.
//
// OpenAI, Mistral and custom local endpoints share request building, tool
// mapping and SSE decoding. Instead of duplicating it they configure
// openaicompat.Provider and only override what differs:
//
//   - Provider ID and base URL
//   - Authentication headers
//   - Spelling of the "required" tool choice
//   - Placement of provider-executed special tools
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ID:                 llm.ProviderMistral,
//	    BaseURL:            "https://api.mistral.ai",
//	    RequiredToolChoice: "any",
//	})
//	registry.Register(p)
package openaicompat
