package relay

import (
	"context"
	"fmt"
	"net/http"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/types"
	"go.uber.org/zap"
)

// Turn is one user turn submitted for a chat.
type Turn struct {
	AppID    string
	Messages []types.Message
	// ModelID selects the model; empty uses the app preferred model and
	// then the catalog default.
	ModelID     string
	Temperature *float64
	MaxTokens   int
	Tools       []types.ToolDefinition
	ToolChoice  *types.ToolChoice
	User        User
}

// prepared is a turn resolved against the catalog and built into a
// provider request.
type prepared struct {
	app          App
	model        llm.ModelDescriptor
	user         User
	request      *llm.CompletionRequest
	promptTokens int
}

// prepare resolves app, model, permission and key, then builds the
// provider request. All failures are ConfigurationErrors and happen
// before any network call.
func (r *Relay) prepare(ctx context.Context, turn Turn, stream bool) (*prepared, error) {
	app, ok := r.catalog.GetApp(ctx, turn.AppID)
	if !ok {
		return nil, types.NewError(types.ErrAppNotFound, fmt.Sprintf("app %s not found", turn.AppID)).
			WithHTTPStatus(http.StatusNotFound)
	}

	modelID := turn.ModelID
	if modelID == "" {
		modelID = app.PreferredModel
	}
	if modelID == "" {
		modelID = r.catalog.DefaultModel(ctx)
	}
	model, ok := r.catalog.GetModel(ctx, modelID)
	if !ok {
		return nil, types.NewError(types.ErrModelNotFound, fmt.Sprintf("model %q not found", modelID)).
			WithHTTPStatus(http.StatusNotFound)
	}

	if !permitted(r.perms.PermittedModels(ctx, turn.User), model.ID) {
		return nil, types.NewError(types.ErrModelNotPermitted, fmt.Sprintf("model %s is not permitted", model.ID)).
			WithHTTPStatus(http.StatusForbidden)
	}

	apiKey, err := r.keys.ResolveAPIKey(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("resolve api key for %s: %w", model.ID, err)
	}

	messages := withSystemPrompt(turn.Messages, app.SystemPrompt)

	tools := mergeTools(app.Tools, turn.Tools)
	if !model.SupportsTools && len(tools) > 0 {
		r.logger.Warn("model does not support tools, dropping",
			zap.String("model", model.ID),
			zap.Strings("tools", toolKeys(tools)))
		tools = nil
	}

	maxTokens := turn.MaxTokens
	if maxTokens <= 0 {
		maxTokens = app.MaxTokens
	}

	req, err := r.registry.BuildRequest(model, messages, apiKey, llm.BuildOptions{
		Stream:               stream,
		Temperature:          turn.Temperature,
		PreferredTemperature: app.Temperature,
		MaxTokens:            maxTokens,
		Tools:                tools,
		ToolChoice:           turn.ToolChoice,
	})
	if err != nil {
		return nil, err
	}

	return &prepared{
		app:          app,
		model:        model,
		user:         turn.User,
		request:      req,
		promptTokens: r.tokens.ForModel(model).CountMessages(messages),
	}, nil
}

// withSystemPrompt prepends prompt when messages carry no system message.
// The input slice is not modified.
func withSystemPrompt(messages []types.Message, prompt string) []types.Message {
	if prompt == "" || types.HasSystem(messages) {
		return messages
	}
	out := make([]types.Message, 0, len(messages)+1)
	out = append(out, types.NewSystemMessage(prompt))
	return append(out, messages...)
}

// mergeTools combines app and turn tools. A turn tool replaces an app
// tool with the same key; app order is kept.
func mergeTools(appTools, turnTools []types.ToolDefinition) []types.ToolDefinition {
	if len(appTools) == 0 {
		return turnTools
	}
	if len(turnTools) == 0 {
		return appTools
	}
	byKey := make(map[string]int, len(turnTools))
	for i, t := range turnTools {
		byKey[t.Key()] = i
	}
	out := make([]types.ToolDefinition, 0, len(appTools)+len(turnTools))
	used := make(map[string]bool, len(turnTools))
	for _, t := range appTools {
		if i, ok := byKey[t.Key()]; ok {
			out = append(out, turnTools[i])
			used[t.Key()] = true
			continue
		}
		out = append(out, t)
	}
	for _, t := range turnTools {
		if !used[t.Key()] {
			out = append(out, t)
		}
	}
	return out
}

func toolKeys(defs []types.ToolDefinition) []string {
	keys := make([]string, len(defs))
	for i, d := range defs {
		keys[i] = d.Key()
	}
	return keys
}

func (p *prepared) payload(chatID string) map[string]any {
	return map[string]any{
		"app_id":        p.app.ID,
		"chat_id":       chatID,
		"model_id":      p.model.ID,
		"provider":      string(p.model.Provider),
		"user_id":       p.user.ID,
		"prompt_tokens": p.promptTokens,
		"stream":        p.request.Stream,
	}
}
