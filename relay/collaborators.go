package relay

import (
	"context"
	"slices"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/types"
	"go.uber.org/zap"
)

// App is the per-application configuration applied to every turn.
type App struct {
	ID             string
	Name           string
	SystemPrompt   string
	PreferredModel string
	// Temperature is the app's preferred temperature; nil means unset.
	Temperature *float64
	// MaxTokens is the default output limit when the turn sets none.
	MaxTokens int
	Tools     []types.ToolDefinition
}

// User identifies the caller for permission checks and interaction logs.
type User struct {
	ID    string
	Roles []string
}

// ModelCatalog resolves models and apps.
type ModelCatalog interface {
	GetModel(ctx context.Context, modelID string) (llm.ModelDescriptor, bool)
	GetApp(ctx context.Context, appID string) (App, bool)
	// DefaultModel returns the catalog default model id, or "".
	DefaultModel(ctx context.Context) string
}

// KeyResolver returns the API key for a model. An empty key with a nil
// error means nothing is configured.
type KeyResolver interface {
	ResolveAPIKey(ctx context.Context, model llm.ModelDescriptor) (string, error)
}

// KeyResolverFunc adapts a function to KeyResolver.
type KeyResolverFunc func(ctx context.Context, model llm.ModelDescriptor) (string, error)

// ResolveAPIKey calls f.
func (f KeyResolverFunc) ResolveAPIKey(ctx context.Context, model llm.ModelDescriptor) (string, error) {
	return f(ctx, model)
}

// PermissionChecker lists the model ids a user may use. "*" permits all.
type PermissionChecker interface {
	PermittedModels(ctx context.Context, user User) []string
}

// AllowAll permits every model.
type AllowAll struct{}

// PermittedModels returns ["*"].
func (AllowAll) PermittedModels(context.Context, User) []string { return []string{AllModels} }

// AllModels is the wildcard entry in a permitted model list.
const AllModels = "*"

func permitted(list []string, modelID string) bool {
	return slices.Contains(list, AllModels) || slices.Contains(list, modelID)
}

// Interaction kinds passed to InteractionRecorder.
const (
	RecordChatRequest  = "chat_request"
	RecordChatResponse = "chat_response"
	RecordChatError    = "chat_error"
	RecordChatStopped  = "chat_stopped"
)

// InteractionRecorder persists interaction logs. Record must not block
// the caller for long and never fails the turn.
type InteractionRecorder interface {
	Record(ctx context.Context, kind string, payload map[string]any)
}

// NopRecorder discards interactions.
type NopRecorder struct{}

// Record does nothing.
func (NopRecorder) Record(context.Context, string, map[string]any) {}

// LogRecorder writes interactions to a zap logger.
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder creates a recorder that logs at info level.
func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogRecorder{logger: logger.With(zap.String("component", "interaction_log"))}
}

// Record logs the interaction.
func (r *LogRecorder) Record(_ context.Context, kind string, payload map[string]any) {
	r.logger.Info("interaction", zap.String("kind", kind), zap.Any("payload", payload))
}
