package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/chatrelay/types"
	"go.uber.org/zap"
)

// DefaultTemperature 是请求与应用都未指定温度时的全局默认值。
const DefaultTemperature = 0.7

// Registry is a thread-safe registry of provider strategies keyed by ProviderID.
// Strategy selection is purely by the model's provider field.
type Registry struct {
	providers          map[ProviderID]Provider
	defaultTemperature float64
	logger             *zap.Logger
	mu                 sync.RWMutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaultTemperature overrides the global fallback temperature.
func WithDefaultTemperature(t float64) RegistryOption {
	return func(r *Registry) { r.defaultTemperature = t }
}

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		providers:          make(map[ProviderID]Provider),
		defaultTemperature: DefaultTemperature,
		logger:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "llm_registry"))
	return r
}

// Register adds a provider strategy. An existing strategy with the same ID is replaced.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get retrieves a provider strategy.
func (r *Registry) Get(id ProviderID) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// List returns the registered provider IDs in sorted order.
func (r *Registry) List() []ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ProviderID, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) provider(id ProviderID) (Provider, error) {
	p, ok := r.Get(id)
	if !ok {
		return nil, &UnsupportedProviderError{Provider: id}
	}
	return p, nil
}

// BuildRequest 构建提供商原生补全请求。
//
//   - MaxTokens 取 min(请求值, 模型上限)；请求值为 0 时取模型上限
//   - 温度依次回退：请求值 → 应用偏好 → 全局默认
//   - 非空工具经 ToolMapper 转换，特殊工具写入提供商特定字段
//
// 该方法不发起网络调用，API Key 只写入请求头。
func (r *Registry) BuildRequest(model ModelDescriptor, messages []types.Message, apiKey string, opts BuildOptions) (*CompletionRequest, error) {
	p, err := r.provider(model.Provider)
	if err != nil {
		return nil, err
	}

	in := BuildInput{
		Model:       model,
		Messages:    messages,
		APIKey:      apiKey,
		Stream:      opts.Stream,
		Temperature: r.ResolveTemperature(opts.Temperature, opts.PreferredTemperature),
		MaxTokens:   ClampMaxTokens(opts.MaxTokens, model.TokenLimit),
	}

	if len(opts.Tools) > 0 {
		pt, err := p.ToolsToProviderFormat(opts.Tools)
		if err != nil {
			return nil, fmt.Errorf("convert tools for %s: %w", model.Provider, err)
		}
		if len(pt.Dropped) > 0 {
			r.logger.Warn("special tools not supported by provider, dropped",
				zap.String("provider", string(model.Provider)),
				zap.Strings("tools", pt.Dropped))
		}
		in.Tools = pt
		if !pt.Empty() {
			in.ToolChoice = types.ResolveToolChoice(opts.ToolChoice, opts.Tools)
		}
	}

	req, err := p.Build(in)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("completion request built", req.LogFields()...)
	return req, nil
}

// ResolveTemperature 返回请求值、应用偏好值或全局默认值中第一个已设置的。
func (r *Registry) ResolveTemperature(requested, preferred *float64) float64 {
	if requested != nil {
		return *requested
	}
	if preferred != nil {
		return *preferred
	}
	return r.defaultTemperature
}

// ClampMaxTokens 将请求值限制在模型上限之内。limit 为 0 表示不限制。
func ClampMaxTokens(requested, limit int) int {
	if requested <= 0 {
		return limit
	}
	if limit > 0 && requested > limit {
		return limit
	}
	return requested
}

// ToolsToProviderFormat 使用 provider 的 ToolMapper 转换工具定义。
func (r *Registry) ToolsToProviderFormat(id ProviderID, defs []types.ToolDefinition) (ProviderTools, error) {
	p, err := r.provider(id)
	if err != nil {
		return ProviderTools{}, err
	}
	return p.ToolsToProviderFormat(defs)
}

// ToolCallsFromProviderFormat 将提供商工具调用转换为通用表示。
func (r *Registry) ToolCallsFromProviderFormat(id ProviderID, raw json.RawMessage) ([]types.ToolCall, error) {
	p, err := r.provider(id)
	if err != nil {
		return nil, err
	}
	return p.ToolCallsFromProviderFormat(raw)
}

// ToolCallsToProviderFormat 将通用工具调用转换为提供商格式。
func (r *Registry) ToolCallsToProviderFormat(id ProviderID, calls []types.ToolCall) (json.RawMessage, error) {
	p, err := r.provider(id)
	if err != nil {
		return nil, err
	}
	return p.ToolCallsToProviderFormat(calls)
}

// NewStreamDecoder 为 provider 创建新的流解码器。每个响应使用独立实例。
func (r *Registry) NewStreamDecoder(id ProviderID) (StreamDecoder, error) {
	p, err := r.provider(id)
	if err != nil {
		return nil, err
	}
	return p.NewStreamDecoder(), nil
}

// ParseCompletion 解析非流式响应体。
func (r *Registry) ParseCompletion(id ProviderID, body []byte) (*Completion, error) {
	p, err := r.provider(id)
	if err != nil {
		return nil, err
	}
	return p.ParseCompletion(body)
}
