package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/BaSui01/chatrelay/types"
	"go.uber.org/zap"
)

// BuildOptions 是与提供商无关的请求选项。
type BuildOptions struct {
	Stream bool
	// Temperature 为请求显式指定的温度，nil 表示未指定。
	Temperature *float64
	// PreferredTemperature 为应用配置的偏好温度，nil 表示未配置。
	PreferredTemperature *float64
	// MaxTokens 为请求的最大输出 token，0 表示使用模型上限。
	MaxTokens  int
	Tools      []types.ToolDefinition
	ToolChoice *types.ToolChoice
}

// BuildInput 是 Registry 解析完温度、token 与工具后交给 RequestBuilder 的输入。
type BuildInput struct {
	Model       ModelDescriptor
	Messages    []types.Message
	APIKey      string
	Stream      bool
	Temperature float64
	MaxTokens   int
	Tools       ProviderTools
	ToolChoice  *types.ToolChoice
}

// CompletionRequest 是构建完成、可直接发送的提供商 HTTP 请求。
// Header 中含有凭据，不得整体记录日志，请使用 LogFields。
type CompletionRequest struct {
	Provider    ProviderID
	ModelID     string
	Method      string
	URL         string
	Header      http.Header
	Body        json.RawMessage
	Stream      bool
	MaxTokens   int
	Temperature float64
}

// HTTPRequest 生成绑定 ctx 的 *http.Request。
func (r *CompletionRequest) HTTPRequest(ctx context.Context) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// LogFields 返回可安全记录的字段（不含请求头与请求体）。
func (r *CompletionRequest) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("provider", string(r.Provider)),
		zap.String("model", r.ModelID),
		zap.String("url", r.URL),
		zap.Bool("stream", r.Stream),
		zap.Int("max_tokens", r.MaxTokens),
		zap.Float64("temperature", r.Temperature),
		zap.Int("body_bytes", len(r.Body)),
	}
}

// String 实现 fmt.Stringer，刻意省略凭据。
func (r *CompletionRequest) String() string {
	return fmt.Sprintf("CompletionRequest{provider=%s model=%s url=%s stream=%t}", r.Provider, r.ModelID, r.URL, r.Stream)
}
