package llm

import (
	"errors"
	"fmt"
)

// ErrTimeout 是请求超过挂钟截止时间时使用的取消原因。
var ErrTimeout = errors.New("request deadline exceeded")

// UnsupportedProviderError 表示模型配置的 provider 没有注册策略。
type UnsupportedProviderError struct {
	Provider ProviderID
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider %q", string(e.Provider))
}

// APIError 表示提供商返回了非 2xx 响应。
type APIError struct {
	Provider   ProviderID
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s API error %d", e.Provider, e.StatusCode)
}

// NormalizationError 表示提供商负载无法解析。
type NormalizationError struct {
	Provider ProviderID
	Payload  string
	Err      error
}

func (e *NormalizationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: malformed stream payload", e.Provider)
	}
	return fmt.Sprintf("%s: malformed stream payload: %v", e.Provider, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// ErrUnexpectedEOF 表示流在终止标记之前结束。
var ErrUnexpectedEOF = errors.New("stream ended before a terminal marker")

// NewNormalizationError 构造解析错误，负载截断到 512 字节。
func NewNormalizationError(provider ProviderID, payload string, err error) *NormalizationError {
	const maxPayload = 512
	if len(payload) > maxPayload {
		payload = payload[:maxPayload] + "..."
	}
	return &NormalizationError{Provider: provider, Payload: payload, Err: err}
}
