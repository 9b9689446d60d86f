package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/types"
)

// emptyObjectSchema 是未提供参数 schema 时使用的默认值。
var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ObjectSchema 返回工具参数 schema，空值回退为空对象 schema。
func ObjectSchema(params json.RawMessage) json.RawMessage {
	if len(strings.TrimSpace(string(params))) == 0 || string(params) == "null" {
		return emptyObjectSchema
	}
	return params
}

// MergeFields 序列化请求体并写入额外的顶层字段（特殊工具等）。
// 已存在的同名字段会被覆盖。
func MergeFields(body any, fields map[string]json.RawMessage) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if len(fields) == 0 {
		return data, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to merge request fields: %w", err)
	}
	for k, v := range fields {
		m[k] = v
	}
	return json.Marshal(m)
}

// ExtractErrorMessage 从错误响应体中提取消息
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func ExtractErrorMessage(body []byte) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Status  string `json:"status"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Error.Message != "" {
			if errResp.Error.Type != "" {
				return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
			}
			return errResp.Error.Message
		}
		if errResp.Message != "" {
			return errResp.Message
		}
	}

	// 回退到原始文本
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}

// NewAPIError 由非 2xx 响应构造 llm.APIError。
func NewAPIError(provider llm.ProviderID, status int, body []byte) *llm.APIError {
	return &llm.APIError{
		Provider:   provider,
		StatusCode: status,
		Message:    ExtractErrorMessage(body),
		Body:       string(body),
	}
}

// StatusFromErrorType 将流内错误类型映射为等价的 HTTP 状态码。
// 流内错误没有真实状态码，映射后可复用同一套分类逻辑。
func StatusFromErrorType(errType string) int {
	switch errType {
	case "invalid_request_error", "INVALID_ARGUMENT", "FAILED_PRECONDITION":
		return http.StatusBadRequest
	case "authentication_error", "invalid_api_key", "UNAUTHENTICATED":
		return http.StatusUnauthorized
	case "permission_error", "PERMISSION_DENIED":
		return http.StatusForbidden
	case "not_found_error", "NOT_FOUND":
		return http.StatusNotFound
	case "request_too_large":
		return http.StatusRequestEntityTooLarge
	case "rate_limit_error", "rate_limit_exceeded", "RESOURCE_EXHAUSTED":
		return http.StatusTooManyRequests
	case "overloaded_error":
		return 529
	case "UNAVAILABLE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// StreamErrorEvent 构造流内错误对应的终止事件。
func StreamErrorEvent(provider llm.ProviderID, errType, message, raw string) llm.ProviderError {
	status := StatusFromErrorType(errType)
	return llm.ProviderError{
		HTTPStatus: status,
		RawBody:    raw,
		Err: &llm.APIError{
			Provider:   provider,
			StatusCode: status,
			Message:    message,
			Body:       raw,
		},
	}
}

// ImageURL 返回图片的 URL 形式，base64 数据转为 data URL。
func ImageURL(img *types.ImageContent) string {
	if img == nil {
		return ""
	}
	if img.Type == "base64" || (img.URL == "" && img.Data != "") {
		mediaType := img.MediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		return "data:" + mediaType + ";base64," + img.Data
	}
	return img.URL
}

// HasImages 报告消息是否包含图片内容。
func HasImages(m types.Message) bool {
	for _, p := range m.Parts {
		if p.Type == types.PartImage && p.Image != nil {
			return true
		}
	}
	return false
}

// JoinURL 拼接基础地址与路径。
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
