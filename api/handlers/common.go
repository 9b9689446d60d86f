package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/types"
	"go.uber.org/zap"
)

// maxBodyBytes 是请求体大小上限。
const maxBodyBytes = 1 << 20

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	Kind           string `json:"kind,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
	Retryable      bool   `json:"retryable,omitempty"`
	Provider       string `json:"provider,omitempty"`
	HTTPStatus     int    `json:"-"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// 编码失败时响应头已写出，无法再修改状态码
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError 写入错误响应（从 types.Error）
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	writeErrorInfo(w, errorInfoFrom(err), err.Cause, logger)
}

// WriteClassifiedError 对任意错误分类后写入响应，附带错误种类与处理建议。
func WriteClassifiedError(w http.ResponseWriter, err error, logger *zap.Logger) {
	c := llm.Classify(err)
	te, ok := types.AsError(err)
	if !ok {
		te = c.ToError(err)
	}
	info := errorInfoFrom(te)
	info.Kind = string(c.Kind)
	info.Recommendation = c.Recommendation
	if info.Provider == "" {
		info.Provider = c.Provider
	}
	writeErrorInfo(w, info, err, logger)
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	err := types.NewError(code, message).WithHTTPStatus(status)
	WriteError(w, err, logger)
}

func errorInfoFrom(err *types.Error) *ErrorInfo {
	status := err.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(err.Code)
	}
	return &ErrorInfo{
		Code:       string(err.Code),
		Message:    err.Message,
		Retryable:  err.Retryable,
		Provider:   err.Provider,
		HTTPStatus: status,
	}
}

func writeErrorInfo(w http.ResponseWriter, info *ErrorInfo, cause error, logger *zap.Logger) {
	if logger != nil {
		fields := []zap.Field{
			zap.String("code", info.Code),
			zap.String("message", info.Message),
			zap.Int("status", info.HTTPStatus),
			zap.Bool("retryable", info.Retryable),
		}
		if cause != nil {
			fields = append(fields, zap.Error(cause))
		}
		if info.HTTPStatus >= http.StatusInternalServerError {
			logger.Error("API error", fields...)
		} else {
			logger.Warn("API error", fields...)
		}
	}

	WriteJSON(w, info.HTTPStatus, Response{
		Success:   false,
		Error:     info,
		Timestamp: time.Now(),
	})
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	// 4xx 客户端错误
	case types.ErrInvalidRequest, types.ErrAPIKeyMissing, types.ErrUnsupportedProvider:
		return http.StatusBadRequest
	case types.ErrAuthentication, types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrForbidden, types.ErrModelNotPermitted:
		return http.StatusForbidden
	case types.ErrModelNotFound, types.ErrAppNotFound, types.ErrSessionNotFound:
		return http.StatusNotFound
	case types.ErrNoActiveSession:
		return http.StatusConflict
	case types.ErrRateLimit, types.ErrModelBusy:
		return http.StatusTooManyRequests
	case types.ErrQuotaExceeded:
		return http.StatusPaymentRequired

	// 5xx 服务端错误
	case types.ErrTimeout, types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case types.ErrModelOverloaded, types.ErrServiceUnavailable, types.ErrProviderUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrUpstreamError, types.ErrTransport, types.ErrStreamParse:
		return http.StatusBadGateway
	case types.ErrInternalError:
		return http.StatusInternalServerError

	// 默认
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		WriteError(w, err, logger)
		return err
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields() // 严格模式：拒绝未知字段

	if err := decoder.Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, apiErr, logger)
		return apiErr
	}

	return nil
}

// ValidateContentType 验证 Content-Type
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && contentType != "application/json; charset=utf-8" {
		err := types.NewError(types.ErrInvalidRequest, "Content-Type must be application/json").
			WithHTTPStatus(http.StatusUnsupportedMediaType)
		WriteError(w, err, logger)
		return false
	}
	return true
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush 透传 http.Flusher，SSE 经过中间件包装后仍可刷新
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack 透传 http.Hijacker，WebSocket 升级需要
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.Written = true
	return hj.Hijack()
}

// Unwrap 供 http.ResponseController 访问底层 ResponseWriter
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
