package llm

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"

	"github.com/BaSui01/chatrelay/types"
)

// ErrorKind 是错误分类。
type ErrorKind string

const (
	KindConfiguration ErrorKind = "ConfigurationError"
	KindTransport     ErrorKind = "TransportError"
	KindTimeout       ErrorKind = "TimeoutError"
	KindProviderAPI   ErrorKind = "ProviderAPIError"
	KindNormalization ErrorKind = "NormalizationError"
)

// Classification 是面向用户的错误描述，总是带有处理建议。
type Classification struct {
	Kind           ErrorKind `json:"kind"`
	Code           string    `json:"code"`
	Message        string    `json:"message"`
	Recommendation string    `json:"recommendation"`
	HTTPStatus     int       `json:"httpStatus,omitempty"`
	Retryable      bool      `json:"retryable"`
	Provider       string    `json:"provider,omitempty"`
}

// Classify 将任意错误归类。不会 panic，nil 也会得到一个通用分类。
func Classify(err error) (c Classification) {
	defer func() {
		if r := recover(); r != nil {
			c = unknownClassification(fmt.Sprint(r))
		}
	}()

	if err == nil {
		return unknownClassification("unknown error")
	}

	if isTimeout(err) {
		return Classification{
			Kind:           KindTimeout,
			Code:           string(types.ErrTimeout),
			Message:        "The request to the model provider timed out",
			Recommendation: "Try again, shorten the conversation, or lower max tokens",
			Retryable:      true,
		}
	}

	var unsupported *UnsupportedProviderError
	if errors.As(err, &unsupported) {
		return Classification{
			Kind:           KindConfiguration,
			Code:           string(types.ErrUnsupportedProvider),
			Message:        unsupported.Error(),
			Recommendation: "Configure the model with one of: openai, anthropic, google, mistral, local",
			Provider:       string(unsupported.Provider),
		}
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode, apiErr.Message, string(apiErr.Provider))
	}

	var normErr *NormalizationError
	if errors.As(err, &normErr) {
		return Classification{
			Kind:           KindNormalization,
			Code:           string(types.ErrStreamParse),
			Message:        "An error occurred while processing the model response",
			Recommendation: "Retry the request; if it keeps failing the provider may have changed its response format",
			Provider:       string(normErr.Provider),
		}
	}
	if errors.Is(err, ErrUnexpectedEOF) {
		return Classification{
			Kind:           KindNormalization,
			Code:           string(types.ErrStreamParse),
			Message:        "The model response ended unexpectedly",
			Recommendation: "Retry the request",
			Retryable:      true,
		}
	}

	if te, ok := types.AsError(err); ok {
		return classifyTypedError(te)
	}

	if c, ok := classifyTransport(err); ok {
		return c
	}

	return unknownClassification(err.Error())
}

// ClassifyStatus 按 HTTP 状态码分类提供商错误。
func ClassifyStatus(status int, message string, provider ProviderID) Classification {
	return classifyStatus(status, message, string(provider))
}

func classifyStatus(status int, message, provider string) Classification {
	c := Classification{
		Kind:       KindProviderAPI,
		Code:       strconv.Itoa(status),
		HTTPStatus: status,
		Provider:   provider,
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		c.Message = "Authentication with the model provider failed"
		c.Recommendation = "Check the API key configured for this model"
	case status == http.StatusNotFound:
		c.Message = "The model or endpoint was not found at the provider"
		c.Recommendation = "Verify the model name and endpoint URL in the model configuration"
	case status == http.StatusTooManyRequests:
		c.Message = "Rate limit exceeded at the model provider"
		c.Recommendation = "Wait before retrying or reduce request frequency"
		c.Retryable = true
	case status >= 500:
		c.Message = "The model provider returned a server error"
		c.Recommendation = "The provider is experiencing issues; retry later or switch models"
		c.Retryable = true
	case status == http.StatusBadRequest && mentionsQuota(message):
		c.Message = "The provider rejected the request: quota or credit exhausted"
		c.Recommendation = "Check billing and quota for the configured API key"
	default:
		c.Message = "The model provider rejected the request"
		c.Recommendation = "Check request parameters such as max tokens, temperature, and tool schemas"
	}
	if message != "" {
		c.Message = c.Message + ": " + message
	}
	return c
}

func mentionsQuota(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "quota") || strings.Contains(m, "credit") || strings.Contains(m, "billing")
}

func classifyTypedError(e *types.Error) Classification {
	switch {
	case types.IsConfigurationCode(e.Code):
		return Classification{
			Kind:           KindConfiguration,
			Code:           string(e.Code),
			Message:        e.Message,
			Recommendation: configurationRecommendation(e.Code),
			HTTPStatus:     e.HTTPStatus,
			Provider:       e.Provider,
		}
	case e.Code == types.ErrModelBusy:
		return Classification{
			Kind:           KindProviderAPI,
			Code:           strconv.Itoa(http.StatusTooManyRequests),
			Message:        e.Message,
			Recommendation: "Too many concurrent requests for this model; wait before retrying",
			HTTPStatus:     http.StatusTooManyRequests,
			Retryable:      true,
			Provider:       e.Provider,
		}
	case e.Code == types.ErrTimeout || e.Code == types.ErrUpstreamTimeout:
		return Classification{
			Kind:           KindTimeout,
			Code:           string(types.ErrTimeout),
			Message:        e.Message,
			Recommendation: "Try again, shorten the conversation, or lower max tokens",
			Retryable:      true,
			Provider:       e.Provider,
		}
	case e.Code == types.ErrStreamParse:
		return Classification{
			Kind:           KindNormalization,
			Code:           string(e.Code),
			Message:        e.Message,
			Recommendation: "Retry the request",
			Provider:       e.Provider,
		}
	case e.HTTPStatus >= 400:
		return classifyStatus(e.HTTPStatus, e.Message, e.Provider)
	}
	if c, ok := classifyTransport(e.Cause); ok {
		return c
	}
	c := unknownClassification(e.Message)
	c.Code = string(e.Code)
	c.Retryable = e.Retryable
	c.Provider = e.Provider
	return c
}

func configurationRecommendation(code types.ErrorCode) string {
	switch code {
	case types.ErrModelNotFound:
		return "Select a model that exists in the model catalog"
	case types.ErrAppNotFound:
		return "Check the app id in the request path"
	case types.ErrAPIKeyMissing:
		return "Configure an API key for this model or its provider"
	case types.ErrModelNotPermitted:
		return "Choose a model permitted for your user group"
	default:
		return "Check the model configuration"
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func classifyTransport(err error) (Classification, bool) {
	if err == nil {
		return Classification{}, false
	}
	transport := func(code, msg, rec string) (Classification, bool) {
		return Classification{
			Kind:           KindTransport,
			Code:           code,
			Message:        msg,
			Recommendation: rec,
			Retryable:      true,
		}, true
	}

	var dnsErr *net.DNSError
	var certErr *tls.CertificateVerificationError
	var headerErr tls.RecordHeaderError
	var authErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return transport("ECONNREFUSED", "Connection to the model provider was refused",
			"Check that the provider endpoint URL is correct and reachable")
	case errors.As(err, &dnsErr):
		return transport("ENOTFOUND", "The model provider host could not be resolved",
			"Check the endpoint hostname and DNS configuration")
	case errors.As(err, &certErr), errors.As(err, &headerErr), errors.As(err, &authErr),
		errors.As(err, &hostErr), errors.As(err, &invalidErr):
		return transport("TLS", "A TLS error occurred while connecting to the model provider",
			"Check the endpoint scheme and certificate configuration")
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrUnexpectedEOF):
		return transport("ECONNRESET", "The connection to the model provider was reset",
			"Retry the request")
	case errors.Is(err, context.Canceled):
		return transport("CANCELLED", "The request was cancelled", "Send the message again")
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return transport(string(types.ErrTransport), "A network error occurred while contacting the model provider",
			"Check network connectivity to the provider")
	}
	return Classification{}, false
}

func unknownClassification(msg string) Classification {
	return Classification{
		Kind:           KindProviderAPI,
		Code:           "UNKNOWN",
		Message:        msg,
		Recommendation: "Retry the request; contact the administrator if the problem persists",
	}
}

// ToError 将分类转换为 API 层使用的 *types.Error。
func (c Classification) ToError(cause error) *types.Error {
	var code types.ErrorCode
	status := http.StatusBadGateway
	switch c.Kind {
	case KindConfiguration:
		code = types.ErrorCode(c.Code)
		status = configurationStatus(code)
	case KindTimeout:
		code = types.ErrTimeout
		status = http.StatusGatewayTimeout
	case KindTransport:
		code = types.ErrTransport
	case KindNormalization:
		code = types.ErrStreamParse
	default:
		code, status = apiCodeAndStatus(c.HTTPStatus)
	}
	e := types.NewError(code, c.Message).
		WithHTTPStatus(status).
		WithRetryable(c.Retryable).
		WithProvider(c.Provider)
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}

func configurationStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrModelNotFound, types.ErrAppNotFound:
		return http.StatusNotFound
	case types.ErrModelNotPermitted:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func apiCodeAndStatus(providerStatus int) (types.ErrorCode, int) {
	switch {
	case providerStatus == http.StatusTooManyRequests:
		return types.ErrRateLimit, http.StatusTooManyRequests
	case providerStatus == http.StatusUnauthorized:
		return types.ErrUnauthorized, http.StatusBadGateway
	case providerStatus == http.StatusForbidden:
		return types.ErrForbidden, http.StatusBadGateway
	case providerStatus == http.StatusNotFound:
		return types.ErrModelNotFound, http.StatusBadGateway
	case providerStatus >= 500:
		return types.ErrUpstreamError, http.StatusBadGateway
	case providerStatus >= 400:
		return types.ErrInvalidRequest, http.StatusBadGateway
	default:
		return types.ErrInternalError, http.StatusInternalServerError
	}
}
