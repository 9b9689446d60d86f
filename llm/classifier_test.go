package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/BaSui01/chatrelay/types"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  ErrorKind
		wantCode  string
		retryable bool
	}{
		{name: "rate limit", err: &APIError{Provider: ProviderOpenAI, StatusCode: 429, Message: "slow down"}, wantKind: KindProviderAPI, wantCode: "429", retryable: true},
		{name: "unauthorized", err: &APIError{Provider: ProviderAnthropic, StatusCode: 401}, wantKind: KindProviderAPI, wantCode: "401"},
		{name: "forbidden", err: &APIError{Provider: ProviderAnthropic, StatusCode: 403}, wantKind: KindProviderAPI, wantCode: "403"},
		{name: "not found", err: &APIError{Provider: ProviderGoogle, StatusCode: 404}, wantKind: KindProviderAPI, wantCode: "404"},
		{name: "server error", err: &APIError{Provider: ProviderMistral, StatusCode: 503}, wantKind: KindProviderAPI, wantCode: "503", retryable: true},
		{name: "bad request", err: &APIError{Provider: ProviderOpenAI, StatusCode: 400}, wantKind: KindProviderAPI, wantCode: "400"},
		{name: "wrapped api error", err: fmt.Errorf("relay: %w", &APIError{StatusCode: 429}), wantKind: KindProviderAPI, wantCode: "429", retryable: true},
		{name: "timeout sentinel", err: ErrTimeout, wantKind: KindTimeout, wantCode: "TIMEOUT", retryable: true},
		{name: "deadline exceeded", err: context.DeadlineExceeded, wantKind: KindTimeout, wantCode: "TIMEOUT", retryable: true},
		{name: "unsupported provider", err: &UnsupportedProviderError{Provider: "cohere"}, wantKind: KindConfiguration, wantCode: "UNSUPPORTED_PROVIDER"},
		{name: "app not found", err: types.NewError(types.ErrAppNotFound, "app x not found"), wantKind: KindConfiguration, wantCode: "APP_NOT_FOUND"},
		{name: "api key missing", err: types.NewError(types.ErrAPIKeyMissing, "no key"), wantKind: KindConfiguration, wantCode: "API_KEY_MISSING"},
		{name: "model busy", err: types.NewError(types.ErrModelBusy, "busy"), wantKind: KindProviderAPI, wantCode: "429", retryable: true},
		{name: "normalization", err: NewNormalizationError(ProviderOpenAI, "{bad", errors.New("syntax")), wantKind: KindNormalization, wantCode: "STREAM_PARSE_ERROR"},
		{name: "unexpected eof", err: ErrUnexpectedEOF, wantKind: KindNormalization, wantCode: "STREAM_PARSE_ERROR", retryable: true},
		{name: "connection refused", err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, wantKind: KindTransport, wantCode: "ECONNREFUSED", retryable: true},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "api.invalid", IsNotFound: true}, wantKind: KindTransport, wantCode: "ENOTFOUND", retryable: true},
		{name: "connection reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), wantKind: KindTransport, wantCode: "ECONNRESET", retryable: true},
		{name: "unknown", err: errors.New("boom"), wantKind: KindProviderAPI, wantCode: "UNKNOWN"},
		{name: "nil", err: nil, wantKind: KindProviderAPI, wantCode: "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.err)
			assert.Equal(t, tt.wantKind, c.Kind)
			assert.Equal(t, tt.wantCode, c.Code)
			assert.Equal(t, tt.retryable, c.Retryable)
			assert.NotEmpty(t, c.Message)
			assert.NotEmpty(t, c.Recommendation)
		})
	}
}

func TestClassify_RateLimitRecommendation(t *testing.T) {
	c := ClassifyStatus(http.StatusTooManyRequests, "", ProviderOpenAI)
	assert.Equal(t, "429", c.Code)
	assert.Contains(t, c.Recommendation, "retrying")
	assert.Equal(t, "openai", c.Provider)
}

func TestClassify_QuotaMessage(t *testing.T) {
	c := ClassifyStatus(http.StatusBadRequest, "You exceeded your current quota", ProviderOpenAI)
	assert.Equal(t, "400", c.Code)
	assert.Contains(t, c.Recommendation, "quota")
}

func TestClassification_ToError(t *testing.T) {
	e := Classify(&APIError{Provider: ProviderOpenAI, StatusCode: 429}).ToError(nil)
	assert.Equal(t, types.ErrRateLimit, e.Code)
	assert.Equal(t, http.StatusTooManyRequests, e.HTTPStatus)

	e = Classify(types.NewError(types.ErrAppNotFound, "missing")).ToError(nil)
	assert.Equal(t, types.ErrAppNotFound, e.Code)
	assert.Equal(t, http.StatusNotFound, e.HTTPStatus)

	e = Classify(ErrTimeout).ToError(ErrTimeout)
	assert.Equal(t, types.ErrTimeout, e.Code)
	assert.Equal(t, http.StatusGatewayTimeout, e.HTTPStatus)
	assert.ErrorIs(t, e, ErrTimeout)
}

// 任意状态码都不应导致 panic，且总能得到建议。
func TestClassify_NeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		status := rapid.IntRange(0, 999).Draw(t, "status")
		msg := rapid.String().Draw(t, "msg")
		c := Classify(&APIError{StatusCode: status, Message: msg})
		if c.Recommendation == "" {
			t.Fatalf("missing recommendation for status %d", status)
		}
		if status >= 400 && c.Code != fmt.Sprint(status) {
			t.Fatalf("code %q does not match status %d", c.Code, status)
		}
	})
}
