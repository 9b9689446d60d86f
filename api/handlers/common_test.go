package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		data       any
		wantStatus int
	}{
		{name: "simple object", data: map[string]string{"message": "hello"}, wantStatus: http.StatusOK},
		{name: "array", data: []int{1, 2, 3}, wantStatus: http.StatusOK},
		{name: "conflict", data: map[string]bool{"ok": false}, wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.wantStatus, tt.data)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            *types.Error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "invalid request",
			err:            types.NewError(types.ErrInvalidRequest, "messages is required"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   string(types.ErrInvalidRequest),
		},
		{
			name:           "app not found",
			err:            types.NewError(types.ErrAppNotFound, "app x not found"),
			expectedStatus: http.StatusNotFound,
			expectedCode:   string(types.ErrAppNotFound),
		},
		{
			name:           "model not permitted",
			err:            types.NewError(types.ErrModelNotPermitted, "nope"),
			expectedStatus: http.StatusForbidden,
			expectedCode:   string(types.ErrModelNotPermitted),
		},
		{
			name:           "session not found",
			err:            types.NewError(types.ErrSessionNotFound, "gone"),
			expectedStatus: http.StatusNotFound,
			expectedCode:   string(types.ErrSessionNotFound),
		},
		{
			name:           "model busy",
			err:            types.NewError(types.ErrModelBusy, "busy"),
			expectedStatus: http.StatusTooManyRequests,
			expectedCode:   string(types.ErrModelBusy),
		},
		{
			name:           "timeout",
			err:            types.NewError(types.ErrTimeout, "slow"),
			expectedStatus: http.StatusGatewayTimeout,
			expectedCode:   string(types.ErrTimeout),
		},
		{
			name:           "explicit status wins",
			err:            types.NewError(types.ErrNoActiveSession, "no session").WithHTTPStatus(http.StatusTeapot),
			expectedStatus: http.StatusTeapot,
			expectedCode:   string(types.ErrNoActiveSession),
		},
		{
			name:           "retryable upstream",
			err:            types.NewError(types.ErrUpstreamError, "boom").WithRetryable(true),
			expectedStatus: http.StatusBadGateway,
			expectedCode:   string(types.ErrUpstreamError),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.expectedCode, resp.Error.Code)
			assert.Equal(t, tt.err.Message, resp.Error.Message)
			assert.Equal(t, tt.err.Retryable, resp.Error.Retryable)
		})
	}
}

func TestWriteClassifiedError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantKind   llm.ErrorKind
	}{
		{
			name:       "configuration error",
			err:        types.NewError(types.ErrAPIKeyMissing, "no key"),
			wantStatus: http.StatusBadRequest,
			wantCode:   string(types.ErrAPIKeyMissing),
			wantKind:   llm.KindConfiguration,
		},
		{
			name:       "provider rate limit",
			err:        &llm.APIError{Provider: llm.ProviderAnthropic, StatusCode: http.StatusTooManyRequests, Message: "slow down"},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   string(types.ErrRateLimit),
			wantKind:   llm.KindProviderAPI,
		},
		{
			name:       "provider server error",
			err:        &llm.APIError{Provider: llm.ProviderMistral, StatusCode: http.StatusInternalServerError},
			wantStatus: http.StatusBadGateway,
			wantCode:   string(types.ErrUpstreamError),
			wantKind:   llm.KindProviderAPI,
		},
		{
			name:       "timeout",
			err:        llm.ErrTimeout,
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   string(types.ErrTimeout),
			wantKind:   llm.KindTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteClassifiedError(w, tt.err, zap.NewNop())

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, string(tt.wantKind), resp.Error.Kind)
			assert.NotEmpty(t, resp.Error.Recommendation)
		})
	}
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrUnauthorized, http.StatusUnauthorized},
		{types.ErrModelNotFound, http.StatusNotFound},
		{types.ErrNoActiveSession, http.StatusConflict},
		{types.ErrRateLimit, http.StatusTooManyRequests},
		{types.ErrQuotaExceeded, http.StatusPaymentRequired},
		{types.ErrModelOverloaded, http.StatusServiceUnavailable},
		{types.ErrTransport, http.StatusBadGateway},
		{types.ErrStreamParse, http.StatusBadGateway},
		{types.ErrorCode("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, mapErrorCodeToHTTPStatus(tt.code))
		})
	}
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name       string
		body       string
		wantErr    bool
		wantStatus int
	}{
		{name: "valid", body: `{"name":"x"}`},
		{name: "unknown field", body: `{"name":"x","extra":1}`, wantErr: true, wantStatus: http.StatusBadRequest},
		{name: "malformed", body: `{"name":`, wantErr: true, wantStatus: http.StatusBadRequest},
		{name: "empty", body: ``, wantErr: true, wantStatus: http.StatusBadRequest},
		{name: "too large", body: `{"name":"` + strings.Repeat("a", maxBodyBytes) + `"}`, wantErr: true, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(tt.body))
			if tt.body == "" {
				r.Body = http.NoBody
			}

			var dst payload
			err := DecodeJSONBody(w, r, &dst, zap.NewNop())
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "x", dst.Name)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"text/plain", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.Header.Set("Content-Type", tt.contentType)

			assert.Equal(t, tt.want, ValidateContentType(w, r, zap.NewNop()))
			if !tt.want {
				assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError)
	_, err := rw.Write([]byte("ok"))
	require.NoError(t, err)
	rw.Flush()

	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.True(t, rw.Written)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, rec.Flushed)
	assert.Same(t, rec, rw.Unwrap())

	_, _, err = rw.Hijack()
	assert.Error(t, err)
}
