package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("openai")

	if GetErrorCode(err) != ErrUpstreamError {
		t.Fatalf("expected code %s, got %s", ErrUpstreamError, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrAppNotFound, "app missing")
	wrapped := fmt.Errorf("dispatch: %w", inner)

	if GetErrorCode(wrapped) != ErrAppNotFound {
		t.Fatalf("expected wrapped code lookup, got %q", GetErrorCode(wrapped))
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("expected empty code for plain error")
	}
}

func TestIsConfigurationCode(t *testing.T) {
	t.Parallel()

	for _, code := range []ErrorCode{ErrModelNotFound, ErrAppNotFound, ErrAPIKeyMissing, ErrModelNotPermitted, ErrUnsupportedProvider} {
		if !IsConfigurationCode(code) {
			t.Fatalf("expected %s to be a configuration code", code)
		}
	}
	if IsConfigurationCode(ErrRateLimit) {
		t.Fatalf("rate limit is not a configuration code")
	}
}
