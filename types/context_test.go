package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithTenantID(ctx, "tenant")
	if got, ok := TenantID(ctx); !ok || got != "tenant" {
		t.Fatalf("TenantID mismatch: %v %v", got, ok)
	}

	ctx = WithUserID(ctx, "user")
	if got, ok := UserID(ctx); !ok || got != "user" {
		t.Fatalf("UserID mismatch: %v %v", got, ok)
	}

	ctx = WithRoles(ctx, []string{"admin", "beta"})
	if got, ok := Roles(ctx); !ok || len(got) != 2 || got[0] != "admin" {
		t.Fatalf("Roles mismatch: %v %v", got, ok)
	}

	ctx = WithRequestID(ctx, "req-1")
	if got, ok := RequestID(ctx); !ok || got != "req-1" {
		t.Fatalf("RequestID mismatch: %v %v", got, ok)
	}

	ctx = WithChatID(ctx, "chat-1")
	if got, ok := ChatID(ctx); !ok || got != "chat-1" {
		t.Fatalf("ChatID mismatch: %v %v", got, ok)
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithRoles(context.Background(), nil)
	if _, ok := Roles(ctx); ok {
		t.Fatalf("expected empty roles to report false")
	}
	if _, ok := UserID(WithUserID(context.Background(), "")); ok {
		t.Fatalf("expected empty user id to report false")
	}
}
