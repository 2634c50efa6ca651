package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	if _, ok := SessionID(ctx); ok {
		t.Fatalf("empty context must not report a session")
	}

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithUserID(ctx, "user")
	if got, ok := UserID(ctx); !ok || got != "user" {
		t.Fatalf("UserID mismatch: %v %v", got, ok)
	}

	ctx = WithSessionID(ctx, "sess")
	if got, ok := SessionID(ctx); !ok || got != "sess" {
		t.Fatalf("SessionID mismatch: %v %v", got, ok)
	}

	ctx = WithAgentName(ctx, "Evaluator")
	if got, ok := AgentName(ctx); !ok || got != "Evaluator" {
		t.Fatalf("AgentName mismatch: %v %v", got, ok)
	}

	if _, ok := SessionID(WithSessionID(context.Background(), "")); ok {
		t.Fatalf("empty session id must be treated as absent")
	}
}
