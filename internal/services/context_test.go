package services_test

import (
	"context"
	"testing"

	"reel/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithItemID(ctx, "v42")
	ctx = services.WithSessionID(ctx, "sess-1")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.ItemIDFromContext(ctx); !ok || id != "v42" {
		t.Fatalf("unexpected item id: %v %v", id, ok)
	}
	if sid, ok := services.SessionIDFromContext(ctx); !ok || sid != "sess-1" {
		t.Fatalf("unexpected session id: %v %v", sid, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithItemID(ctx, "")
	ctx = services.WithSessionID(ctx, "")
	if _, ok := services.ItemIDFromContext(ctx); ok {
		t.Fatal("expected no item id value")
	}
	if _, ok := services.SessionIDFromContext(ctx); ok {
		t.Fatal("expected no session id value")
	}
}
