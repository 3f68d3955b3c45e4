package services_test

import (
	"context"
	"testing"

	"riskaudit/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithCountyID(ctx, 7)
	ctx = services.WithContest(ctx, "Governor")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.CountyIDFromContext(ctx); !ok || id != 7 {
		t.Fatalf("unexpected county id: %v %v", id, ok)
	}
	if contest, ok := services.ContestFromContext(ctx); !ok || contest != "Governor" {
		t.Fatalf("unexpected contest: %v %v", contest, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithContest(ctx, "")
	ctx = services.WithRequestID(ctx, "")
	if _, ok := services.ContestFromContext(ctx); ok {
		t.Fatal("expected blank contest to be ignored")
	}
	if _, ok := services.RequestIDFromContext(ctx); ok {
		t.Fatal("expected blank request id to be ignored")
	}
	if _, ok := services.CountyIDFromContext(ctx); ok {
		t.Fatal("expected no county id")
	}
}
