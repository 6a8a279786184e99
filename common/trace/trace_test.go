package trace

import (
	"context"
	"strings"
	"testing"
)

func TestGenerateID_Format(t *testing.T) {
	id := GenerateID()
	if !strings.HasPrefix(id, "t_") {
		t.Fatalf("GenerateID() = %q, want t_ prefix", id)
	}
	if len(id) != 34 {
		t.Errorf("len(GenerateID()) = %d, want 34", len(id))
	}
	if GenerateID() == id {
		t.Error("two consecutive IDs should differ")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := FromContext(ctx); got != "" {
		t.Errorf("FromContext(empty) = %q, want empty", got)
	}
	ctx = WithTraceID(ctx, "t_abc")
	if got := FromContext(ctx); got != "t_abc" {
		t.Errorf("FromContext = %q, want t_abc", got)
	}
}

func TestLogger_NilBase(t *testing.T) {
	if Logger(context.Background(), nil) == nil {
		t.Fatal("Logger should never return nil")
	}
}
