package trace

import (
	"context"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := WithContext(context.Background(), "abc")
	if got := FromContext(ctx); got != "abc" {
		t.Fatalf("FromContext = %q, want abc", got)
	}
	if got := FromContext(context.Background()); got != "" {
		t.Fatalf("empty context should have no trace id, got %q", got)
	}
}

func TestEnsureKeepsExistingID(t *testing.T) {
	ctx := WithContext(context.Background(), "existing")
	_, id := Ensure(ctx)
	if id != "existing" {
		t.Fatalf("Ensure replaced trace id: %q", id)
	}

	_, generated := Ensure(context.Background())
	if len(generated) != 32 {
		t.Fatalf("generated id should be 32 hex chars, got %q", generated)
	}
}
