package trace_test

import (
	"context"
	"strings"
	"testing"

	"github.com/bdobrica/Kioku/common/trace"
)

func TestGenerateID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for j := 0; j < 100; j++ {
		id := trace.GenerateID()
		if !strings.HasPrefix(id, "t_") {
			t.Fatalf("unexpected prefix: %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate trace ID %q", id)
		}
		seen[id] = true
	}
}

func TestEnsure(t *testing.T) {
	ctx, id := trace.Ensure(context.Background())
	if id == "" || trace.FromContext(ctx) != id {
		t.Fatalf("expected generated ID in context, got %q", trace.FromContext(ctx))
	}

	ctx2, id2 := trace.Ensure(ctx)
	if id2 != id || ctx2 != ctx {
		t.Errorf("Ensure must keep an existing trace ID: got %q want %q", id2, id)
	}
}
