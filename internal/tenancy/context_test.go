package tenancy

import (
	"context"
	"testing"
)

func TestPracticeIDRoundTrip(t *testing.T) {
	ctx := WithPracticeID(context.Background(), "prac-123")

	id, ok := PracticeIDFromContext(ctx)
	if !ok || id != "prac-123" {
		t.Fatalf("got %q ok=%v, want prac-123", id, ok)
	}
}

func TestPracticeIDAbsent(t *testing.T) {
	cases := []struct {
		name string
		ctx  context.Context
	}{
		{"bare context", context.Background()},
		{"empty id stored", WithPracticeID(context.Background(), "")},
		{"wrong value type", context.WithValue(context.Background(), practiceKey{}, 42)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if id, ok := PracticeIDFromContext(tc.ctx); ok {
				t.Fatalf("unexpectedly found practice id %q", id)
			}
		})
	}
}
