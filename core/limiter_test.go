package core

import (
	"errors"
	"testing"
)

func TestModelLimiter(t *testing.T) {
	ml := NewModelLimiter(2)
	if err := ml.Increment(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ml.Remaining(); got != 1 {
		t.Fatalf("expected 1 remaining, got %d", got)
	}
	if err := ml.Increment(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ml.Increment(); !errors.Is(err, ErrCallBudgetExceeded) {
		t.Fatalf("expected budget error, got %v", err)
	}
	if ml.Count() != 3 || ml.Remaining() != 0 {
		t.Fatalf("unexpected state count=%d remaining=%d", ml.Count(), ml.Remaining())
	}

	unlimited := NewModelLimiter(0)
	for i := 0; i < 10; i++ {
		if err := unlimited.Increment(); err != nil {
			t.Fatalf("unlimited limiter failed: %v", err)
		}
	}
	if unlimited.Remaining() != -1 {
		t.Fatalf("expected -1 for unlimited")
	}
}
