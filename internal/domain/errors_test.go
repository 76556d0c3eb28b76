package domain

import (
	"errors"
	"fmt"
	"testing"
)

var errSample = New(KindConflict, "sample_conflict", "sample conflict")

func TestErrorMatching(t *testing.T) {
	t.Parallel()

	t.Run("enriched copies still match the sentinel", func(t *testing.T) {
		t.Parallel()

		err := errSample.WithRefs("meeting_ids", "m-1", "m-2")
		if !errors.Is(err, errSample) {
			t.Fatalf("expected errors.Is to match sentinel")
		}
		if len(errSample.Refs) != 0 {
			t.Fatalf("expected sentinel to stay untouched, got %v", errSample.Refs)
		}
		if got := err.Ref("meeting_ids"); got != "m-1" {
			t.Fatalf("expected first ref m-1, got %q", got)
		}
	})

	t.Run("wrapped errors expose kind", func(t *testing.T) {
		t.Parallel()

		wrapped := fmt.Errorf("create meeting: %w", errSample)
		if KindOf(wrapped) != KindConflict {
			t.Fatalf("expected conflict kind, got %q", KindOf(wrapped))
		}
		if KindOf(errors.New("plain")) != "" {
			t.Fatalf("expected empty kind for foreign errors")
		}
	})

	t.Run("different codes do not match", func(t *testing.T) {
		t.Parallel()

		other := New(KindConflict, "other", "other")
		if errors.Is(other, errSample) {
			t.Fatalf("expected different codes not to match")
		}
	})

	t.Run("wrap keeps the cause reachable", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("disk full")
		err := errSample.Wrap(cause)
		if !errors.Is(err, cause) {
			t.Fatalf("expected cause to be reachable")
		}
	})
}

func TestValidation(t *testing.T) {
	t.Parallel()

	base := New(KindValidation, "invalid", "invalid input")
	v := NewValidation(base)
	if v.Err() != nil {
		t.Fatalf("expected nil error without reasons")
	}

	v.Add("title", "title is required")
	v.Add("title", "ignored")
	v.Add("capacity", "capacity must be positive")

	err := v.Err()
	de, ok := As(err)
	if !ok {
		t.Fatalf("expected domain error, got %T", err)
	}
	if de.Fields["title"] != "title is required" {
		t.Fatalf("expected first reason to win, got %q", de.Fields["title"])
	}
	if de.Error() != "invalid input (capacity: capacity must be positive; title: title is required)" {
		t.Fatalf("unexpected message %q", de.Error())
	}
}
