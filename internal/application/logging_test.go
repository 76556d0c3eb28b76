package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ksti/meeting-room/internal/persistence"
	"github.com/ksti/meeting-room/internal/scheduler"
	"github.com/ksti/meeting-room/internal/session"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}

	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err      error
		expected string
	}{
		{nil, ""},
		{ErrUnauthorized, "unauthorized"},
		{fmt.Errorf("wrap: %w", ErrInvalidCredentials), "invalid_credentials"},
		{&ValidationError{FieldErrors: map[string]string{"a": "b"}}, "validation"},
		{scheduler.ErrRoomUnavailable.WithRefs(scheduler.RefConflictingIDs, "m-1"), "conflict"},
		{scheduler.ErrNotOrganizer, "forbidden"},
		{session.ErrTokenExpired, "expired"},
		{session.ErrTokenRevoked, "revoked"},
		{persistence.ErrDuplicate, "already_exists"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "unexpected"},
	}
	for _, tc := range cases {
		if got := ErrorKind(tc.err); got != tc.expected {
			t.Fatalf("ErrorKind(%v): expected %q, got %q", tc.err, tc.expected, got)
		}
	}
}
