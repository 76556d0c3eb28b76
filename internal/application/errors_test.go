package application

import "testing"

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	if err.Error() != "" {
		t.Fatalf("expected empty string for nil error, got %q", err.Error())
	}

	withFields := &ValidationError{FieldErrors: map[string]string{"field": "invalid"}}
	if got := withFields.Error(); got != "validation failed" {
		t.Fatalf("expected generic message, got %q", got)
	}
}

func TestValidationError_AddAndMerge(t *testing.T) {
	t.Parallel()

	base := &ValidationError{}
	if base.HasErrors() {
		t.Fatal("expected empty error to report no fields")
	}
	base.add("email", "email is required")
	base.add("email", "email is invalid")
	if got := base.FieldErrors["email"]; got != "email is required" {
		t.Fatalf("expected first message to win, got %q", got)
	}

	base.merge(&ValidationError{FieldErrors: map[string]string{"password": "too short"}})
	base.merge(nil)
	if len(base.FieldErrors) != 2 || !base.HasErrors() {
		t.Fatalf("expected 2 fields after merge, got %v", base.FieldErrors)
	}
}
