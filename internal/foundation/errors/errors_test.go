package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestBuilderDefaults(t *testing.T) {
	err := NewError(CategoryPublish, "upload rejected").Build()
	if err.Category() != CategoryPublish {
		t.Fatalf("expected publish category got %s", err.Category())
	}
	if err.Severity() != SeverityError {
		t.Fatalf("expected error severity got %s", err.Severity())
	}
	if err.IsTransient() {
		t.Fatalf("default retry strategy should not be transient")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := WrapError(cause, CategoryNetwork, "host unreachable").Retryable().Build()
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
	if !err.IsTransient() {
		t.Fatalf("backoff strategy should be transient")
	}
}

func TestAsClassifiedThroughWrapping(t *testing.T) {
	inner := NewError(CategoryAuth, "bad credentials").Fatal().Build()
	wrapped := fmt.Errorf("publishing installer: %w", inner)

	classified, ok := AsClassified(wrapped)
	if !ok {
		t.Fatalf("expected classified error through fmt wrapping")
	}
	if !classified.IsFatal() {
		t.Fatalf("expected fatal severity")
	}
	if !HasCategory(wrapped, CategoryAuth) {
		t.Fatalf("expected auth category through chain")
	}
}

func TestIsTransientOnPlainError(t *testing.T) {
	if IsTransient(stderrors.New("boom")) {
		t.Fatalf("unclassified errors must be treated as permanent")
	}
}

func TestGetCategoryFallback(t *testing.T) {
	if got := GetCategory(stderrors.New("boom")); got != CategoryInternal {
		t.Fatalf("expected internal fallback got %s", got)
	}
	if got := GetSeverity(stderrors.New("boom")); got != SeverityError {
		t.Fatalf("expected error severity fallback got %s", got)
	}
}

func TestWithContext(t *testing.T) {
	err := NewError(CategoryBuild, "bundler exited").
		WithContext("target", "windows-x64").
		Build()
	v, ok := err.Context().GetString("target")
	if !ok || v != "windows-x64" {
		t.Fatalf("expected target context got %q (%v)", v, ok)
	}
}
