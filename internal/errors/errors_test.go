package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCodeThroughFmtWrapping(t *testing.T) {
	cause := stdErrors.New("upstream 503")
	wrapped := fmt.Errorf("router: %w", Wrap(CodeCapabilityFailure, cause, "summarize failed"))

	if CodeOf(wrapped) != CodeCapabilityFailure {
		t.Fatalf("unexpected code: %s", CodeOf(wrapped))
	}
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("expected cause to remain reachable")
	}
	if !stdErrors.Is(wrapped, New(CodeCapabilityFailure, "")) {
		t.Fatalf("expected errors.Is to match by code")
	}
	if !RetryableError(wrapped) || !ShouldAlert(wrapped) {
		t.Fatalf("expected capability failures to be retryable and alerting")
	}
}

func TestDataIsCopied(t *testing.T) {
	err := New(CodeTimeout, "", WithData("taskId", "t-1"))
	if err.Message() != "operation timed out" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	data := err.Data()
	data["taskId"] = "mutated"
	if err.Data()["taskId"] != "t-1" {
		t.Fatalf("data must not be shared with callers")
	}
}

func TestUnknownCodeFallsBack(t *testing.T) {
	attr := AttributesOf(Code("NOPE"))
	if attr.Severity != SeverityCritical || attr.Message != "unknown error" {
		t.Fatalf("unexpected fallback attributes: %+v", attr)
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors must map to UNKNOWN")
	}
}
