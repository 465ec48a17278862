package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestCodeReturnsInternalErrorForNonAppError(t *testing.T) {
	if got := Code(errors.New("plain error")); got != CodeInternalError {
		t.Fatalf("expected CodeInternalError for a plain error, got %q", got)
	}
}

func TestCodeReturnsTheAppErrorCode(t *testing.T) {
	if got := Code(SessionNotFound("s1")); got != CodeSessionNotFound {
		t.Fatalf("expected %q, got %q", CodeSessionNotFound, got)
	}
}

func TestWrapPreservesTheUnderlyingCode(t *testing.T) {
	base := InvalidPath("bad path")
	wrapped := Wrap(base, "setWorkingDirectory failed")
	if wrapped.Code != CodeInvalidPath {
		t.Fatalf("expected the wrapped error to keep %q, got %q", CodeInvalidPath, wrapped.Code)
	}
	if !errors.Is(wrapped, wrapped) {
		t.Fatal("expected wrapped to be comparable to itself via errors.Is")
	}
}

func TestWrapOfPlainErrorBecomesInternalError(t *testing.T) {
	wrapped := Wrap(errors.New("boom"), "context")
	if wrapped.Code != CodeInternalError {
		t.Fatalf("expected a plain error wrapped to become INTERNAL_ERROR, got %q", wrapped.Code)
	}
}

func TestWrapOfNilReturnsNil(t *testing.T) {
	if Wrap(nil, "whatever") != nil {
		t.Fatal("expected Wrap(nil, ...) to return nil")
	}
}

func TestGetHTTPStatusMapsKnownCodes(t *testing.T) {
	if got := GetHTTPStatus(ForbiddenPath("nope")); got != http.StatusForbidden {
		t.Fatalf("expected 403 for FORBIDDEN_PATH, got %d", got)
	}
	if got := GetHTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for a non-AppError, got %d", got)
	}
}

func TestAgentExitNonzeroCarriesDetails(t *testing.T) {
	err := AgentExitNonzero(2, "stack overflow")
	details, ok := err.Details.(map[string]any)
	if !ok {
		t.Fatalf("expected Details to be a map, got %T", err.Details)
	}
	if details["exitCode"] != 2 || details["stderr"] != "stack overflow" {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestErrorStringIncludesWrappedErr(t *testing.T) {
	inner := errors.New("underlying")
	err := InternalError("outer context", inner)
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected a non-empty error string")
	}
}
