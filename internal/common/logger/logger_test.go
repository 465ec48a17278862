package logger

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNewLoggerWritesJSONToAFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	l, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", OutputPath: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Info("hello")
	if err := l.Sync(); err != nil {
		t.Logf("sync: %v", err)
	}
}

func TestNewLoggerFallsBackToInfoOnBadLevel(t *testing.T) {
	l, err := NewLogger(LoggingConfig{Level: "not-a-level", Format: "text", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l == nil {
		t.Fatal("expected a usable logger even with an invalid level")
	}
}

func TestWithFieldsDoesNotMutateTheParentLogger(t *testing.T) {
	base, err := NewLogger(LoggingConfig{Level: "info", Format: "text", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child := base.WithSessionID("s1")
	if len(base.fields) != 0 {
		t.Fatalf("expected the parent logger's fields to stay empty, got %d", len(base.fields))
	}
	if len(child.fields) != 1 {
		t.Fatalf("expected the child logger to carry 1 field, got %d", len(child.fields))
	}
}

func TestWithContextAddsNoFieldsWhenContextIsEmpty(t *testing.T) {
	base, err := NewLogger(LoggingConfig{Level: "info", Format: "text", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := base.WithContext(context.Background())
	if got != base {
		t.Fatal("expected WithContext to return the same logger when no correlation/request ID is set")
	}
}

func TestWithContextAddsCorrelationID(t *testing.T) {
	base, err := NewLogger(LoggingConfig{Level: "info", Format: "text", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.WithValue(context.Background(), CorrelationIDKey, "corr-1")
	got := base.WithContext(ctx)
	if len(got.fields) != 1 {
		t.Fatalf("expected 1 field added for the correlation ID, got %d", len(got.fields))
	}
}

func TestDefaultReturnsTheSameInstanceEveryCall(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Fatal("expected Default() to return a singleton")
	}
}
