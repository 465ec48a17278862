package history

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open history store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndListRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "s1", "assistantMessage", map[string]any{"text": "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "s1", "toolUse", map[string]any{"name": "bash"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := s.List(ctx, "s1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != "assistantMessage" || entries[1].Kind != "toolUse" {
		t.Fatalf("expected insertion order preserved, got %+v", entries)
	}
}

func TestListScopesBySessionID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.Append(ctx, "s1", "assistantMessage", "a")
	s.Append(ctx, "s2", "assistantMessage", "b")

	entries, err := s.List(ctx, "s1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only s1's entry, got %d", len(entries))
	}
}

func TestListRespectsLimitAndOffset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Append(ctx, "s1", "assistantMessage", i)
	}

	entries, err := s.List(ctx, "s1", 2, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries with limit=2, got %d", len(entries))
	}
}

func TestClearRemovesAllMessagesForSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.Append(ctx, "s1", "assistantMessage", "a")
	if err := s.Clear(ctx, "s1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	entries, err := s.List(ctx, "s1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries after Clear, got %d", len(entries))
	}
}
