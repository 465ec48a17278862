package session

import (
	"testing"
	"time"

	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/internal/events"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour // keep the sweep loop from firing during the test
	}
	m := New(cfg, nil, nil, nil, logger.Default())
	t.Cleanup(m.Stop)
	return m
}

func TestCreateSessionReusesByWorkingDirectory(t *testing.T) {
	m := newTestManager(t, Config{})

	id1, reused1 := m.CreateSession("", "/workdir/a")
	if reused1 {
		t.Fatal("did not expect the first session for a directory to be reused")
	}
	id2, reused2 := m.CreateSession("", "/workdir/a")
	if !reused2 || id2 != id1 {
		t.Fatalf("expected reuse of session %q for the same directory, got %q (reused=%v)", id1, id2, reused2)
	}
}

func TestCreateSessionWorkspaceMarkerNeverReuses(t *testing.T) {
	m := newTestManager(t, Config{})

	id1, _ := m.CreateSession("", WorkspaceMarker)
	id2, reused := m.CreateSession("", WorkspaceMarker)
	if reused || id1 == id2 {
		t.Fatalf("expected distinct sessions for the workspace marker, got %q and %q (reused=%v)", id1, id2, reused)
	}
}

func TestAtCapacity(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrent: 1})
	if m.AtCapacity() {
		t.Fatal("did not expect capacity reached before any session exists")
	}
	m.CreateSession("", "/workdir/a")
	if !m.AtCapacity() {
		t.Fatal("expected capacity reached after MaxConcurrent sessions")
	}
}

func TestTrackForRoutingLastWriterWins(t *testing.T) {
	m := newTestManager(t, Config{})
	id, _ := m.CreateSession("", "/workdir/a")

	m.TrackForRouting("ext-1", "/workdir/a", id)
	got, ok := m.LookupByExternalID("ext-1")
	if !ok || got != id {
		t.Fatalf("expected ext-1 to route to %q, got %q (ok=%v)", id, got, ok)
	}

	other, _ := m.CreateSession("", WorkspaceMarker)
	m.TrackForRouting("ext-1", "", other)
	got, ok = m.LookupByExternalID("ext-1")
	if !ok || got != other {
		t.Fatalf("expected remap to last writer %q, got %q", other, got)
	}
}

func TestCloseSessionRemovesFromAllMaps(t *testing.T) {
	var emitted []events.Event
	m := New(Config{CleanupInterval: time.Hour}, nil, nil, func(ev events.Event) { emitted = append(emitted, ev) }, logger.Default())
	defer m.Stop()

	id, _ := m.CreateSession("", "/workdir/a")
	m.TrackForRouting("ext-1", "/workdir/a", id)

	m.CloseSession(id, "clearChat")

	if _, ok := m.GetSession(id); ok {
		t.Fatal("expected session removed")
	}
	if _, ok := m.LookupByWorkingDirectory("/workdir/a"); ok {
		t.Fatal("expected directory routing entry removed")
	}
	if _, ok := m.LookupByExternalID("ext-1"); ok {
		t.Fatal("expected external id routing entry removed")
	}
	if len(emitted) != 1 || emitted[0].Type != events.OutSessionCleaned {
		t.Fatalf("expected one sessionCleaned event, got %+v", emitted)
	}
}

func TestSnapshotReturnsCopies(t *testing.T) {
	m := newTestManager(t, Config{})
	id, _ := m.CreateSession("", "/workdir/a")

	snap := m.Snapshot()
	if len(snap) != 1 || snap[0].ID != id {
		t.Fatalf("expected snapshot containing %q, got %+v", id, snap)
	}

	snap[0].WorkingDirectory = "mutated"
	s, _ := m.GetSession(id)
	if s.WorkingDirectory == "mutated" {
		t.Fatal("expected Snapshot to return independent copies, not live pointers")
	}
}

type fakeTerminator struct{ cancelled []string }

func (f *fakeTerminator) Cancel(sessionID string) bool {
	f.cancelled = append(f.cancelled, sessionID)
	return true
}

func TestKillSessionCancelsThenCloses(t *testing.T) {
	m := newTestManager(t, Config{})
	id, _ := m.CreateSession("", "/workdir/a")

	term := &fakeTerminator{}
	m.KillSession(id, "clearChat", term)

	if len(term.cancelled) != 1 || term.cancelled[0] != id {
		t.Fatalf("expected Cancel called for %q, got %v", id, term.cancelled)
	}
	if _, ok := m.GetSession(id); ok {
		t.Fatal("expected session closed after kill")
	}
}
