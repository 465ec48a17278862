// Package session implements the Session Manager: session lifecycle
// (create/reuse/expire), the working-directory and
// external-agent-session-id routing maps, activity tracking, and timeout
// warnings. The Session Manager exclusively owns Session lifetimes.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/internal/events"
)

// WorkspaceMarker is the working-directory sentinel that disables
// reuse-by-directory.
const WorkspaceMarker = "__workspace__"

// Processing reports whether a session currently owns a live Process
// Invocation, exempting it from the timeout sweep; satisfied by
// *supervisor.Supervisor.
type Processing interface {
	IsActive(sessionID string) bool
}

// Pending reports how many undelivered events remain queued for a session,
// exempting it from the timeout sweep; satisfied by *delivery.Queue.
type Pending interface {
	Pending(sessionID string) int
}

// Session is one conversation session.
type Session struct {
	ID                     string
	WorkingDirectory       string
	CreatedAt              time.Time
	LastActivity           time.Time
	ConversationStarted    bool
	PermissionProfileName  string
	ExternalAgentSessionID string
	Workspace              bool

	warned bool
}

// Manager owns every Session's lifetime plus the Routing Map.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byDir    map[string]string // workingDirectory -> sessionID
	byExtID  map[string]string // externalAgentSessionID -> sessionID

	maxConcurrent int
	timeout       time.Duration
	warningAt     time.Duration

	processing Processing
	pending    Pending
	emit       func(events.Event)
	logger     *logger.Logger

	stop chan struct{}
}

// Config bundles Session Manager tuning.
type Config struct {
	MaxConcurrent   int
	Timeout         time.Duration
	WarningAt       time.Duration
	CleanupInterval time.Duration
}

// New creates a Manager. processing and pending gate the timeout sweep:
// a session is never swept while it is processing or has queued but
// undelivered messages. emit publishes sessionWarning / sessionExpired /
// sessionCleaned events; it is never nil in production — pass a no-op for
// tests that don't care.
func New(cfg Config, processing Processing, pending Pending, emit func(events.Event), log *logger.Logger) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 24 * time.Hour
	}
	if cfg.WarningAt <= 0 {
		cfg.WarningAt = 20 * time.Hour
	}
	if emit == nil {
		emit = func(events.Event) {}
	}
	m := &Manager{
		sessions:      make(map[string]*Session),
		byDir:         make(map[string]string),
		byExtID:       make(map[string]string),
		maxConcurrent: cfg.MaxConcurrent,
		timeout:       cfg.Timeout,
		warningAt:     cfg.WarningAt,
		processing:    processing,
		pending:       pending,
		emit:          emit,
		logger:        log.WithFields(zap.String("component", "session")),
		stop:          make(chan struct{}),
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	go m.sweepLoop(interval)
	return m
}

// Stop halts the background timeout sweep.
func (m *Manager) Stop() { close(m.stop) }

func (m *Manager) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now()

	m.mu.Lock()
	var toWarn, toExpire []*Session
	for _, s := range m.sessions {
		if m.processing != nil && m.processing.IsActive(s.ID) {
			continue
		}
		if m.pending != nil && m.pending.Pending(s.ID) > 0 {
			continue
		}
		idle := now.Sub(s.LastActivity)
		if idle >= m.timeout {
			toExpire = append(toExpire, s)
			continue
		}
		if idle >= m.warningAt && !s.warned {
			s.warned = true
			toWarn = append(toWarn, s)
		}
	}
	m.mu.Unlock()

	for _, s := range toWarn {
		m.emit(events.New(s.ID, events.OutSessionWarning, map[string]any{
			"timeRemaining": (m.timeout - now.Sub(s.LastActivity)).String(),
		}))
	}
	for _, s := range toExpire {
		m.closeInternal(s.ID, "timeout")
		m.emit(events.New(s.ID, events.OutSessionExpired, map[string]any{"reason": "timeout"}))
	}
}

// CreateSession reuses an active session for the same working directory
// unless workingDirectory is the workspace marker, else creates one.
func (m *Manager) CreateSession(sessionID, workingDirectory string) (id string, reused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	isWorkspace := workingDirectory == WorkspaceMarker
	if !isWorkspace {
		if existingID, ok := m.byDir[workingDirectory]; ok {
			if s, ok := m.sessions[existingID]; ok {
				s.ConversationStarted = true
				s.LastActivity = time.Now()
				return existingID, true
			}
		}
	}

	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	if s, ok := m.sessions[sessionID]; ok {
		s.ConversationStarted = true
		s.LastActivity = time.Now()
		return sessionID, true
	}

	now := time.Now()
	s := &Session{
		ID:                  sessionID,
		WorkingDirectory:    workingDirectory,
		CreatedAt:           now,
		LastActivity:        now,
		ConversationStarted: true,
		Workspace:           isWorkspace,
	}
	m.sessions[sessionID] = s
	if !isWorkspace {
		m.byDir[workingDirectory] = sessionID
	}
	return sessionID, false
}

// GetSession returns the session, if known.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// HasActiveSession reports whether id names a known session.
func (m *Manager) HasActiveSession(id string) bool {
	_, ok := m.GetSession(id)
	return ok
}

// UpdateActivity sets last-activity to now and clears the warned flag if
// activity moved the session back under the warning threshold's reach.
func (m *Manager) UpdateActivity(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		now := time.Now()
		if now.After(s.LastActivity) {
			s.LastActivity = now
		}
		s.warned = false
	}
}

// MarkConversationStarted flips the conversation-started flag.
func (m *Manager) MarkConversationStarted(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.ConversationStarted = true
	}
}

// CloseSession removes the session from every map and emits
// sessionCleaned.
func (m *Manager) CloseSession(id, reason string) {
	m.closeInternal(id, reason)
	m.emit(events.New(id, events.OutSessionCleaned, map[string]any{"reason": reason}))
}

func (m *Manager) closeInternal(id, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessions, id)
	if m.byDir[s.WorkingDirectory] == id {
		delete(m.byDir, s.WorkingDirectory)
	}
	if s.ExternalAgentSessionID != "" && m.byExtID[s.ExternalAgentSessionID] == id {
		delete(m.byExtID, s.ExternalAgentSessionID)
	}
	m.logger.Debug("session closed", zap.String("session_id", id), zap.String("reason", reason))
}

// Terminator kills a session's live Process Invocation; satisfied by
// *supervisor.Supervisor.
type Terminator interface {
	Cancel(sessionID string) bool
}

// KillSession additionally terminates any live Process Invocation before
// closing.
func (m *Manager) KillSession(id, reason string, terminator Terminator) {
	if terminator != nil {
		terminator.Cancel(id)
	}
	m.CloseSession(id, reason)
}

// TrackForRouting establishes the externalAgentSessionID <-> internal
// sessionID mapping. Last writer wins, with a warning on conflict.
func (m *Manager) TrackForRouting(externalAgentSessionID, workingDirectory, internalSessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byExtID[externalAgentSessionID]; ok && existing != internalSessionID {
		m.logger.Warn("external agent session id remapped (last writer wins)",
			zap.String("external_id", externalAgentSessionID),
			zap.String("previous_internal_id", existing),
			zap.String("new_internal_id", internalSessionID))
	}
	m.byExtID[externalAgentSessionID] = internalSessionID

	if s, ok := m.sessions[internalSessionID]; ok {
		s.ExternalAgentSessionID = externalAgentSessionID
	}
	if workingDirectory != "" && workingDirectory != WorkspaceMarker {
		m.byDir[workingDirectory] = internalSessionID
	}
}

// LookupByExternalID resolves an external-agent-session-id to the internal
// session id.
func (m *Manager) LookupByExternalID(externalID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byExtID[externalID]
	return id, ok
}

// LookupByWorkingDirectory resolves a working directory to its session id.
func (m *Manager) LookupByWorkingDirectory(dir string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byDir[dir]
	return id, ok
}

// Count returns the number of live sessions, for enforcing MaxConcurrent.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// AtCapacity reports whether the Session Manager is at MaxConcurrent.
func (m *Manager) AtCapacity() bool {
	return m.Count() >= m.maxConcurrent
}

// Snapshot returns a copy of every live session, for the diagnostic HTTP
// surface's read-only /v1/sessions listing (never used to drive a
// conversation — that is the WebSocket protocol).
func (m *Manager) Snapshot() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// ErrAtCapacity is returned (wrapped with errors.SessionError by the
// caller) when CreateSession would exceed MaxConcurrent.
var ErrAtCapacity = fmt.Errorf("session manager at max concurrent sessions")
