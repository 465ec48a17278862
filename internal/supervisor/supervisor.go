// Package supervisor owns one Agent CLI process per turn: spawn, stdio,
// the adaptive-timeout heartbeat, termination, and exit reconciliation. It
// never retains a Process Invocation past its turn, and it never shares
// one across sessions.
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/internal/streamjson"
)

// Observer receives lifecycle events for a single invocation. Implementing
// this directly, rather than subscribing to a shared event-emitter base,
// keeps the supervisor free of inheritance.
type Observer interface {
	ProcessStarted(sessionID string, pid int)
	ProcessStdout(sessionID string, chunk []byte)
	ProcessStderr(sessionID string, chunk []byte)
	ProcessExit(sessionID string, code int)
	ProcessError(sessionID string, err error)
	ProcessHealth(sessionID string, metrics HealthMetrics)
}

// HealthMetrics is the payload of a periodic processHealth event.
type HealthMetrics struct {
	PID            int           `json:"pid"`
	UptimeMS       int64         `json:"uptimeMs"`
	BytesRead      int64         `json:"bytesRead"`
	SilenceElapsed time.Duration `json:"-"`
	SilenceElapsedMS int64       `json:"silenceElapsedMs"`
}

// Request describes one turn's invocation.
type Request struct {
	SessionID  string
	Argv       []string
	WorkingDir string
	Prompt     string   // written to stdin then stdin is closed; never placed in argv
	Streaming  bool     // false => fixed 30s one-shot budget
	Env        []string // child process environment; nil inherits the gateway's own (agentcli.Resolver.Environ builds this for the default runner)
}

// Outcome is what the supervisor hands back once a turn's child process has
// exited (or been killed) and its output has been reassembled and parsed.
type Outcome struct {
	ExitCode    int
	Stderr      string
	Parsed      streamjson.Result
	Killed      bool
	Reason      string // set when Killed, e.g. "silence_timeout", "cancelled"
	EmptyStdout bool   // true when the process exited 0 but produced no stdout at all
	Truncated   bool   // true when stdout was non-empty but the parser salvaged zero records
}

// Runner starts one child and exposes its stdio and lifecycle. LocalRunner
// (the default) execs the Agent CLI as a host subprocess; DockerRunner runs
// it inside a container when AgentCLIConfig.Sandbox == "docker". Both
// satisfy this interface so the rest of the supervisor — heartbeat,
// adaptive timeout, termination, exit reconciliation — is backend-agnostic.
type Runner interface {
	Start(ctx context.Context, req Request) (RunningProcess, error)
}

// RunningProcess is a started child process abstracted over its backend.
type RunningProcess interface {
	PID() int
	Stdout() <-chan []byte
	Stderr() <-chan []byte
	// Exited is closed when the process has exited; ExitCode/Err are then valid.
	Exited() <-chan struct{}
	ExitCode() int
	Err() error
	Terminate() // SIGTERM (or container stop)
	Kill()      // SIGKILL (or container kill)
}

// Supervisor spawns and supervises Agent CLI invocations.
type Supervisor struct {
	runner   Runner
	observer Observer
	logger   *logger.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc // sessionID -> cancel for the in-flight turn
}

// New creates a Supervisor. observer may be nil to discard lifecycle events.
func New(runner Runner, observer Observer, log *logger.Logger) *Supervisor {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Supervisor{
		runner:   runner,
		observer: observer,
		logger:   log.WithFields(zap.String("component", "supervisor")),
		active:   make(map[string]context.CancelFunc),
	}
}

// Cancel requests termination of the in-flight turn for sessionID, if any.
// Returns true if a turn was actually cancelled.
func (s *Supervisor) Cancel(sessionID string) bool {
	s.mu.Lock()
	cancel, ok := s.active[sessionID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// IsActive reports whether sessionID currently owns a live Process
// Invocation (used by the Session Manager to skip timeout while processing).
func (s *Supervisor) IsActive(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[sessionID]
	return ok
}

// Run spawns the Agent CLI for req and blocks until the turn completes: the
// process exits, is killed, or ctx/cancellation ends it early. Spawn,
// read-until-exit, and (by the caller) client-write are the turn
// pipeline's three suspension points; Run covers the first two.
func (s *Supervisor) Run(ctx context.Context, req Request) (Outcome, error) {
	total := ComputeBudget(req.Prompt, req.Streaming)
	turnCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.active[req.SessionID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, req.SessionID)
		s.mu.Unlock()
		cancel()
	}()

	proc, err := s.runner.Start(turnCtx, req)
	if err != nil {
		s.observer.ProcessError(req.SessionID, err)
		return Outcome{}, fmt.Errorf("spawn failed: %w", err)
	}
	s.observer.ProcessStarted(req.SessionID, proc.PID())

	var stdoutChunks [][]byte
	var stderrChunks [][]byte
	hasOutput := false
	startedAt := time.Now()
	lastOutput := startedAt

	initialTimer := time.NewTimer(total)
	defer initialTimer.Stop()
	silenceDur := SilenceBudget(total)
	silenceTimer := time.NewTimer(total) // rearmed to silenceDur once streaming starts
	defer silenceTimer.Stop()
	healthTicker := time.NewTicker(30 * time.Second)
	defer healthTicker.Stop()

	killed := false
	reason := ""

	terminate := func(why string) {
		killed = true
		reason = why
		proc.Terminate()
		go func() {
			select {
			case <-proc.Exited():
			case <-time.After(2 * time.Second):
				proc.Kill()
			}
		}()
	}

loop:
	for {
		select {
		case <-turnCtx.Done():
			if !killed {
				terminate("cancelled")
			}
			select {
			case <-proc.Exited():
			case <-time.After(3 * time.Second):
			}
			break loop

		case chunk, ok := <-proc.Stdout():
			if !ok {
				continue
			}
			stdoutChunks = append(stdoutChunks, chunk)
			s.observer.ProcessStdout(req.SessionID, chunk)
			if !hasOutput {
				hasOutput = true
				silenceTimer.Reset(silenceDur)
			} else {
				silenceTimer.Reset(silenceDur)
			}
			lastOutput = time.Now()

		case chunk, ok := <-proc.Stderr():
			if !ok {
				continue
			}
			stderrChunks = append(stderrChunks, chunk)
			s.observer.ProcessStderr(req.SessionID, chunk)
			if !hasOutput {
				hasOutput = true
				silenceTimer.Reset(silenceDur)
			} else {
				silenceTimer.Reset(silenceDur)
			}
			lastOutput = time.Now()

		case <-initialTimer.C:
			if !hasOutput && !killed {
				terminate("initial_timeout")
			}

		case <-silenceTimer.C:
			if hasOutput && !killed {
				terminate("silence_timeout")
			}

		case <-healthTicker.C:
			s.observer.ProcessHealth(req.SessionID, HealthMetrics{
				PID:            proc.PID(),
				UptimeMS:       time.Since(startedAt).Milliseconds(),
				BytesRead:      totalBytes(stdoutChunks) + totalBytes(stderrChunks),
				SilenceElapsed: time.Since(lastOutput),
				SilenceElapsedMS: time.Since(lastOutput).Milliseconds(),
			})

		case <-proc.Exited():
			break loop
		}
	}

	// Output still buffered when Exited won the select is kept.
	drain := func(ch <-chan []byte, into *[][]byte) {
		for {
			select {
			case chunk, ok := <-ch:
				if !ok {
					return
				}
				*into = append(*into, chunk)
			default:
				return
			}
		}
	}
	drain(proc.Stdout(), &stdoutChunks)
	drain(proc.Stderr(), &stderrChunks)

	exitCode := proc.ExitCode()
	s.observer.ProcessExit(req.SessionID, exitCode)

	stdout := joinChunks(stdoutChunks)
	stderr := string(joinChunks(stderrChunks))

	outcome := Outcome{ExitCode: exitCode, Stderr: stderr, Killed: killed, Reason: reason}

	if killed {
		return outcome, nil
	}
	if exitCode != 0 {
		return outcome, nil
	}
	if len(stdout) == 0 {
		outcome.EmptyStdout = true
		return outcome, nil
	}

	parsed, perr := streamjson.Parse(stdout)
	outcome.Parsed = parsed
	if perr != nil {
		outcome.Truncated = true
		s.logger.Warn("turn produced no salvageable records",
			zap.String("session_id", req.SessionID), zap.Error(perr))
	}
	return outcome, nil
}

// ComputeBudget implements the adaptive-timeout heuristic.
func ComputeBudget(prompt string, streaming bool) time.Duration {
	if !streaming {
		return 30 * time.Second
	}
	lower := strings.ToLower(prompt)
	for _, kw := range veryComplexKeywords {
		if strings.Contains(lower, kw) {
			return 600 * time.Second
		}
	}
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return 300 * time.Second
		}
	}
	switch {
	case len(prompt) > 200:
		return 300 * time.Second
	case len(prompt) > 50:
		return 180 * time.Second
	default:
		return 120 * time.Second
	}
}

var veryComplexKeywords = []string{
	"expert", "comprehensive", "thorough", "complete", "full",
	"entire project", "whole codebase", "all files",
}

var complexKeywords = []string{
	"review", "analyze", "audit", "refactor", "debug", "document", "test", "benchmark", "profile",
}

// IsLongRunning reports whether total exceeds the long-running threshold.
func IsLongRunning(total time.Duration) bool {
	return total > 300*time.Second
}

// SilenceBudget computes the streaming-state silence timer from the total
// budget: min(total_budget/3, 180s).
func SilenceBudget(total time.Duration) time.Duration {
	third := total / 3
	if third > 180*time.Second {
		return 180 * time.Second
	}
	return third
}

func joinChunks(chunks [][]byte) []byte {
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func totalBytes(chunks [][]byte) int64 {
	var n int64
	for _, c := range chunks {
		n += int64(len(c))
	}
	return n
}

type noopObserver struct{}

func (noopObserver) ProcessStarted(string, int)          {}
func (noopObserver) ProcessStdout(string, []byte)        {}
func (noopObserver) ProcessStderr(string, []byte)        {}
func (noopObserver) ProcessExit(string, int)             {}
func (noopObserver) ProcessError(string, error)          {}
func (noopObserver) ProcessHealth(string, HealthMetrics) {}
