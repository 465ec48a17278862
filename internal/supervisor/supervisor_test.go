package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/agentgate/agentgate/internal/common/logger"
)

func TestComputeBudgetOneShotIsFixed(t *testing.T) {
	if got := ComputeBudget("anything at all", false); got != 30*time.Second {
		t.Fatalf("expected a fixed 30s one-shot budget, got %v", got)
	}
}

func TestComputeBudgetVeryComplexKeyword(t *testing.T) {
	if got := ComputeBudget("give me a comprehensive review", true); got != 600*time.Second {
		t.Fatalf("expected 600s for a very-complex keyword, got %v", got)
	}
}

func TestComputeBudgetComplexKeyword(t *testing.T) {
	if got := ComputeBudget("please refactor this function", true); got != 300*time.Second {
		t.Fatalf("expected 300s for a complex keyword, got %v", got)
	}
}

func TestComputeBudgetByLength(t *testing.T) {
	long := make([]byte, 201)
	for i := range long {
		long[i] = 'a'
	}
	if got := ComputeBudget(string(long), true); got != 300*time.Second {
		t.Fatalf("expected 300s for prompt length > 200, got %v", got)
	}

	mid := make([]byte, 51)
	for i := range mid {
		mid[i] = 'a'
	}
	if got := ComputeBudget(string(mid), true); got != 180*time.Second {
		t.Fatalf("expected 180s for prompt length > 50, got %v", got)
	}

	if got := ComputeBudget("hi", true); got != 120*time.Second {
		t.Fatalf("expected 120s default budget, got %v", got)
	}
}

func TestIsLongRunningThreshold(t *testing.T) {
	if IsLongRunning(300 * time.Second) {
		t.Fatal("300s is not > 300s, should not be long-running")
	}
	if !IsLongRunning(301 * time.Second) {
		t.Fatal("301s should be long-running")
	}
}

func TestSilenceBudgetCapsAt180(t *testing.T) {
	if got := SilenceBudget(600 * time.Second); got != 180*time.Second {
		t.Fatalf("expected silence budget capped at 180s, got %v", got)
	}
	if got := SilenceBudget(90 * time.Second); got != 30*time.Second {
		t.Fatalf("expected 90s/3=30s, got %v", got)
	}
}

// fakeProcess is a minimal RunningProcess for exercising Supervisor.Run
// without spawning anything real.
type fakeProcess struct {
	pid      int
	stdout   chan []byte
	stderr   chan []byte
	exited   chan struct{}
	exitCode int
	err      error

	terminated bool
	killed     bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		pid:    4242,
		stdout: make(chan []byte, 4),
		stderr: make(chan []byte, 4),
		exited: make(chan struct{}),
	}
}

func (f *fakeProcess) PID() int                { return f.pid }
func (f *fakeProcess) Stdout() <-chan []byte   { return f.stdout }
func (f *fakeProcess) Stderr() <-chan []byte   { return f.stderr }
func (f *fakeProcess) Exited() <-chan struct{} { return f.exited }
func (f *fakeProcess) ExitCode() int           { return f.exitCode }
func (f *fakeProcess) Err() error              { return f.err }
func (f *fakeProcess) Terminate()              { f.terminated = true }
func (f *fakeProcess) Kill()                   { f.killed = true }

type fakeRunner struct {
	proc *fakeProcess
	err  error
}

func (r *fakeRunner) Start(ctx context.Context, req Request) (RunningProcess, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.proc, nil
}

func TestRunReassemblesStdoutAndParses(t *testing.T) {
	proc := newFakeProcess()
	s := New(&fakeRunner{proc: proc}, nil, logger.Default())

	go func() {
		proc.stdout <- []byte(`{"type":"result","result":{"text":"4"},"is_error":false}` + "\n")
		proc.exitCode = 0
		close(proc.exited)
	}()

	outcome, err := s.Run(context.Background(), Request{SessionID: "s1", Streaming: false, Prompt: "2+2?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Killed {
		t.Fatal("did not expect the process to be reported killed")
	}
	if outcome.EmptyStdout || outcome.Truncated {
		t.Fatalf("expected a clean parse, got %+v", outcome)
	}
	if len(outcome.Parsed.Records) != 1 {
		t.Fatalf("expected exactly 1 parsed record, got %d", len(outcome.Parsed.Records))
	}
	if s.IsActive("s1") {
		t.Fatal("expected the session to no longer be active once Run returns")
	}
}

func TestRunReportsEmptyStdout(t *testing.T) {
	proc := newFakeProcess()
	s := New(&fakeRunner{proc: proc}, nil, logger.Default())

	go func() {
		proc.exitCode = 0
		close(proc.exited)
	}()

	outcome, err := s.Run(context.Background(), Request{SessionID: "s1", Streaming: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.EmptyStdout {
		t.Fatal("expected EmptyStdout=true for a zero-byte stdout")
	}
}

func TestRunReportsNonZeroExit(t *testing.T) {
	proc := newFakeProcess()
	s := New(&fakeRunner{proc: proc}, nil, logger.Default())

	go func() {
		proc.stderr <- []byte("boom")
		proc.exitCode = 1
		close(proc.exited)
	}()

	outcome, err := s.Run(context.Background(), Request{SessionID: "s1", Streaming: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.ExitCode != 1 {
		t.Fatalf("expected ExitCode=1, got %d", outcome.ExitCode)
	}
	if outcome.Stderr != "boom" {
		t.Fatalf("expected stderr 'boom', got %q", outcome.Stderr)
	}
}

func TestCancelTerminatesTheInFlightTurn(t *testing.T) {
	proc := newFakeProcess()
	s := New(&fakeRunner{proc: proc}, nil, logger.Default())

	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), Request{SessionID: "s1", Streaming: true, Prompt: "hang on"})
		close(done)
	}()

	// Wait until Run has registered the turn as active before cancelling.
	for i := 0; i < 100 && !s.IsActive("s1"); i++ {
		time.Sleep(time.Millisecond)
	}
	if !s.Cancel("s1") {
		t.Fatal("expected Cancel to find an active turn")
	}

	proc.exitCode = -1
	close(proc.exited)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if !proc.terminated {
		t.Fatal("expected Terminate to have been called on cancellation")
	}
}
