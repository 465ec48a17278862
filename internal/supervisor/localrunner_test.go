package supervisor

import (
	"context"
	"testing"
	"time"
)

func drain(ch <-chan []byte, timeout time.Duration) []byte {
	var out []byte
	deadline := time.After(timeout)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, chunk...)
		case <-deadline:
			return out
		}
	}
}

func TestLocalRunnerEchoesStdinToStdout(t *testing.T) {
	r := NewLocalRunner()
	proc, err := r.Start(context.Background(), Request{
		Argv:   []string{"/bin/cat"},
		Prompt: "hello from the test\n",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	<-proc.Exited()
	out := drain(proc.Stdout(), time.Second)
	if string(out) != "hello from the test\n" {
		t.Fatalf("expected cat to echo the prompt back, got %q", out)
	}
	if proc.ExitCode() != 0 {
		t.Fatalf("expected exit code 0, got %d", proc.ExitCode())
	}
}

func TestLocalRunnerReportsNonZeroExit(t *testing.T) {
	r := NewLocalRunner()
	proc, err := r.Start(context.Background(), Request{
		Argv: []string{"/bin/sh", "-c", "exit 7"},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	<-proc.Exited()
	if proc.ExitCode() != 7 {
		t.Fatalf("expected exit code 7, got %d", proc.ExitCode())
	}
}

func TestLocalRunnerPIDIsPositive(t *testing.T) {
	r := NewLocalRunner()
	proc, err := r.Start(context.Background(), Request{Argv: []string{"/bin/sh", "-c", "exit 0"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if proc.PID() <= 0 {
		t.Fatalf("expected a positive PID, got %d", proc.PID())
	}
	<-proc.Exited()
}

func TestLocalRunnerKillStopsALongRunningProcess(t *testing.T) {
	r := NewLocalRunner()
	proc, err := r.Start(context.Background(), Request{Argv: []string{"/bin/sh", "-c", "sleep 30"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	proc.Kill()

	select {
	case <-proc.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("expected Kill to terminate the process promptly")
	}
}
