package orchestration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentgate/agentgate/internal/common/errors"
	"github.com/agentgate/agentgate/internal/supervisor"
)

func TestValidateWorkingDirectoryRejectsRelativePath(t *testing.T) {
	err := validateWorkingDirectory("relative/path", "")
	if errors.Code(err) != errors.CodeInvalidPath {
		t.Fatalf("expected INVALID_PATH for a relative path, got %v", err)
	}
}

func TestValidateWorkingDirectoryRejectsDotDot(t *testing.T) {
	err := validateWorkingDirectory("/home/user/../etc/passwd", "")
	if errors.Code(err) != errors.CodeInvalidPath {
		t.Fatalf("expected INVALID_PATH for a path containing .., got %v", err)
	}
}

func TestValidateWorkingDirectoryRejectsSystemPaths(t *testing.T) {
	for _, p := range []string{"/etc", "/etc/passwd", "/usr/local/bin", "/root"} {
		if err := validateWorkingDirectory(p, ""); errors.Code(err) != errors.CodeForbiddenPath {
			t.Errorf("expected FORBIDDEN_PATH for %q, got %v", p, err)
		}
	}
}

func TestValidateWorkingDirectoryRejectsOutsideSafeRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := validateWorkingDirectory(outside, root); errors.Code(err) != errors.CodeForbiddenPath {
		t.Fatalf("expected FORBIDDEN_PATH for a directory outside the safe root, got %v", err)
	}
}

func TestValidateWorkingDirectoryRejectsMissingDirectory(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(root, "does-not-exist")
	if err := validateWorkingDirectory(missing, root); errors.Code(err) != errors.CodeDirectoryNotFound {
		t.Fatalf("expected DIRECTORY_NOT_FOUND, got %v", err)
	}
}

func TestValidateWorkingDirectoryRejectsPlainFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "afile")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := validateWorkingDirectory(file, root); errors.Code(err) != errors.CodeNotADirectory {
		t.Fatalf("expected NOT_A_DIRECTORY, got %v", err)
	}
}

func TestValidateWorkingDirectoryAcceptsValidDirectory(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "project")
	if err := os.Mkdir(sub, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := validateWorkingDirectory(sub, root); err != nil {
		t.Fatalf("expected a valid directory within the safe root to pass, got %v", err)
	}
}

func TestOutcomeErrorTranslatesEachFailureMode(t *testing.T) {
	if err := outcomeError(supervisor.Outcome{Killed: true, Reason: "silence_timeout"}); errors.Code(err) != errors.CodeClaudeError {
		t.Fatalf("expected CLAUDE_ERROR for a killed outcome, got %v", err)
	}
	if err := outcomeError(supervisor.Outcome{ExitCode: 1}); errors.Code(err) != errors.CodeAgentExitNonzero {
		t.Fatalf("expected AGENT_EXIT_NONZERO for a non-zero exit, got %v", err)
	}
	if err := outcomeError(supervisor.Outcome{EmptyStdout: true}); errors.Code(err) != errors.CodeEmptyOutput {
		t.Fatalf("expected EMPTY_OUTPUT, got %v", err)
	}
	if err := outcomeError(supervisor.Outcome{Truncated: true}); errors.Code(err) != errors.CodeTruncatedOutput {
		t.Fatalf("expected TRUNCATED_OUTPUT when truncated with zero records, got %v", err)
	}
	if err := outcomeError(supervisor.Outcome{}); err != nil {
		t.Fatalf("expected no error for a clean outcome, got %v", err)
	}
}
