package agentcli

import (
	"os"
	"strings"
	"testing"
)

func TestResolveExplicitPathTakesPriority(t *testing.T) {
	r := Resolver{Path: "/explicit/path/to/claude"}
	got, err := r.Resolve()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/explicit/path/to/claude" {
		t.Fatalf("expected the explicit path to win, got %q", got)
	}
}

func TestResolveFallsBackToEnvVar(t *testing.T) {
	t.Setenv("AGENT_CLI_PATH", "/from/env/claude")
	r := Resolver{}
	got, err := r.Resolve()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/from/env/claude" {
		t.Fatalf("expected the env var path, got %q", got)
	}
}

func TestEnvironAlwaysIncludesBaseVars(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	r := Resolver{}
	env := r.Environ()
	found := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected PATH to be passed through to the child environment")
	}
}

func TestEnvironOnlyPassesWhitelistedCredentials(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-secret")
	t.Setenv("SOME_OTHER_SECRET", "should-not-leak")
	r := Resolver{EnvPass: []string{"ANTHROPIC_API_KEY"}}
	env := r.Environ()

	var sawKey, sawOther bool
	for _, kv := range env {
		if kv == "ANTHROPIC_API_KEY=sk-secret" {
			sawKey = true
		}
		if strings.HasPrefix(kv, "SOME_OTHER_SECRET=") {
			sawOther = true
		}
	}
	if !sawKey {
		t.Fatal("expected the whitelisted credential variable to be passed through")
	}
	if sawOther {
		t.Fatal("expected a non-whitelisted variable to never reach the child environment")
	}
}

func TestEnvironOmitsUnsetCredentialVars(t *testing.T) {
	os.Unsetenv("AWS_ACCESS_KEY_ID")
	r := Resolver{EnvPass: []string{"AWS_ACCESS_KEY_ID"}}
	env := r.Environ()
	for _, kv := range env {
		if strings.HasPrefix(kv, "AWS_ACCESS_KEY_ID=") {
			t.Fatalf("expected no entry for an unset credential var, got %q", kv)
		}
	}
}
