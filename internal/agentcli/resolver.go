// Package agentcli resolves the Agent CLI binary path and assembles the
// child process's credential environment: AGENT_CLI_PATH, else `which`,
// else a short list of common install paths. Credential passthrough is
// whitelist-based: only the variables named in Resolver.EnvPass are passed.
package agentcli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// commonInstallPaths is the last-resort probe list.
var commonInstallPaths = []string{
	"/usr/local/bin",
	"/opt/homebrew/bin",
	filepath.Join(os.Getenv("HOME"), ".local/bin"),
	filepath.Join(os.Getenv("HOME"), ".npm-global/bin"),
}

// Resolver locates the Agent CLI binary and builds the environment its
// child process runs with.
type Resolver struct {
	// Name is the binary name to resolve when Path is not set explicitly
	// (e.g. "claude").
	Name string
	// Path is an explicit override; when set, resolution is skipped.
	Path string
	// EnvPass whitelists credential environment variables passed through
	// to the child — secrets never reach argv or logs.
	EnvPass []string
}

// Resolve returns the Agent CLI binary's path, trying (in order) the
// explicit override, AGENT_CLI_PATH, `which <name>`, then the common
// install paths. The override and AGENT_CLI_PATH are returned as given.
func (r Resolver) Resolve() (string, error) {
	if r.Path != "" {
		return r.Path, nil
	}
	if envPath := os.Getenv("AGENT_CLI_PATH"); envPath != "" {
		return envPath, nil
	}

	name := r.Name
	if name == "" {
		name = "claude"
	}

	if resolved, err := exec.LookPath(name); err == nil {
		return resolved, nil
	}

	for _, dir := range commonInstallPaths {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("could not resolve agent CLI binary %q: not overridden, not on PATH, not in common install paths", name)
}

// baseEnvVars are passed through unconditionally: they are needed to
// locate and run the binary itself, never hold secrets.
var baseEnvVars = []string{"PATH", "HOME", "LANG", "TERM", "TMPDIR"}

// Environ builds the child process's environment from scratch: the base
// runtime variables plus only the whitelisted credential variables that
// are actually set in this process's environment. The child never
// silently inherits more than the operator explicitly whitelisted.
func (r Resolver) Environ() []string {
	var env []string
	for _, key := range baseEnvVars {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	for _, key := range r.EnvPass {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// KnownCredentialVars lists commonly used credential environment variables.
// Environ does not consult it: whatever AgentCLIConfig.EnvPass names is
// passed through, whether or not it appears here.
var KnownCredentialVars = []string{
	"ANTHROPIC_API_KEY",
	"ANTHROPIC_BASE_URL",
	"ANTHROPIC_AUTH_TOKEN",
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"AWS_REGION",
	"GOOGLE_APPLICATION_CREDENTIALS",
}
