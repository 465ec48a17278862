// Package argv builds and validates the Agent CLI's argument vector from a
// Permission Profile. It never places the user prompt on argv.
package argv

import (
	"fmt"
	"strings"
)

// Permission modes recognized by the Agent CLI.
const (
	ModeDefault           = "default"
	ModeAcceptEdits       = "acceptEdits"
	ModeBypassPermissions = "bypassPermissions"
	ModePlan              = "plan"
)

// Output formats recognized by the Agent CLI.
const (
	OutputJSON       = "json"
	OutputText       = "text"
	OutputMarkdown   = "markdown"
	OutputStreamJSON = "stream-json"
)

var validModes = map[string]bool{
	ModeDefault:           true,
	ModeAcceptEdits:       true,
	ModeBypassPermissions: true,
	ModePlan:              true,
}

var validFormats = map[string]bool{
	OutputJSON:       true,
	OutputText:       true,
	OutputMarkdown:   true,
	OutputStreamJSON: true,
}

// metacharacters that must never appear in an argv entry.
const metacharacters = `;&|` + "`" + `$(){}[]<>`

// Profile is the Permission Profile the Argument Builder consumes.
type Profile struct {
	Mode            string
	AllowedTools    []string
	DisallowedTools []string
	SkipPermissions bool
	OutputFormat    string
	MCPConfigPath   string
}

// recognizedLongFlags is the closed set of long flags Validate accepts:
// every flag Build emits, plus --input-format; any other long flag is
// rejected.
var recognizedLongFlags = map[string]bool{
	"--print":            true,
	"--permission-mode":  true,
	"--allowed-tools":    true,
	"--disallowed-tools": true,
	"--dangerously-skip-permissions": true,
	"--output-format":    true,
	"--input-format":     true,
	"--mcp-config":       true,
}

// Build constructs argv for the Agent CLI binary from a Permission Profile.
// The prompt is never included: callers write it to the child's stdin after
// spawn and close stdin, matching `--print` semantics.
func Build(binary string, profile Profile) ([]string, error) {
	if profile.OutputFormat == "" {
		profile.OutputFormat = OutputStreamJSON
	}
	if !validFormats[profile.OutputFormat] {
		return nil, fmt.Errorf("invalid output format %q", profile.OutputFormat)
	}

	argv := []string{binary, "--print", "--output-format", profile.OutputFormat}

	if profile.SkipPermissions {
		argv = append(argv, "--dangerously-skip-permissions")
	} else {
		if profile.Mode == "" {
			profile.Mode = ModeDefault
		}
		if !validModes[profile.Mode] {
			return nil, fmt.Errorf("invalid permission mode %q", profile.Mode)
		}
		if profile.Mode != ModeDefault {
			argv = append(argv, "--permission-mode", profile.Mode)
		}
		if len(profile.AllowedTools) > 0 {
			argv = append(argv, "--allowed-tools", strings.Join(profile.AllowedTools, ","))
		}
		if len(profile.DisallowedTools) > 0 {
			argv = append(argv, "--disallowed-tools", strings.Join(profile.DisallowedTools, ","))
		}
	}

	if profile.MCPConfigPath != "" {
		argv = append(argv, "--mcp-config", profile.MCPConfigPath)
	}

	if err := Validate(argv); err != nil {
		return nil, err
	}
	return argv, nil
}

// Validate rejects any argument containing a shell metacharacter and any
// unrecognized long flag.
func Validate(argv []string) error {
	for _, arg := range argv {
		if strings.ContainsAny(arg, metacharacters) {
			return fmt.Errorf("argument %q contains a disallowed shell metacharacter", arg)
		}
		if strings.HasPrefix(arg, "--") && !recognizedLongFlags[arg] {
			return fmt.Errorf("unrecognized flag %q", arg)
		}
	}
	return nil
}

// ContainsMetacharacter reports whether s contains any rejected shell
// metacharacter. The Orchestration Layer uses it to reject ask and stream
// prompts that contain one, although prompts are written to stdin and never
// placed on argv.
func ContainsMetacharacter(s string) bool {
	return strings.ContainsAny(s, metacharacters)
}
