// Package permission implements the Permission Coordinator: the
// conversational-permission detection heuristic, the approval recognizer,
// and the per-session Idle/AwaitingResponse state machine that gates final
// delivery until the client responds.
package permission

import (
	"regexp"
	"strings"
	"sync"

	"github.com/agentgate/agentgate/internal/common/logger"
)

// Deliverable is a fenced code block extracted from assistant text
// (GLOSSARY "Deliverable").
type Deliverable struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
}

// PendingFinal is the aggregated final payload a turn would have delivered,
// stashed while a session is AwaitingResponse.
type PendingFinal struct {
	Text         string
	Deliverables []Deliverable
	MessageCount int
	Success      bool
	DurationMS   int64
	CostUSD      float64
	Usage        any
}

// literal markers and conversational stems recognized as permission prompts.
var (
	markerRe = regexp.MustCompile(`(?i)\(y/n\)|\[y/n\]`)
	wordRe   = regexp.MustCompile(`(?i)\b(permission|approve|confirm)\b`)

	stems = []string{
		"would you like me to", "should i", "shall i", "may i", "can i",
		"need write permission", "need write permissions", "need permissions",
	}

	trailingMarkerRe = regexp.MustCompile(`(?i)\s*\(y/n\)\s*$`)
)

// Detect implements the detection heuristic: literal markers, the words
// permission/approve/confirm, conversational stems, and any interrogative
// sentence beginning with one of those stems. It returns the extracted
// prompt text per the Extraction rule.
func Detect(text string) (matched bool, prompt string) {
	if text == "" {
		return false, ""
	}
	if markerRe.MatchString(text) || wordRe.MatchString(text) || hasStemQuestion(text) {
		return true, Extract(text)
	}
	return false, ""
}

func hasStemQuestion(text string) bool {
	lower := strings.ToLower(text)
	for _, stem := range stems {
		if strings.Contains(lower, stem) {
			return true
		}
	}
	return false
}

func lineMatches(line string) bool {
	lower := strings.ToLower(line)
	for _, stem := range stems {
		if strings.Contains(lower, stem) {
			return true
		}
	}
	return strings.HasSuffix(strings.TrimSpace(line), "?")
}

// Extract splits text on newlines, keeps lines containing a stem or ending
// in "?"; falls back to the last paragraph if it ends in "?"; else returns
// the default prompt. Strips a trailing (y/n) marker.
func Extract(text string) string {
	lines := strings.Split(text, "\n")
	var kept []string
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" {
			continue
		}
		if lineMatches(trimmed) {
			kept = append(kept, trimmed)
		}
	}
	if len(kept) == 0 {
		paragraphs := strings.Split(strings.TrimSpace(text), "\n\n")
		last := strings.TrimSpace(paragraphs[len(paragraphs)-1])
		if strings.HasSuffix(last, "?") {
			return strip(last)
		}
		return "Permission required to proceed"
	}
	return strip(strings.Join(kept, " "))
}

func strip(s string) string {
	return strings.TrimSpace(trailingMarkerRe.ReplaceAllString(s, ""))
}

// approvalExact/approvalContains implement the Approval recognizer.
var approvalExact = []string{
	"yes", "y", "yep", "yeah", "yup", "approved", "approve", "approval",
	"ok", "okay", "k", "sure", "fine", "good", "proceed", "continue",
	"go ahead", "do it", "execute", "run it", "confirm", "confirmed",
	"allow", "permit", "authorized",
}

var approvalContains = []string{
	"go ahead", "go for it", "sounds good", "looks good", "that works",
	"let's do it", "please proceed", "please continue", "yes please",
	"absolutely", "definitely",
}

// Approval reports whether reply counts as an approval of a pending
// permission request.
func Approval(reply string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(reply))
	if trimmed == "" {
		return false
	}
	for _, word := range approvalExact {
		if trimmed == word {
			return true
		}
		if strings.HasPrefix(trimmed, word) {
			rest := trimmed[len(word):]
			if len(rest) > 0 && (rest[0] == ' ' || rest[0] == '.' || rest[0] == ',') {
				return true
			}
		}
	}
	for _, phrase := range approvalContains {
		if strings.Contains(trimmed, phrase) {
			return true
		}
	}
	return false
}

// denialWords are explicit denials distinguished from "any other user
// message", which is treated as a new, forwarded turn rather than a denial.
var denialWords = []string{
	"no", "n", "nope", "negative", "don't", "do not", "cancel", "stop",
	"decline", "deny", "denied", "never mind", "nevermind",
}

func isDenial(reply string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(reply))
	for _, word := range denialWords {
		if trimmed == word {
			return true
		}
		if strings.HasPrefix(trimmed, word) {
			rest := trimmed[len(word):]
			if len(rest) > 0 && (rest[0] == ' ' || rest[0] == '.' || rest[0] == ',') {
				return true
			}
		}
	}
	return false
}

// State is a session's position in the permission state machine.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
)

// Request is the payload of a `permissionRequest` outbound event.
type Request struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Default string   `json:"default"`
}

type sessionState struct {
	state   State
	request Request
	pending *PendingFinal
}

// Outcome describes what Resolve decided.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeApproved
	OutcomeDenied
	OutcomeForwarded
)

// ResolveResult is what Resolve returns.
type ResolveResult struct {
	Outcome Outcome
	Pending PendingFinal
}

// Coordinator implements the per-session Idle/AwaitingResponse state machine.
// At most one permission request may be outstanding per session.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	logger   *logger.Logger
}

// New creates a Coordinator.
func New(log *logger.Logger) *Coordinator {
	return &Coordinator{sessions: make(map[string]*sessionState), logger: log}
}

// Begin transitions a session from Idle to AwaitingResponse with a detected
// prompt but no pending payload yet (used when permission is detected mid
// turn, before the aggregated final content exists). Returns ok=false if the
// session was already AwaitingResponse, coalescing into the existing request.
func (c *Coordinator) Begin(sessionID, prompt string) (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, exists := c.sessions[sessionID]
	if exists && st.state == StateAwaitingResponse {
		return Request{}, false
	}
	req := Request{Prompt: prompt, Options: []string{"y", "n"}, Default: "n"}
	c.sessions[sessionID] = &sessionState{state: StateAwaitingResponse, request: req}
	return req, true
}

// AttachPending stores the aggregated final payload for a session already
// AwaitingResponse.
func (c *Coordinator) AttachPending(sessionID string, pending PendingFinal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.sessions[sessionID]
	if !ok {
		st = &sessionState{state: StateAwaitingResponse}
		c.sessions[sessionID] = st
	}
	p := pending
	st.pending = &p
}

// RequestWithPending begins (or coalesces into) AwaitingResponse and
// attaches the pending payload in one step.
func (c *Coordinator) RequestWithPending(sessionID, prompt string, pending PendingFinal) (Request, bool) {
	req, ok := c.Begin(sessionID, prompt)
	if !ok {
		return Request{}, false
	}
	c.AttachPending(sessionID, pending)
	return req, true
}

// IsAwaiting reports whether sessionID is in AwaitingResponse.
func (c *Coordinator) IsAwaiting(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.sessions[sessionID]
	return ok && st.state == StateAwaitingResponse
}

// Resolve applies a client's reply to an AwaitingResponse session. It
// always transitions back to Idle.
func (c *Coordinator) Resolve(sessionID, response string) ResolveResult {
	c.mu.Lock()
	st, ok := c.sessions[sessionID]
	if !ok || st.state != StateAwaitingResponse {
		c.mu.Unlock()
		return ResolveResult{Outcome: OutcomeNone}
	}
	pending := st.pending
	delete(c.sessions, sessionID)
	c.mu.Unlock()

	switch {
	case Approval(response):
		if pending == nil {
			return ResolveResult{Outcome: OutcomeNone}
		}
		return ResolveResult{Outcome: OutcomeApproved, Pending: *pending}
	case isDenial(response):
		return ResolveResult{Outcome: OutcomeDenied}
	default:
		// Any other user message: treated as an implicit denial by
		// discarding pending-final; caller forwards it as a new turn.
		return ResolveResult{Outcome: OutcomeForwarded}
	}
}

// Clear drops any in-flight permission state for sessionID (session close).
func (c *Coordinator) Clear(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

var fencedCodeRe = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\\n(.*?)```")

// ExtractDeliverables pulls fenced code blocks out of assistant text and
// returns them as Deliverables.
func ExtractDeliverables(text string) []Deliverable {
	matches := fencedCodeRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]Deliverable, 0, len(matches))
	for _, m := range matches {
		out = append(out, Deliverable{Language: m[1], Code: m[2]})
	}
	return out
}
