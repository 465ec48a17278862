// Package streamjson parses the Agent CLI's newline-delimited JSON stdout
// into a sequence of typed Records, salvaging what it can from malformed
// or truncated lines rather than failing the whole turn.
package streamjson

import "encoding/json"

// Canonical inbound record types emitted by the Agent CLI.
const (
	TypeSystem          = "system"
	TypeAssistant       = "assistant"
	TypeUser            = "user"
	TypeToolUse         = "tool_use"
	TypeToolResult      = "tool_result"
	TypeResult          = "result"
	TypeControlRequest  = "control_request"
	TypeControlResponse = "control_response"
)

// SubtypeInit marks the system message that opens a conversation.
const SubtypeInit = "init"

// Control request subtypes recognized by the structured permission fast
// path, the shape some Agent CLIs use in addition to phrasing the request
// as plain assistant text.
const (
	ControlSubtypeCanUseTool = "can_use_tool"
)

// Permission behaviors for a control_response.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// Record is one parsed line (or salvaged object) from the Agent CLI's
// stdout. Which fields are populated depends on Type; RawLine retains the
// exact bytes that were successfully parsed, for logging and for passing
// through to clients verbatim when a field set changes upstream.
type Record struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// system
	SessionID string `json:"session_id,omitempty"`

	// assistant / user
	Message *ContentMessage `json:"message,omitempty"`

	// tool_use / tool_result (when emitted as top-level records rather than
	// nested inside an assistant message's content blocks)
	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolName  string         `json:"name,omitempty"`
	ToolInput map[string]any `json:"input,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`

	// result
	Result     json.RawMessage `json:"result,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	CostUSD    float64         `json:"cost_usd,omitempty"`
	NumTurns   int             `json:"num_turns,omitempty"`
	Usage      any             `json:"usage,omitempty"`

	// control_request (from the Agent CLI to the gateway)
	RequestID string          `json:"request_id,omitempty"`
	Request   *ControlRequest `json:"request,omitempty"`

	RawLine []byte `json:"-"`
}

// ContentMessage is the `message` body of an assistant/user record.
type ContentMessage struct {
	ID      string          `json:"id,omitempty"`
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"` // string or []ContentBlock
	Model   string          `json:"model,omitempty"`
	Usage   *Usage          `json:"usage,omitempty"`
}

// Blocks parses Content as an array of content blocks. Returns nil (not an
// error) when Content is a plain string.
func (m *ContentMessage) Blocks() []ContentBlock {
	if len(m.Content) == 0 {
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil
	}
	return blocks
}

// Text parses Content as a plain string. Returns "" when Content is a block
// array.
func (m *ContentMessage) Text() string {
	if len(m.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return ""
	}
	return s
}

// ContentBlock is one block of an assistant message's content array.
type ContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Usage carries token accounting from an assistant message or result.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// ResultString returns Result decoded as a plain string (a result line may
// carry its payload as a bare string rather than an object).
func (r *Record) ResultString() string {
	if len(r.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Result, &s); err == nil {
		return s
	}
	return ""
}

// ResultText returns Result.text when Result is an object carrying a text
// field (the shape the gateway's own Argument Builder asks the Agent CLI
// for via --output-format stream-json), falling back to ResultString.
func (r *Record) ResultText() string {
	if len(r.Result) == 0 {
		return ""
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(r.Result, &obj); err == nil && obj.Text != "" {
		return obj.Text
	}
	return r.ResultString()
}

// IsErrorResult reports whether a `result` record's top-level is_error flag
// marks the turn as failed, decoding it from RawLine; it returns false when
// RawLine is empty.
func (r *Record) IsErrorResult() bool {
	var obj struct {
		IsError bool `json:"is_error"`
	}
	if len(r.RawLine) == 0 {
		return false
	}
	_ = json.Unmarshal(r.RawLine, &obj)
	return obj.IsError
}

// ControlRequest is a structured permission/hook request from the Agent
// CLI's control protocol.
type ControlRequest struct {
	Subtype   string         `json:"subtype"`
	ToolName  string         `json:"tool_name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
}

// ControlResponse answers a ControlRequest on the child's stdin.
type ControlResponse struct {
	Type      string                  `json:"type"`
	RequestID string                  `json:"request_id"`
	Response  *ControlResponseDecision `json:"response"`
}

// ControlResponseDecision carries the allow/deny decision and optional
// feedback message shown to the model.
type ControlResponseDecision struct {
	Behavior string `json:"behavior"`
	Message  string `json:"message,omitempty"`
}
