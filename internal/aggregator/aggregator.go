// Package aggregator implements the Message Aggregator: it consumes
// Stream-JSON Parser records for one session's turn, maintains that
// session's Session Buffer, and emits the canonical outbound event set.
// Session Buffers are mutated only by the Aggregator that owns the
// current turn.
package aggregator

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/internal/events"
	"github.com/agentgate/agentgate/internal/permission"
	"github.com/agentgate/agentgate/internal/streamjson"
)

// Buffer is the Session Buffer: an ordered accumulator of in-progress
// assistant text, tool-use bookkeeping, and deliverables for the current
// turn.
type Buffer struct {
	AssistantTexts        []string
	MessageCount          int
	Deliverables          []permission.Deliverable
	PermissionRequestSent bool
	ToolUseInProgress     bool
	SystemInit            *streamjson.Record
}

func newBuffer() *Buffer { return &Buffer{} }

// reset clears everything a finished turn accumulated, always retaining
// SystemInit, since later turns on the same session have no other way to
// recover it.
func (b *Buffer) reset() {
	init := b.SystemInit
	*b = Buffer{SystemInit: init}
}

// Aggregator owns every session's Buffer and turns Stream-JSON records into
// canonical outbound events.
type Aggregator struct {
	mu      sync.Mutex
	buffers map[string]*Buffer
	coord   *permission.Coordinator
	logger  *logger.Logger
}

// New creates an Aggregator bound to the Permission Coordinator it consults
// for permission detection and state.
func New(coord *permission.Coordinator, log *logger.Logger) *Aggregator {
	return &Aggregator{
		buffers: make(map[string]*Buffer),
		coord:   coord,
		logger:  log.WithFields(zap.String("component", "aggregator")),
	}
}

func (a *Aggregator) bufferFor(sessionID string) *Buffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[sessionID]
	if !ok {
		buf = newBuffer()
		a.buffers[sessionID] = buf
	}
	return buf
}

// Reset clears a session's buffer, used on cancellation.
func (a *Aggregator) Reset(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.buffers, sessionID)
}

// Process consumes one Stream-JSON record and returns the canonical
// outbound events it produces, in order. Most record types produce zero
// or one event; a `result` record may produce two (assistantMessage{final}
// then conversationResult) or a single permissionRequest, or nothing
// (permission cycle pending).
func (a *Aggregator) Process(sessionID string, rec streamjson.Record) []events.Event {
	buf := a.bufferFor(sessionID)

	switch rec.Type {
	case streamjson.TypeSystem:
		if rec.Subtype == streamjson.SubtypeInit {
			a.mu.Lock()
			buf.SystemInit = &rec
			a.mu.Unlock()
		}
		return nil

	case streamjson.TypeUser:
		// User records in the Agent CLI's own stream are tool results; never forwarded.
		return nil

	case streamjson.TypeAssistant:
		return a.processAssistant(sessionID, buf, rec)

	case streamjson.TypeToolUse:
		return []events.Event{events.New(sessionID, events.OutToolUse, rec)}

	case streamjson.TypeToolResult:
		return []events.Event{events.New(sessionID, events.OutToolResult, rec)}

	case streamjson.TypeControlRequest:
		return a.processControlRequest(sessionID, buf, rec)

	case streamjson.TypeResult:
		return a.finalize(sessionID, buf, rec)

	default:
		a.logger.Warn("unrecognized stream-json record type", zap.String("type", rec.Type))
		return nil
	}
}

func (a *Aggregator) processAssistant(sessionID string, buf *Buffer, rec streamjson.Record) []events.Event {
	if rec.Message == nil {
		return nil
	}

	var out []events.Event
	blocks := rec.Message.Blocks()
	if blocks == nil {
		if text := rec.Message.Text(); text != "" {
			blocks = []streamjson.ContentBlock{{Type: "text", Text: text}}
		}
	}

	var textForThisMessage strings.Builder
	permissionHit := false

	for _, block := range blocks {
		switch block.Type {
		case "text":
			if ok, prompt := permission.Detect(block.Text); ok {
				permissionHit = true
				a.mu.Lock()
				buf.PermissionRequestSent = true
				a.mu.Unlock()
				if req, added := a.coord.Begin(sessionID, prompt); added {
					out = append(out, events.New(sessionID, events.OutPermissionRequest, req))
				}
			}
			if textForThisMessage.Len() > 0 {
				textForThisMessage.WriteString("\n")
			}
			textForThisMessage.WriteString(block.Text)
			for _, d := range permission.ExtractDeliverables(block.Text) {
				a.mu.Lock()
				buf.Deliverables = append(buf.Deliverables, d)
				a.mu.Unlock()
			}
		case "tool_use":
			a.mu.Lock()
			buf.ToolUseInProgress = true
			a.mu.Unlock()
			out = append(out, events.New(sessionID, events.OutToolUse, block))
		}
	}

	a.mu.Lock()
	if !buf.PermissionRequestSent && !permissionHit && textForThisMessage.Len() > 0 {
		buf.AssistantTexts = append(buf.AssistantTexts, textForThisMessage.String())
	}
	buf.MessageCount++
	a.mu.Unlock()

	return out
}

// processControlRequest treats a structured
// control_request{subtype:"can_use_tool"} as an unambiguous permission
// request, skipping the text heuristic entirely.
func (a *Aggregator) processControlRequest(sessionID string, buf *Buffer, rec streamjson.Record) []events.Event {
	if rec.Request == nil || rec.Request.Subtype != streamjson.ControlSubtypeCanUseTool {
		return nil
	}
	a.mu.Lock()
	buf.PermissionRequestSent = true
	a.mu.Unlock()

	prompt := "Use tool " + rec.Request.ToolName + "?"
	req, added := a.coord.Begin(sessionID, prompt)
	if !added {
		return nil
	}
	return []events.Event{events.New(sessionID, events.OutPermissionRequest, req)}
}

func (a *Aggregator) finalize(sessionID string, buf *Buffer, rec streamjson.Record) []events.Event {
	text := rec.ResultText()
	success := !rec.IsErrorResult()

	a.mu.Lock()
	permissionAlreadySent := buf.PermissionRequestSent
	aggregatedText := joinUnique(buf.AssistantTexts)
	deliverables := append([]permission.Deliverable(nil), buf.Deliverables...)
	messageCount := buf.MessageCount
	a.mu.Unlock()

	if permissionAlreadySent {
		// Finalization step 1: delivery awaits the client's response.
		a.coord.AttachPending(sessionID, permission.PendingFinal{
			Text:         aggregatedText,
			Deliverables: deliverables,
			MessageCount: messageCount,
			Success:      success,
			DurationMS:   rec.DurationMS,
			CostUSD:      rec.CostUSD,
			Usage:        rec.Usage,
		})
		return nil
	}

	if ok, prompt := permission.Detect(text); ok {
		// Finalization step 2: the result text itself reads as a
		// permission request.
		pending := permission.PendingFinal{
			Text:         aggregatedText,
			Deliverables: deliverables,
			MessageCount: messageCount,
			Success:      success,
			DurationMS:   rec.DurationMS,
			CostUSD:      rec.CostUSD,
			Usage:        rec.Usage,
		}
		req, added := a.coord.RequestWithPending(sessionID, prompt, pending)
		if !added {
			return nil
		}
		return []events.Event{events.New(sessionID, events.OutPermissionRequest, req)}
	}

	// Finalization step 3: aggregate and deliver.
	out := a.emitFinal(sessionID, aggregatedText, deliverables, messageCount, success, rec.DurationMS, rec.CostUSD, rec.Usage)
	a.Reset(sessionID)
	return out
}

// AssistantMessageData is the `data` payload of a final assistantMessage event.
type AssistantMessageData struct {
	Final        bool                     `json:"final"`
	Content      []ContentBlockOut        `json:"content"`
	Deliverables []permission.Deliverable `json:"deliverables,omitempty"`
	MessageCount int                      `json:"messageCount"`
}

// ContentBlockOut is a minimal text content block in the canonical shape
// clients expect: `content:[{type:text,text:"..."}]`.
type ContentBlockOut struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ConversationResultData is the `data` payload of a conversationResult
// event. It never echoes the aggregated text.
type ConversationResultData struct {
	Success    bool  `json:"success"`
	DurationMS int64 `json:"durationMs"`
	CostUSD    float64 `json:"costUsd"`
	Usage      any   `json:"usage,omitempty"`
}

func (a *Aggregator) emitFinal(sessionID, text string, deliverables []permission.Deliverable, messageCount int, success bool, durationMS int64, costUSD float64, usage any) []events.Event {
	var content []ContentBlockOut
	if text != "" {
		content = []ContentBlockOut{{Type: "text", Text: text}}
	}
	assistant := events.New(sessionID, events.OutAssistantMessage, AssistantMessageData{
		Final:        true,
		Content:      content,
		Deliverables: deliverables,
		MessageCount: messageCount,
	})
	result := events.New(sessionID, events.OutConversationResult, ConversationResultData{
		Success:    success,
		DurationMS: durationMS,
		CostUSD:    costUSD,
		Usage:      usage,
	})
	// assistantMessage{final} always precedes conversationResult.
	return []events.Event{assistant, result}
}

// EmitFromPending builds the final events for a resolved permission cycle.
// Approval emits the stashed assistantMessage and conversationResult;
// denial emits only an assistantMessage carrying a canned denial text, with
// no accompanying conversationResult.
func (a *Aggregator) EmitFromPending(sessionID string, result permission.ResolveResult) []events.Event {
	switch result.Outcome {
	case permission.OutcomeApproved:
		p := result.Pending
		return a.emitFinal(sessionID, p.Text, p.Deliverables, p.MessageCount, p.Success, p.DurationMS, p.CostUSD, p.Usage)
	case permission.OutcomeDenied:
		denial := events.New(sessionID, events.OutAssistantMessage, AssistantMessageData{
			Final:        true,
			Content:      []ContentBlockOut{{Type: "text", Text: "Permission denied. I will not proceed with that action."}},
			MessageCount: 1,
		})
		return []events.Event{denial}
	default:
		return nil
	}
}

// joinUnique concatenates non-empty, de-duplicated text blocks with
// blank-line separators.
func joinUnique(texts []string) string {
	seen := make(map[string]bool, len(texts))
	var kept []string
	for _, t := range texts {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		kept = append(kept, t)
	}
	return strings.Join(kept, "\n\n")
}
