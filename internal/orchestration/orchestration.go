// Package orchestration wires the Argument Builder, Process Supervisor,
// Message Aggregator, Permission Coordinator, Session Manager, Delivery
// Queue, and Connection Gateway together and routes inbound message types
// to handlers. The inbound dispatch is a closed tagged union rather than a
// string-keyed map of opaque handlers.
package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/aggregator"
	"github.com/agentgate/agentgate/internal/agentcli"
	"github.com/agentgate/agentgate/internal/argv"
	"github.com/agentgate/agentgate/internal/common/config"
	"github.com/agentgate/agentgate/internal/common/errors"
	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/internal/delivery"
	"github.com/agentgate/agentgate/internal/events"
	"github.com/agentgate/agentgate/internal/gateway"
	"github.com/agentgate/agentgate/internal/history"
	"github.com/agentgate/agentgate/internal/permission"
	"github.com/agentgate/agentgate/internal/registry"
	"github.com/agentgate/agentgate/internal/session"
	"github.com/agentgate/agentgate/internal/streamjson"
	"github.com/agentgate/agentgate/internal/supervisor"
	"github.com/agentgate/agentgate/internal/tracing"
)

// Orchestrator wires every component and is the single entry point the
// Connection Gateway dispatches inbound envelopes to.
type Orchestrator struct {
	cfg        *config.Config
	sessions   *session.Manager
	supervisor *supervisor.Supervisor
	aggregator *aggregator.Aggregator
	coord      *permission.Coordinator
	queue      *delivery.Queue
	gw         *gateway.Gateway
	registry   *registry.Registry
	resolver   agentcli.Resolver
	history    *history.Store // nil when history.enabled is false
	logger     *logger.Logger

	mcpConfigPath string // set via SetMCPConfigPath; empty when the MCP server is disabled
}

// New constructs an Orchestrator from its already-built collaborators.
func New(
	cfg *config.Config,
	sessions *session.Manager,
	sup *supervisor.Supervisor,
	agg *aggregator.Aggregator,
	coord *permission.Coordinator,
	queue *delivery.Queue,
	gw *gateway.Gateway,
	reg *registry.Registry,
	resolver agentcli.Resolver,
	hist *history.Store,
	log *logger.Logger,
) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		sessions:   sessions,
		supervisor: sup,
		aggregator: agg,
		coord:      coord,
		queue:      queue,
		gw:         gw,
		registry:   reg,
		resolver:   resolver,
		history:    hist,
		logger:     log.WithFields(zap.String("component", "orchestration")),
	}
	gw.SetHandler(o.Dispatch)
	return o
}

// SetMCPConfigPath tells the Orchestrator to launch the Agent CLI with
// --mcp-config pointing at path. Called once at startup when the MCP tool
// server is enabled; left unset otherwise.
func (o *Orchestrator) SetMCPConfigPath(path string) {
	o.mcpConfigPath = path
}

// Dispatch is the closed tagged-union handler for every inbound message
// type. Handler panics are caught here and translated into a
// HANDLER_ERROR error event.
func (o *Orchestrator) Dispatch(ctx context.Context, clientID string, msg events.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("handler panic", zap.Any("panic", r), zap.String("message_type", msg.Type))
			o.replyError(clientID, msg.RequestID, errors.HandlerError(fmt.Sprintf("%v", r)))
		}
	}()

	switch msg.Type {
	case events.InAsk:
		o.handleAsk(ctx, clientID, msg)
	case events.InStreamStart:
		o.handleStreamStart(ctx, clientID, msg)
	case events.InStreamSend:
		o.handleStreamSend(ctx, clientID, msg)
	case events.InStreamClose:
		o.handleStreamClose(clientID, msg)
	case events.InPermission:
		o.handlePermission(ctx, clientID, msg)
	case events.InSubscribe:
		o.handleSubscribe(clientID, msg)
	case events.InAcknowledgeMessages:
		o.handleAcknowledge(clientID, msg)
	case events.InGetMessageHistory:
		o.handleGetMessageHistory(ctx, clientID, msg)
	case events.InSetWorkingDirectory:
		o.handleSetWorkingDirectory(clientID, msg)
	case events.InClaudeCommand:
		o.handleClaudeCommand(ctx, clientID, msg)
	case events.InClearChat:
		o.handleClearChat(ctx, clientID, msg)
	case events.InRegisterDevice:
		o.handleRegisterDevice(clientID, msg)
	case events.InPing:
		o.handlePing(clientID, msg)
	default:
		o.replyError(clientID, msg.RequestID, errors.InvalidRequest("unknown message type "+msg.Type))
	}
}

func (o *Orchestrator) replyError(clientID, requestID string, err error) {
	ev := events.New("", events.OutError, events.ErrorData{
		Code:    errors.Code(err),
		Message: err.Error(),
	})
	ev.RequestID = requestID
	o.gw.Send(clientID, ev)
}

func (o *Orchestrator) reply(clientID, requestID, typ string, data any) {
	ev := events.New("", typ, data)
	ev.RequestID = requestID
	o.gw.Send(clientID, ev)
}

// publish routes one aggregator/session/queue-produced event through the
// Delivery Queue: direct send to every live subscriber, else stored for
// replay.
func (o *Orchestrator) publish(ev events.Event) {
	PublishToClient(o.queue, o.gw, ev)
	if o.history != nil {
		_ = o.history.Append(context.Background(), ev.SessionID, ev.Type, ev.Data)
	}
}

// --- ask ---

type askRequest struct {
	Prompt           string         `json:"prompt"`
	WorkingDirectory string         `json:"workingDirectory"`
	Options          map[string]any `json:"options"`
}

func (o *Orchestrator) handleAsk(ctx context.Context, clientID string, msg events.Inbound) {
	var req askRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		o.replyError(clientID, msg.RequestID, errors.InvalidRequest("malformed ask request"))
		return
	}
	if argv.ContainsMetacharacter(req.Prompt) {
		o.replyError(clientID, msg.RequestID, errors.InvalidArgs("prompt contains a disallowed shell metacharacter"))
		return
	}

	binary, err := o.resolver.Resolve()
	if err != nil {
		o.replyError(clientID, msg.RequestID, errors.ClaudeError(err.Error()))
		return
	}
	profile, _ := o.registry.Resolve(registry.PresetDefault)
	profile.OutputFormat = argv.OutputStreamJSON
	profile.MCPConfigPath = o.mcpConfigPath
	built, err := argv.Build(binary, profile)
	if err != nil {
		o.replyError(clientID, msg.RequestID, errors.InvalidArgs(err.Error()))
		return
	}

	outcome, err := o.supervisor.Run(ctx, supervisor.Request{
		SessionID:  "ask-" + clientID,
		Argv:       built,
		WorkingDir: req.WorkingDirectory,
		Prompt:     req.Prompt,
		Streaming:  false,
		Env:        o.resolver.Environ(),
	})
	if err != nil {
		o.replyError(clientID, msg.RequestID, errors.ClaudeError(err.Error()))
		return
	}

	if appErr := outcomeError(outcome); appErr != nil {
		o.replyError(clientID, msg.RequestID, appErr)
		return
	}

	var resultText string
	var success = true
	for _, rec := range outcome.Parsed.Records {
		if rec.Type == streamjson.TypeResult {
			resultText = rec.ResultText()
			success = !rec.IsErrorResult()
		}
	}
	o.reply(clientID, msg.RequestID, events.OutAskResponse, map[string]any{
		"success":  success,
		"response": map[string]any{"result": resultText},
	})
}

// outcomeError translates a supervisor.Outcome's failure modes into the
// matching error-code AppError, or nil on success.
func outcomeError(outcome supervisor.Outcome) error {
	switch {
	case outcome.Killed:
		return errors.ClaudeError("agent invocation terminated: " + outcome.Reason)
	case outcome.ExitCode != 0:
		return errors.AgentExitNonzero(outcome.ExitCode, outcome.Stderr)
	case outcome.EmptyStdout:
		return errors.EmptyOutput()
	case outcome.Truncated && len(outcome.Parsed.Records) == 0:
		return errors.TruncatedOutput("agent output truncated, no records recovered")
	default:
		return nil
	}
}

// --- streamStart / streamSend: shared turn execution ---

type streamStartRequest struct {
	SessionID        string         `json:"sessionId"`
	InitialPrompt    string         `json:"initialPrompt"`
	WorkingDirectory string         `json:"workingDirectory"`
	Options          map[string]any `json:"options"`
}

func (o *Orchestrator) handleStreamStart(ctx context.Context, clientID string, msg events.Inbound) {
	var req streamStartRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		o.replyError(clientID, msg.RequestID, errors.InvalidRequest("malformed streamStart request"))
		return
	}
	if o.sessions.AtCapacity() {
		o.replyError(clientID, msg.RequestID, errors.SessionError(session.ErrAtCapacity.Error()))
		return
	}

	sessionID, reused := o.sessions.CreateSession(req.SessionID, req.WorkingDirectory)
	o.gw.Subscribe(clientID, nil, []string{sessionID})

	o.reply(clientID, msg.RequestID, events.OutStreamStarted, map[string]any{"sessionId": sessionID, "reused": reused})

	go o.runTurn(sessionID, req.WorkingDirectory, req.InitialPrompt)
}

type streamSendRequest struct {
	SessionID string `json:"sessionId"`
	Prompt    string `json:"prompt"`
}

func (o *Orchestrator) handleStreamSend(ctx context.Context, clientID string, msg events.Inbound) {
	var req streamSendRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		o.replyError(clientID, msg.RequestID, errors.InvalidRequest("malformed streamSend request"))
		return
	}
	s, ok := o.sessions.GetSession(req.SessionID)
	if !ok {
		o.replyError(clientID, msg.RequestID, errors.SessionNotFound(req.SessionID))
		return
	}
	o.gw.Subscribe(clientID, nil, []string{req.SessionID})

	o.reply(clientID, msg.RequestID, events.OutStreamSent, map[string]any{"sessionId": req.SessionID, "success": true})

	go o.runTurn(s.ID, s.WorkingDirectory, req.Prompt)
}

// runTurn is the per-turn pipeline: argv -> spawn -> parse -> aggregate ->
// deliver. Turn N+1 on the same session is never started until this turn
// reaches a terminal state; the caller (streamStart/streamSend) enforces
// that by construction since each call only launches one goroutine per
// inbound message and clients must wait for streamSent/conversationResult
// before sending the next prompt.
func (o *Orchestrator) runTurn(sessionID, workingDir, prompt string) {
	o.sessions.UpdateActivity(sessionID)

	if argv.ContainsMetacharacter(prompt) {
		o.publish(events.New(sessionID, events.OutError, events.ErrorData{
			Code: errors.CodeInvalidArgs, Message: "prompt contains a disallowed shell metacharacter",
		}))
		return
	}

	binary, err := o.resolver.Resolve()
	if err != nil {
		o.publish(events.New(sessionID, events.OutError, events.ErrorData{Code: errors.CodeClaudeError, Message: err.Error()}))
		return
	}
	profile, _ := o.registry.Resolve(registry.PresetDefault)
	profile.OutputFormat = argv.OutputStreamJSON
	profile.MCPConfigPath = o.mcpConfigPath
	built, err := argv.Build(binary, profile)
	if err != nil {
		o.publish(events.New(sessionID, events.OutError, events.ErrorData{Code: errors.CodeInvalidArgs, Message: err.Error()}))
		return
	}

	budget := supervisor.ComputeBudget(prompt, true)
	longRunning := supervisor.IsLongRunning(budget)
	var stopProgress chan struct{}
	if longRunning {
		o.publish(events.New(sessionID, events.OutStreamChunk, map[string]any{"status": "long_running_started"}))
		stopProgress = o.startProgressTicker(sessionID)
	}

	ctx, span := tracing.StartTurn(context.Background(), o.cfg.Tracing.OTLPEndpoint, sessionID)
	defer span.End()
	outcome, err := o.supervisor.Run(ctx, supervisor.Request{
		SessionID:  sessionID,
		Argv:       built,
		WorkingDir: workingDir,
		Prompt:     prompt,
		Streaming:  true,
		Env:        o.resolver.Environ(),
	})
	if stopProgress != nil {
		close(stopProgress)
	}
	if err != nil {
		o.publish(events.New(sessionID, events.OutError, events.ErrorData{Code: errors.CodeClaudeError, Message: err.Error()}))
		return
	}

	if appErr := outcomeError(outcome); appErr != nil {
		o.aggregator.Reset(sessionID)
		o.publish(events.New(sessionID, events.OutError, events.ErrorData{
			Code: errors.Code(appErr), Message: appErr.Error(),
		}))
		return
	}

	for _, rec := range outcome.Parsed.Records {
		for _, ev := range o.aggregator.Process(sessionID, rec) {
			o.publish(ev)
		}
	}
}

func (o *Orchestrator) startProgressTicker(sessionID string) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(120 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				o.publish(events.New(sessionID, events.OutStreamChunk, map[string]any{"status": "in_progress"}))
			}
		}
	}()
	return stop
}

// --- streamClose ---

type streamCloseRequest struct {
	SessionID string `json:"sessionId"`
	ClearChat bool   `json:"clearChat"`
}

func (o *Orchestrator) handleStreamClose(clientID string, msg events.Inbound) {
	var req streamCloseRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		o.replyError(clientID, msg.RequestID, errors.InvalidRequest("malformed streamClose request"))
		return
	}
	if req.ClearChat {
		o.sessions.KillSession(req.SessionID, "clearChat", o.supervisor)
		o.queue.Clear(req.SessionID)
		if o.history != nil {
			_ = o.history.Clear(context.Background(), req.SessionID)
		}
	}
	o.reply(clientID, msg.RequestID, events.OutStreamClose, map[string]any{"sessionId": req.SessionID})
}

// --- permission ---

type permissionRequest struct {
	SessionID string `json:"sessionId"`
	Response  string `json:"response"`
}

func (o *Orchestrator) handlePermission(ctx context.Context, clientID string, msg events.Inbound) {
	var req permissionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		o.replyError(clientID, msg.RequestID, errors.InvalidRequest("malformed permission request"))
		return
	}

	result := o.coord.Resolve(req.SessionID, req.Response)
	o.sessions.UpdateActivity(req.SessionID)

	switch result.Outcome {
	case permission.OutcomeApproved, permission.OutcomeDenied:
		for _, ev := range o.aggregator.EmitFromPending(req.SessionID, result) {
			o.publish(ev)
		}
		o.aggregator.Reset(req.SessionID)
		o.reply(clientID, msg.RequestID, "permissionHandled", map[string]any{"accepted": result.Outcome == permission.OutcomeApproved})
	case permission.OutcomeForwarded:
		o.aggregator.Reset(req.SessionID)
		o.reply(clientID, msg.RequestID, "permissionHandled", map[string]any{"accepted": false})
		if s, ok := o.sessions.GetSession(req.SessionID); ok {
			go o.runTurn(s.ID, s.WorkingDirectory, req.Response)
		}
	default:
		o.reply(clientID, msg.RequestID, "permissionHandled", map[string]any{"accepted": false})
	}
}

// --- subscribe ---

type subscribeRequest struct {
	Events     []string `json:"events"`
	SessionIDs []string `json:"sessionIds"`
}

func (o *Orchestrator) handleSubscribe(clientID string, msg events.Inbound) {
	var req subscribeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		o.replyError(clientID, msg.RequestID, errors.InvalidRequest("malformed subscribe request"))
		return
	}
	o.gw.Subscribe(clientID, req.Events, req.SessionIDs)
	for _, sessionID := range req.SessionIDs {
		o.queue.DeliverQueued(sessionID, clientID, o.gw.Send)
	}
	o.reply(clientID, msg.RequestID, "subscribed", map[string]any{"sessionIds": req.SessionIDs})
}

// --- acknowledgeMessages ---

type acknowledgeRequest struct {
	MessageIDs []string `json:"messageIds"`
}

func (o *Orchestrator) handleAcknowledge(clientID string, msg events.Inbound) {
	var req acknowledgeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		o.replyError(clientID, msg.RequestID, errors.InvalidRequest("malformed acknowledgeMessages request"))
		return
	}
	o.queue.Acknowledge(req.MessageIDs, clientID)
}

// --- getMessageHistory ---

type getMessageHistoryRequest struct {
	SessionID string `json:"sessionId"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

func (o *Orchestrator) handleGetMessageHistory(ctx context.Context, clientID string, msg events.Inbound) {
	var req getMessageHistoryRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		o.replyError(clientID, msg.RequestID, errors.InvalidRequest("malformed getMessageHistory request"))
		return
	}
	if o.history == nil {
		o.reply(clientID, msg.RequestID, "messageHistory", map[string]any{"sessionId": req.SessionID, "messages": []any{}})
		return
	}
	entries, err := o.history.List(ctx, req.SessionID, req.Limit, req.Offset)
	if err != nil {
		o.replyError(clientID, msg.RequestID, errors.InternalError("failed to read message history", err))
		return
	}
	o.reply(clientID, msg.RequestID, "messageHistory", map[string]any{"sessionId": req.SessionID, "messages": entries})
}

// --- setWorkingDirectory ---

type setWorkingDirectoryRequest struct {
	WorkingDirectory string `json:"workingDirectory"`
}

var forbiddenSystemPaths = []string{"/etc", "/usr", "/bin", "/sbin", "/sys", "/proc", "/root"}

// validateWorkingDirectory implements setWorkingDirectory's validation:
// absolute, no `..`/`~`, within the configured safe root, not one of the
// forbidden system paths, exists, and is a directory.
func validateWorkingDirectory(path, safeRoot string) error {
	if path == "" || !filepath.IsAbs(path) {
		return errors.InvalidPath("working directory must be an absolute path")
	}
	if strings.Contains(path, "..") || strings.Contains(path, "~") {
		return errors.InvalidPath("working directory must not contain .. or ~")
	}
	cleaned := filepath.Clean(path)
	for _, forbidden := range forbiddenSystemPaths {
		if cleaned == forbidden || strings.HasPrefix(cleaned, forbidden+string(filepath.Separator)) {
			return errors.ForbiddenPath("working directory may not resolve into a system path")
		}
	}
	if safeRoot != "" {
		rel, err := filepath.Rel(safeRoot, cleaned)
		if err != nil || strings.HasPrefix(rel, "..") {
			return errors.ForbiddenPath("working directory must be within the configured safe root")
		}
	}
	info, err := os.Stat(cleaned)
	if err != nil {
		return errors.DirectoryNotFound("working directory does not exist: " + cleaned)
	}
	if !info.IsDir() {
		return errors.NotADirectory("working directory is not a directory: " + cleaned)
	}
	return nil
}

func (o *Orchestrator) handleSetWorkingDirectory(clientID string, msg events.Inbound) {
	var req setWorkingDirectoryRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		o.replyError(clientID, msg.RequestID, errors.InvalidRequest("malformed setWorkingDirectory request"))
		return
	}
	if req.WorkingDirectory == session.WorkspaceMarker {
		o.reply(clientID, msg.RequestID, "workingDirectorySet", map[string]any{"workingDirectory": req.WorkingDirectory})
		return
	}
	if err := validateWorkingDirectory(req.WorkingDirectory, o.cfg.Server.SafeRoot); err != nil {
		o.replyError(clientID, msg.RequestID, err)
		return
	}
	o.reply(clientID, msg.RequestID, "workingDirectorySet", map[string]any{"workingDirectory": req.WorkingDirectory})
}

// --- claudeCommand ---

type claudeCommandRequest struct {
	SessionID   string   `json:"sessionId"`
	Command     string   `json:"command"`
	Args        []string `json:"args"`
	ProjectPath string   `json:"projectPath"`
}

func (o *Orchestrator) handleClaudeCommand(ctx context.Context, clientID string, msg events.Inbound) {
	var req claudeCommandRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		o.replyError(clientID, msg.RequestID, errors.InvalidRequest("malformed claudeCommand request"))
		return
	}

	switch req.Command {
	case "status":
		o.reply(clientID, msg.RequestID, "commandResult", map[string]any{
			"command": "status",
			"sessions": o.sessions.Count(),
		})
	case "test":
		binary, err := o.resolver.Resolve()
		if err != nil {
			o.replyError(clientID, msg.RequestID, errors.CommandFailed("agent CLI not resolvable: "+err.Error()))
			return
		}
		o.reply(clientID, msg.RequestID, "commandResult", map[string]any{"command": "test", "binary": binary})
	default:
		// Anything else is an agent prompt.
		prompt := req.Command
		if len(req.Args) > 0 {
			prompt = prompt + " " + strings.Join(req.Args, " ")
		}
		s, ok := o.sessions.GetSession(req.SessionID)
		if !ok {
			o.replyError(clientID, msg.RequestID, errors.SessionNotFound(req.SessionID))
			return
		}
		o.reply(clientID, msg.RequestID, events.OutStreamSent, map[string]any{"sessionId": req.SessionID, "success": true})
		go o.runTurn(s.ID, s.WorkingDirectory, prompt)
	}
}

// --- clearChat ---

type clearChatRequest struct {
	SessionID string `json:"sessionId"`
}

func (o *Orchestrator) handleClearChat(ctx context.Context, clientID string, msg events.Inbound) {
	var req clearChatRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		o.replyError(clientID, msg.RequestID, errors.InvalidRequest("malformed clearChat request"))
		return
	}
	o.aggregator.Reset(req.SessionID)
	o.coord.Clear(req.SessionID)
	o.queue.Clear(req.SessionID)
	if o.history != nil {
		_ = o.history.Clear(ctx, req.SessionID)
	}
	o.reply(clientID, msg.RequestID, "chatCleared", map[string]any{"sessionId": req.SessionID})
}

// --- registerDevice ---

type registerDeviceRequest struct {
	DeviceToken string         `json:"deviceToken"`
	DeviceInfo  map[string]any `json:"deviceInfo"`
}

func (o *Orchestrator) handleRegisterDevice(clientID string, msg events.Inbound) {
	var req registerDeviceRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		o.replyError(clientID, msg.RequestID, errors.InvalidRequest("malformed registerDevice request"))
		return
	}
	o.reply(clientID, msg.RequestID, "deviceRegistered", map[string]any{"registered": true})
}

// --- ping ---

type pingRequest struct {
	Timestamp int64 `json:"timestamp"`
}

func (o *Orchestrator) handlePing(clientID string, msg events.Inbound) {
	var req pingRequest
	_ = json.Unmarshal(msg.Data, &req)
	o.reply(clientID, msg.RequestID, events.OutPong, map[string]any{"timestamp": req.Timestamp})
}
