package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/common/logger"
)

func registerTools(s *server.MCPServer, cfg Config, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List every live session this gateway currently owns, with working directory and last-activity time."),
		),
		listSessionsHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("get_message_history",
			mcp.WithDescription("Fetch stored messages for a session, oldest first (up to limit). Only available when history persistence is enabled."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID to fetch history for"),
			),
			mcp.WithString("limit",
				mcp.Description("Maximum number of entries to return (default 50)"),
			),
		),
		getMessageHistoryHandler(cfg, log),
	)

	log.Info("registered mcp tools", zap.Int("count", 2))
}

func listSessionsHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if cfg.Sessions == nil {
			return mcp.NewToolResultError("session manager unavailable"), nil
		}
		snapshot := cfg.Sessions.Snapshot()

		type sessionSummary struct {
			ID                  string `json:"id"`
			WorkingDirectory    string `json:"workingDirectory"`
			ConversationStarted bool   `json:"conversationStarted"`
			LastActivity        string `json:"lastActivity"`
		}
		out := make([]sessionSummary, 0, len(snapshot))
		for _, s := range snapshot {
			out = append(out, sessionSummary{
				ID:                  s.ID,
				WorkingDirectory:    s.WorkingDirectory,
				ConversationStarted: s.ConversationStarted,
				LastActivity:        s.LastActivity.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}

		formatted, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			log.Error("failed to marshal session list", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal session list: %v", err)), nil
		}
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func getMessageHistoryHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if cfg.History == nil {
			return mcp.NewToolResultError("history persistence is disabled"), nil
		}
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		limit := 50
		if raw := req.GetString("limit", ""); raw != "" {
			var parsed int
			if _, scanErr := fmt.Sscanf(raw, "%d", &parsed); scanErr == nil && parsed > 0 {
				limit = parsed
			}
		}

		entries, err := cfg.History.List(ctx, sessionID, limit, 0)
		if err != nil {
			log.Error("failed to fetch message history", zap.Error(err), zap.String("session_id", sessionID))
			return mcp.NewToolResultError(fmt.Sprintf("failed to fetch message history: %v", err)), nil
		}

		formatted, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcp.NewToolResultText(string(formatted)), nil
	}
}
