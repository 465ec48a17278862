// Package httpapi exposes the small read-only diagnostic HTTP surface
// alongside the WebSocket Connection Gateway: /healthz, /readyz, and
// /v1/sessions. It is a read-only session listing since the gateway's
// primary protocol is the WebSocket one, not REST.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/internal/session"
)

// Handler holds the collaborators the diagnostic routes read from.
type Handler struct {
	sessions *session.Manager
	logger   *logger.Logger
}

// NewHandler creates a Handler.
func NewHandler(sessions *session.Manager, log *logger.Logger) *Handler {
	return &Handler{sessions: sessions, logger: log.WithFields(zap.String("component", "httpapi"))}
}

// SetupRoutes registers the diagnostic routes on router.
func SetupRoutes(router *gin.Engine, h *Handler) {
	router.GET("/healthz", h.Healthz)
	router.GET("/readyz", h.Readyz)

	v1 := router.Group("/v1")
	{
		v1.GET("/sessions", h.ListSessions)
	}
}

// HealthzResponse is the /healthz payload.
type HealthzResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Healthz always reports healthy once the process is serving requests.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, HealthzResponse{Status: "healthy", Timestamp: time.Now()})
}

// ReadyzResponse is the /readyz payload.
type ReadyzResponse struct {
	Ready    bool `json:"ready"`
	Sessions int  `json:"sessions"`
}

// Readyz reports the current session count; ready is always true once the
// HTTP server is answering.
func (h *Handler) Readyz(c *gin.Context) {
	c.JSON(http.StatusOK, ReadyzResponse{Ready: true, Sessions: h.sessions.Count()})
}

// SessionSummary is one entry of the /v1/sessions listing.
type SessionSummary struct {
	ID                  string    `json:"id"`
	WorkingDirectory    string    `json:"workingDirectory"`
	ConversationStarted bool      `json:"conversationStarted"`
	CreatedAt           time.Time `json:"createdAt"`
	LastActivity        time.Time `json:"lastActivity"`
}

// SessionsListResponse is the /v1/sessions payload.
type SessionsListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
	Total    int              `json:"total"`
}

// ListSessions returns a read-only snapshot of every live session, for
// operator visibility only — it is never how a client drives a
// conversation (that is the WebSocket protocol).
func (h *Handler) ListSessions(c *gin.Context) {
	summaries := h.sessions.Snapshot()
	out := make([]SessionSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, SessionSummary{
			ID:                  s.ID,
			WorkingDirectory:    s.WorkingDirectory,
			ConversationStarted: s.ConversationStarted,
			CreatedAt:           s.CreatedAt,
			LastActivity:        s.LastActivity,
		})
	}
	c.JSON(http.StatusOK, SessionsListResponse{Sessions: out, Total: len(out)})
}
