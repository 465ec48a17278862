package orchestration

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/internal/delivery"
	"github.com/agentgate/agentgate/internal/events"
	"github.com/agentgate/agentgate/internal/events/bus"
	"github.com/agentgate/agentgate/internal/gateway"
	"github.com/agentgate/agentgate/internal/supervisor"
)

// HealthObserver implements supervisor.Observer: it turns Process
// Invocation lifecycle callbacks into a client-facing processHealth event
// (routed through the same Delivery Queue as every other outbound event)
// and mirrors it onto the internal lifecycle event bus so a multi-replica
// deployment could aggregate health across gateway instances. It is
// constructed independently of Orchestrator (which does not exist yet at
// supervisor construction time) and only needs the Delivery Queue and
// Connection Gateway it publishes through.
type HealthObserver struct {
	queue    *delivery.Queue
	gw       *gateway.Gateway
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewHealthObserver builds a HealthObserver. eventBus may be nil to skip
// the internal bus mirror (e.g. single-replica deployments with no NATS
// configured).
func NewHealthObserver(queue *delivery.Queue, gw *gateway.Gateway, eventBus bus.EventBus, log *logger.Logger) *HealthObserver {
	return &HealthObserver{
		queue:    queue,
		gw:       gw,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "health_observer")),
	}
}

func (h *HealthObserver) ProcessStarted(sessionID string, pid int) {
	h.logger.Debug("process started", zap.String("session_id", sessionID), zap.Int("pid", pid))
}

func (h *HealthObserver) ProcessStdout(sessionID string, chunk []byte) {
	h.logger.Debug("process stdout chunk", zap.String("session_id", sessionID), zap.Int("bytes", len(chunk)))
}

func (h *HealthObserver) ProcessStderr(sessionID string, chunk []byte) {
	h.logger.Debug("process stderr chunk", zap.String("session_id", sessionID), zap.Int("bytes", len(chunk)))
}

func (h *HealthObserver) ProcessExit(sessionID string, code int) {
	h.logger.Debug("process exited", zap.String("session_id", sessionID), zap.Int("exit_code", code))
}

func (h *HealthObserver) ProcessError(sessionID string, err error) {
	h.logger.Warn("process error", zap.String("session_id", sessionID), zap.Error(err))
}

// ProcessHealth publishes the periodic processHealth event to any
// subscribed client and mirrors it onto the internal bus.
func (h *HealthObserver) ProcessHealth(sessionID string, metrics supervisor.HealthMetrics) {
	PublishToClient(h.queue, h.gw, events.New(sessionID, events.OutProcessHealth, metrics))

	if h.eventBus != nil {
		busEvent := bus.NewEvent("processHealth", "agentgate", map[string]interface{}{
			"sessionId":       sessionID,
			"pid":             metrics.PID,
			"uptimeMs":        metrics.UptimeMS,
			"bytesRead":       metrics.BytesRead,
			"silenceElapsedMs": metrics.SilenceElapsed.Milliseconds(),
		})
		if err := h.eventBus.Publish(context.Background(), "agentgate.process.health", busEvent); err != nil {
			h.logger.Warn("failed to publish processHealth to event bus", zap.Error(err))
		}
	}
}

// PublishToClient routes one event through the Delivery Queue exactly like
// Orchestrator.publish, for callers constructed before the Orchestrator
// itself exists (the Session Manager's emit callback, the Process
// Supervisor's health observer).
func PublishToClient(queue *delivery.Queue, gw *gateway.Gateway, ev events.Event) {
	live := gw.LiveSubscribers(ev.SessionID)
	queue.Enqueue(ev.SessionID, ev, live, gw.Send)
}
