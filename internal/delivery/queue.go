// Package delivery implements the Delivery Queue: per-session,
// at-least-once, ordered delivery of outbound events with acknowledgement,
// TTL, and replay on resubscribe. The Connection Gateway owns which
// clients are live and subscribed; this package exclusively owns the
// queue of events themselves.
package delivery

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/internal/events"
)

// Sink delivers one event to one client; it reports whether the send
// actually reached the client (a live but momentarily backed-up connection
// may still fail).
type Sink func(clientID string, ev events.Event) bool

// queuedEvent is one event held for at-least-once, ordered delivery.
type queuedEvent struct {
	event       events.Event
	createdAt   time.Time
	ttl         time.Duration
	deliveredTo map[string]bool
}

// Queue holds every session's ordered list of undelivered events.
type Queue struct {
	mu            sync.Mutex
	bySession     map[string][]*queuedEvent
	defaultTTL    time.Duration
	maxPerSession int
	logger        *logger.Logger
}

// New creates a Queue. defaultTTL and maxPerSession come from
// QueueConfig (default 24h TTL; back-pressure bound on queue length).
func New(defaultTTL time.Duration, maxPerSession int, log *logger.Logger) *Queue {
	return &Queue{
		bySession:     make(map[string][]*queuedEvent),
		defaultTTL:    defaultTTL,
		maxPerSession: maxPerSession,
		logger:        log.WithFields(zap.String("component", "delivery")),
	}
}

// Enqueue delivers ev directly to every live, subscribed client for
// sessionID via send; if none are live it stores the event for later
// replay. liveClients is supplied by the caller (the Connection Gateway),
// which alone knows liveness and subscription.
func (q *Queue) Enqueue(sessionID string, ev events.Event, liveClients []string, send Sink) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.SessionID = sessionID

	if len(liveClients) > 0 {
		delivered := q.fanOutSend(ev, liveClients, send)
		if len(delivered) == len(liveClients) {
			return
		}
		// Partial delivery failure: fall through and store so the
		// clients that didn't get it can replay on resubscribe.
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.bySession[sessionID]
	if q.maxPerSession > 0 && len(queue) >= q.maxPerSession {
		// Make room for both the overflow notice and ev.
		dropped := len(queue) - q.maxPerSession + 2
		if dropped > len(queue) {
			dropped = len(queue)
		}
		queue = queue[dropped:]
		q.logger.Warn("delivery queue overflow, dropping oldest events",
			zap.String("session_id", sessionID), zap.Int("dropped", dropped))
		queue = append(queue, &queuedEvent{
			event:     events.New(sessionID, events.OutError, events.ErrorData{Code: "INTERNAL_ERROR", Message: "queue overflow"}),
			createdAt: time.Now(),
			ttl:       q.defaultTTL,
		})
	}

	queue = append(queue, &queuedEvent{
		event:       ev,
		createdAt:   time.Now(),
		ttl:         q.defaultTTL,
		deliveredTo: map[string]bool{},
	})
	q.bySession[sessionID] = queue
}

// fanOutSend delivers ev to every client in liveClients concurrently —
// each client's send goes over its own websocket connection, so one slow
// writer never holds up delivery to the rest — and returns the set that
// accepted it.
func (q *Queue) fanOutSend(ev events.Event, liveClients []string, send Sink) map[string]bool {
	delivered := make(map[string]bool, len(liveClients))
	var mu sync.Mutex

	var g errgroup.Group
	for _, clientID := range liveClients {
		clientID := clientID
		g.Go(func() error {
			if send(clientID, ev) {
				mu.Lock()
				delivered[clientID] = true
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return delivered
}

// DeliverQueued replays every un-expired queued event for sessionID to
// clientID, in enqueue order, marking each delivered on success.
func (q *Queue) DeliverQueued(sessionID, clientID string, send Sink) {
	q.mu.Lock()
	queue := append([]*queuedEvent(nil), q.bySession[sessionID]...)
	q.mu.Unlock()

	now := time.Now()
	for _, qe := range queue {
		if now.Sub(qe.createdAt) >= qe.ttl {
			continue
		}
		if send(clientID, qe.event) {
			q.mu.Lock()
			if qe.deliveredTo == nil {
				qe.deliveredTo = map[string]bool{}
			}
			qe.deliveredTo[clientID] = true
			q.mu.Unlock()
		}
	}
}

// Acknowledge marks the events named by eventIDs as acknowledged by
// clientID and removes them from the queue: at-least-once delivery means a
// single acknowledgement is sufficient.
func (q *Queue) Acknowledge(eventIDs []string, clientID string) {
	if len(eventIDs) == 0 {
		return
	}
	ids := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		ids[id] = true
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for sessionID, queue := range q.bySession {
		kept := queue[:0]
		for _, qe := range queue {
			if ids[qe.event.ID] {
				continue
			}
			kept = append(kept, qe)
		}
		q.bySession[sessionID] = kept
	}
}

// Expire drops every queued event whose TTL has elapsed.
func (q *Queue) Expire(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for sessionID, queue := range q.bySession {
		kept := queue[:0]
		for _, qe := range queue {
			if now.Sub(qe.createdAt) < qe.ttl {
				kept = append(kept, qe)
			}
		}
		if len(kept) == 0 {
			delete(q.bySession, sessionID)
		} else {
			q.bySession[sessionID] = kept
		}
	}
}

// Clear drops every queued event for sessionID, invoked by the
// `clearChat` message.
func (q *Queue) Clear(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.bySession, sessionID)
}

// Pending reports how many events are currently queued (undelivered or
// unacknowledged) for sessionID; the Session Manager consults this to skip
// a timeout sweep when messages are still queued.
func (q *Queue) Pending(sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bySession[sessionID])
}
