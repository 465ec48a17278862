// Package gateway implements the Connection Gateway: per-client connection
// state, subscriptions, ping/pong liveness, and message dispatch. Client
// state is mutated only by the Gateway task bound to that client; Sessions
// hold only client-ids, never references.
//
// The read/write pump shape follows a hub/task-id subscription model,
// generalized to the gateway's richer envelope ({type, requestId, data})
// and per-session/per-event-kind subscriptions.
package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/internal/events"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1024 * 1024
	sendBufferSize = 256
)

// Handler processes one inbound envelope from a client. Registered once by
// the Orchestration Layer.
type Handler func(ctx context.Context, clientID string, msg events.Inbound)

// Client is one Connection Gateway client.
type Client struct {
	ID          string
	conn        *websocket.Conn
	send        chan []byte
	gateway     *Gateway
	logger      *logger.Logger

	mu            sync.Mutex
	subscriptions map[string]bool // event kinds; empty set means "all"
	sessionIDs    map[string]bool
	lastActivity  time.Time
	gotPong       bool
	deviceToken   string
}

// SubscribedTo reports whether the client subscribed to sessionID.
func (c *Client) SubscribedTo(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionIDs[sessionID]
}

// WantsEventKind reports whether the client's subscription set includes
// kind (an empty subscription set means every kind).
func (c *Client) WantsEventKind(kind string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[kind]
}

func (c *Client) addSubscription(kinds, sessionIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range kinds {
		c.subscriptions[k] = true
	}
	for _, s := range sessionIDs {
		c.sessionIDs[s] = true
	}
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Client) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

// enqueue queues a framed message, non-blocking; returns false if the
// client's outbound buffer is full (the caller — typically the Delivery
// Queue — should then store the event rather than drop it).
func (c *Client) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Gateway owns every live Client.
type Gateway struct {
	mu      sync.Mutex
	clients map[string]*Client

	pingInterval   time.Duration
	activityExempt time.Duration
	handler        Handler
	logger         *logger.Logger
}

// New creates a Gateway. pingInterval/activityExempt come from PingConfig
// (default 15s / 30s).
func New(pingInterval, activityExempt time.Duration, log *logger.Logger) *Gateway {
	if pingInterval <= 0 {
		pingInterval = 15 * time.Second
	}
	if activityExempt <= 0 {
		activityExempt = 30 * time.Second
	}
	return &Gateway{
		clients:        make(map[string]*Client),
		pingInterval:   pingInterval,
		activityExempt: activityExempt,
		logger:         log.WithFields(zap.String("component", "gateway")),
	}
}

// SetHandler registers the Orchestration Layer's dispatch function.
func (g *Gateway) SetHandler(h Handler) { g.handler = h }

// WelcomeData is the payload of the `welcome` event sent on accept.
type WelcomeData struct {
	ClientID      string   `json:"clientId"`
	ServerVersion string   `json:"serverVersion"`
	Capabilities  []string `json:"capabilities"`
	MaxSessions   int      `json:"maxSessions"`
}

// Accept registers conn as a new Client, sends `welcome`, and starts its
// read/write pumps and ping loop. It returns once the client has
// disconnected (call it in its own goroutine per accepted connection).
func (g *Gateway) Accept(ctx context.Context, conn *websocket.Conn, welcome WelcomeData) {
	client := &Client{
		ID:            uuid.New().String(),
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		gateway:       g,
		subscriptions: make(map[string]bool),
		sessionIDs:    make(map[string]bool),
		lastActivity:  time.Now(),
		gotPong:       true,
		logger:        g.logger.WithClientID(welcome.ClientID),
	}
	welcome.ClientID = client.ID
	client.logger = g.logger.WithClientID(client.ID)

	g.mu.Lock()
	g.clients[client.ID] = client
	g.mu.Unlock()

	g.send(client, events.New("", events.OutWelcome, welcome))

	done := make(chan struct{})
	go func() {
		client.writePump(g.pingInterval)
		close(done)
	}()
	client.readPump(ctx, g)

	g.Unregister(client.ID)
	<-done
}

// Unregister removes a client's state on disconnect. Sessions are
// preserved; only the client-side state is released.
func (g *Gateway) Unregister(clientID string) {
	g.mu.Lock()
	client, ok := g.clients[clientID]
	if ok {
		delete(g.clients, clientID)
	}
	g.mu.Unlock()
	if ok {
		close(client.send)
		client.conn.Close()
	}
}

// LiveSubscribers returns the ids of every live client subscribed to
// sessionID, for the Delivery Queue's direct-delivery fast path.
func (g *Gateway) LiveSubscribers(sessionID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []string
	for id, c := range g.clients {
		if c.SubscribedTo(sessionID) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Send delivers ev to clientID if it is live and subscribed to the event's
// kind; returns false if the client is unknown or its send buffer is full.
func (g *Gateway) Send(clientID string, ev events.Event) bool {
	g.mu.Lock()
	client, ok := g.clients[clientID]
	g.mu.Unlock()
	if !ok {
		return false
	}
	if ev.SessionID != "" && !client.WantsEventKind(ev.Type) {
		return true
	}
	return g.send(client, ev)
}

func (g *Gateway) send(client *Client, ev events.Event) bool {
	payload, err := json.Marshal(ev)
	if err != nil {
		g.logger.Error("failed to marshal outbound event", zap.Error(err))
		return false
	}
	return client.enqueue(payload)
}

// Subscribe records clientID's interest in event kinds and session ids.
func (g *Gateway) Subscribe(clientID string, kinds, sessionIDs []string) {
	g.mu.Lock()
	client, ok := g.clients[clientID]
	g.mu.Unlock()
	if !ok {
		return
	}
	client.addSubscription(kinds, sessionIDs)
}

// readPump reads inbound envelopes until the connection fails and
// dispatches each to the Handler; its pong handler records liveness for
// the ping cycle that writePump runs.
func (c *Client) readPump(ctx context.Context, g *Gateway) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.gotPong = true
		c.mu.Unlock()
		c.touch()
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()

		var env struct {
			Type      string          `json:"type"`
			RequestID string          `json:"requestId"`
			Data      json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Warn("invalid inbound envelope", zap.Error(err))
			continue
		}

		if g.handler != nil {
			g.handler(ctx, c.ID, events.Inbound{Type: env.Type, RequestID: env.RequestID, Data: env.Data})
		}
	}
}

func (c *Client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.mu.Lock()
			exempt := time.Since(c.lastActivity) < c.gateway.activityExempt
			hadPong := c.gotPong
			c.gotPong = false
			c.mu.Unlock()

			if !hadPong && !exempt {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
