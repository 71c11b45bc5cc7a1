// Package realtime fans verification, fraud, and session lifecycle events
// out to connected websocket clients grouped by user, role, session, and
// course.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/campuskit/checkpoint/internal/metrics"
)

// set is a connection-ID set used by the group indexes.
type set map[string]struct{}

func (s set) add(id string)    { s[id] = struct{}{} }
func (s set) remove(id string) { delete(s, id) }

// Hub owns the connection registry and the group indexes. Producers call
// Publish, which never blocks: events queue on a buffered channel and are
// dropped (and counted) when the queue is full.
type Hub struct {
	logger *slog.Logger

	events     chan Event
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}

	mu sync.RWMutex
	// Connection registry: connection ID -> client. The group maps below
	// are indexes into this registry and hold connection IDs only, so
	// disconnect cleanup is a removal from each index plus the registry.
	conns    map[string]*Client
	users    map[string]set
	roles    map[string]set
	sessions map[string]set
	courses  map[string]set

	heartbeatInterval time.Duration
	dropped           int64
}

// NewHub creates a hub; call Run on its own goroutine.
func NewHub(heartbeatInterval time.Duration, logger *slog.Logger) *Hub {
	return &Hub{
		logger:            logger,
		events:            make(chan Event, 256),
		register:          make(chan *Client),
		unregister:        make(chan *Client),
		stopped:           make(chan struct{}),
		conns:             make(map[string]*Client),
		users:             make(map[string]set),
		roles:             make(map[string]set),
		sessions:          make(map[string]set),
		courses:           make(map[string]set),
		heartbeatInterval: heartbeatInterval,
	}
}

// Run processes registrations and event fan-out until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case event := <-h.events:
			h.fanOut(event)
		case <-ticker.C:
			h.fanOutHeartbeat()
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Publish hands an event to the hub without blocking the producer.
func (h *Hub) Publish(event Event) {
	select {
	case h.events <- event:
	default:
		h.mu.Lock()
		h.dropped++
		dropped := h.dropped
		h.mu.Unlock()
		h.logger.Warn("event queue full, dropping event",
			slog.String("event_type", string(event.Type)),
			slog.Int64("dropped_total", dropped),
		)
	}
}

// Stats is a snapshot of the connection registry for the heartbeat and
// the metrics collector.
type Stats struct {
	Total         int
	Authenticated int
	PerSession    map[string]int
	PerUser       map[string]int
}

func (h *Hub) ConnectionStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		Total:      len(h.conns),
		PerSession: make(map[string]int, len(h.sessions)),
		PerUser:    make(map[string]int, len(h.users)),
	}
	for _, c := range h.conns {
		if c.UserID() != "" {
			stats.Authenticated++
		}
	}
	for sessionID, conns := range h.sessions {
		stats.PerSession[sessionID] = len(conns)
	}
	for userID, conns := range h.users {
		stats.PerUser[userID] = len(conns)
	}
	return stats
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	h.logger.Info("websocket client connected", slog.String("conn_id", c.id))
}

// removeClient drops the connection from the registry and every group
// index; membership cannot drift because the indexes are only mutated
// here and in the subscribe methods.
func (h *Hub) removeClient(c *Client) {
	userID, role := c.identity()

	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.id)
	h.dropFromIndex(h.users, userID, c.id)
	h.dropFromIndex(h.roles, role, c.id)
	for sessionID := range c.sessions {
		h.dropFromIndex(h.sessions, sessionID, c.id)
	}
	for courseID := range c.courses {
		h.dropFromIndex(h.courses, courseID, c.id)
	}
	h.mu.Unlock()

	metrics.WSConnections.Dec()
	c.close()
	h.logger.Info("websocket client disconnected", slog.String("conn_id", c.id))
}

func (h *Hub) dropFromIndex(index map[string]set, key, connID string) {
	if key == "" {
		return
	}
	if members, ok := index[key]; ok {
		members.remove(connID)
		if len(members) == 0 {
			delete(index, key)
		}
	}
}

// authenticate binds a connection to a user and role after its JWT checks
// out.
func (h *Hub) authenticate(c *Client, userID, role string) {
	c.setIdentity(userID, role)

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.users[userID]; !ok {
		h.users[userID] = make(set)
	}
	h.users[userID].add(c.id)

	if role != "" {
		if _, ok := h.roles[role]; !ok {
			h.roles[role] = make(set)
		}
		h.roles[role].add(c.id)
	}
}

func (h *Hub) joinSession(c *Client, sessionID, courseID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.sessions[sessionID] = struct{}{}
	if _, ok := h.sessions[sessionID]; !ok {
		h.sessions[sessionID] = make(set)
	}
	h.sessions[sessionID].add(c.id)

	if courseID != "" {
		c.courses[courseID] = struct{}{}
		if _, ok := h.courses[courseID]; !ok {
			h.courses[courseID] = make(set)
		}
		h.courses[courseID].add(c.id)
	}
}

func (h *Hub) leaveSession(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(c.sessions, sessionID)
	h.dropFromIndex(h.sessions, sessionID, c.id)
}

// fanOut resolves an event's target groups to the union of their
// connections and writes to each once.
func (h *Hub) fanOut(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode event", slog.String("event_type", string(event.Type)), slog.Any("error", err))
		return
	}

	h.mu.RLock()
	recipients := make(map[string]*Client)
	h.collect(recipients, h.sessions, event.targets.SessionID)
	h.collect(recipients, h.courses, event.targets.CourseID)
	h.collect(recipients, h.users, event.targets.UserID)
	h.collect(recipients, h.roles, event.targets.Role)
	h.mu.RUnlock()

	for _, c := range recipients {
		c.send(data)
	}
}

func (h *Hub) collect(recipients map[string]*Client, index map[string]set, key string) {
	if key == "" {
		return
	}
	for connID := range index[key] {
		if c, ok := h.conns[connID]; ok {
			recipients[connID] = c
		}
	}
}

// fanOutHeartbeat broadcasts connection statistics to every client.
func (h *Hub) fanOutHeartbeat() {
	stats := h.ConnectionStats()

	event := newEvent(EventHealthCheck, HeartbeatPayload{
		TotalConnections:         stats.Total,
		AuthenticatedConnections: stats.Authenticated,
		SessionConnections:       stats.PerSession,
		UserConnections:          stats.PerUser,
	}, Targets{})

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.send(data)
	}
}

// closeAll stops every client and marks the hub stopped so read pumps
// still unwinding do not block on the unregister channel.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	close(h.stopped)
	for id, c := range h.conns {
		c.close()
		delete(h.conns, id)
	}
	metrics.WSConnections.Set(0)
}
