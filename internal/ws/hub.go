package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"storefront-chat/internal/models"
	"storefront-chat/internal/observability"
	"storefront-chat/internal/presence"
)

// EventPublisher receives connection lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

const wsRoutingKey = "ws_events.chats"

// Hub tracks live connections by id, by user and by joined thread.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	byUser   map[int]map[string]*Client
	threads  map[int]map[string]*Client
	presence *presence.Registry
	events   EventPublisher
}

// NewHub creates an empty hub backed by the presence registry.
func NewHub(registry *presence.Registry, events EventPublisher) *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		byUser:   make(map[int]map[string]*Client),
		threads:  make(map[int]map[string]*Client),
		presence: registry,
		events:   events,
	}
}

// Register adds an unauthenticated connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	observability.IncWSActive()
	h.publishLifecycle(c, c.info, "ws_connect", "")
}

// Authenticate binds the connection to userID and broadcasts presence when the user comes online.
// A connection authenticates once; later calls are ignored.
func (h *Hub) Authenticate(c *Client, userID int) bool {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok || c.userID != 0 {
		h.mu.Unlock()
		return false
	}
	c.userID = userID
	c.info.UserID = userID
	set, ok := h.byUser[userID]
	if !ok {
		set = make(map[string]*Client)
		h.byUser[userID] = set
	}
	set[c.id] = c
	h.mu.Unlock()

	if h.presence.Attach(userID, c.id) {
		observability.SetOnlineUsers(len(h.presence.OnlineUsers()))
		h.BroadcastAll(models.NewPresenceEvent(userID, true))
	}
	return true
}

// Unregister removes the connection from every group and closes its send queue.
func (h *Hub) Unregister(c *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	userID := c.userID
	info := c.info
	if set, ok := h.byUser[userID]; ok {
		delete(set, c.id)
		if len(set) == 0 {
			delete(h.byUser, userID)
		}
	}
	for threadID := range c.joined {
		if members, ok := h.threads[threadID]; ok {
			delete(members, c.id)
			if len(members) == 0 {
				delete(h.threads, threadID)
			}
		}
	}
	c.joined = nil
	c.closeSend()
	h.mu.Unlock()

	observability.DecWSActive()
	h.publishLifecycle(c, info, "ws_disconnect", reason)

	if userID != 0 && h.presence.Detach(userID, c.id) {
		observability.SetOnlineUsers(len(h.presence.OnlineUsers()))
		h.BroadcastAll(models.NewPresenceEvent(userID, false))
	}
}

// JoinThread adds the connection to the thread's group.
func (h *Hub) JoinThread(c *Client, threadID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	members, ok := h.threads[threadID]
	if !ok {
		members = make(map[string]*Client)
		h.threads[threadID] = members
	}
	members[c.id] = c
	if c.joined == nil {
		c.joined = make(map[int]struct{})
	}
	c.joined[threadID] = struct{}{}
}

// LeaveThread removes the connection from the thread's group.
func (h *Hub) LeaveThread(c *Client, threadID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.threads[threadID]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.threads, threadID)
		}
	}
	delete(c.joined, threadID)
}

// DropThread removes every connection from the thread's group. Used when the thread is deleted.
func (h *Hub) DropThread(threadID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.threads[threadID] {
		delete(c.joined, threadID)
	}
	delete(h.threads, threadID)
}

// InThread reports whether the connection joined the thread.
func (h *Hub) InThread(c *Client, threadID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.joined[threadID]
	return ok
}

// SendToUser queues event on every connection of userID and returns how many accepted it.
func (h *Hub) SendToUser(userID int, event models.Event) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.byUser[userID]))
	for _, c := range h.byUser[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	return h.deliver(targets, event)
}

// BroadcastThread queues event on the thread's group, skipping the connection exceptConnID.
func (h *Hub) BroadcastThread(threadID int, event models.Event, exceptConnID string) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.threads[threadID]))
	for id, c := range h.threads[threadID] {
		if id != exceptConnID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	return h.deliver(targets, event)
}

// BroadcastAll queues event on every authenticated connection.
func (h *Hub) BroadcastAll(event models.Event) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.userID != 0 {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	return h.deliver(targets, event)
}

// Shutdown closes every connection and clears presence.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.Unregister(c, "server shutdown")
	}
	h.presence.Clear()
}

// Stats is a snapshot for debug routes.
type Stats struct {
	Connections int   `json:"connections"`
	OnlineUsers []int `json:"online_users"`
	Threads     int   `json:"threads"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Connections: len(h.clients),
		OnlineUsers: h.presence.OnlineUsers(),
		Threads:     len(h.threads),
	}
}

func (h *Hub) deliver(targets []*Client, event models.Event) int {
	if len(targets) == 0 {
		return 0
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", string(event.Type)).Msg("encode realtime event")
		return 0
	}
	sent := 0
	for _, c := range targets {
		if c.enqueue(payload) {
			sent++
			observability.IncPush(string(event.Type), "sent")
			continue
		}
		observability.IncPush(string(event.Type), "dropped")
		log.Warn().Str("conn_id", c.id).Str("event", string(event.Type)).Msg("send buffer full, push dropped")
	}
	return sent
}

func (h *Hub) publishLifecycle(c *Client, info ConnInfo, event, reason string) {
	observability.IncWSEvent(event)
	if h.events == nil {
		return
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	if err := h.events.Publish(c.ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}); err != nil {
		observability.IncAMQPPublishError()
	}
}
