// Package room maps projects to the sessions subscribed to them and fans
// events out to those sessions.
package room

import (
	"log"
	"sort"
	"sync"

	"codesync/api/internal/metrics"
)

// Relay forwards room events to other server instances.
type Relay interface {
	Publish(projectID string, msg Message, excludeSessionID string)
}

type roomSet struct {
	mu      sync.Mutex
	members map[string]*Client
	dead    bool
}

// Hub is the process-wide room registry. Create one at server start, inject
// it where needed and Close it at shutdown.
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]*roomSet
	clients map[string]*Client
	relay   Relay
	closed  bool
}

func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]*roomSet),
		clients: make(map[string]*Client),
	}
}

// SetRelay must be called before the hub serves traffic.
func (h *Hub) SetRelay(relay Relay) {
	h.relay = relay
}

// Register tracks a connected client so Close can disconnect it.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.ID] = c
	metrics.Sessions.Inc()
	return true
}

// Join makes projectID the client's working room, leaving the previous one.
func (h *Hub) Join(c *Client, projectID string) {
	previous, ok := c.setRoom(projectID)
	if !ok {
		return
	}
	if previous != "" && previous != projectID {
		h.remove(c, previous)
	}
	h.add(c, projectID)
	if c.Closed() {
		h.remove(c, projectID)
	}
}

func (h *Hub) Leave(c *Client, projectID string) {
	c.clearRoom(projectID)
	h.remove(c, projectID)
}

// Disconnect removes the client from every room and closes its queue.
func (h *Hub) Disconnect(c *Client) {
	room, ok := c.close()
	if !ok {
		return
	}
	if room != "" {
		h.remove(c, room)
	}
	h.mu.Lock()
	if _, tracked := h.clients[c.ID]; tracked {
		delete(h.clients, c.ID)
		metrics.Sessions.Dec()
	}
	h.mu.Unlock()
}

// Members returns the session IDs joined to projectID, sorted.
func (h *Hub) Members(projectID string) []string {
	h.mu.Lock()
	r := h.rooms[projectID]
	h.mu.Unlock()
	if r == nil {
		return nil
	}
	r.mu.Lock()
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Broadcast queues payload for every member of projectID except
// excludeSessionID. An unknown or empty room is a no-op. It never blocks on
// the network, so callers may hold a project lock while calling it.
func (h *Hub) Broadcast(projectID, event string, payload any, excludeSessionID string) {
	metrics.Broadcasts.WithLabelValues(event).Inc()
	msg := Message{Event: event, ProjectID: projectID, Payload: payload}
	h.DeliverLocal(projectID, msg, excludeSessionID)
	if h.relay != nil {
		h.relay.Publish(projectID, msg, excludeSessionID)
	}
}

// DeliverLocal fans msg out to this instance's members only.
func (h *Hub) DeliverLocal(projectID string, msg Message, excludeSessionID string) {
	h.mu.Lock()
	r := h.rooms[projectID]
	h.mu.Unlock()
	if r == nil {
		return
	}

	var evicted []*Client
	// the room lock is held across the whole fan-out so every member sees
	// broadcasts to this room in the same order
	r.mu.Lock()
	for id, member := range r.members {
		if id == excludeSessionID {
			continue
		}
		queued, overflow := member.enqueue(msg)
		if queued {
			metrics.Deliveries.Inc()
		}
		if overflow {
			evicted = append(evicted, member)
		}
	}
	r.mu.Unlock()

	for _, member := range evicted {
		log.Printf("room: evicting slow session %s from %s", member.ID, projectID)
		metrics.Evictions.Inc()
		h.Disconnect(member)
	}
}

// Close disconnects every client. Later registrations are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.Disconnect(c)
	}
}

func (h *Hub) add(c *Client, projectID string) {
	for {
		h.mu.Lock()
		r, ok := h.rooms[projectID]
		if !ok {
			r = &roomSet{members: make(map[string]*Client)}
			h.rooms[projectID] = r
			metrics.Rooms.Inc()
		}
		h.mu.Unlock()

		r.mu.Lock()
		if r.dead {
			// emptied and dropped between the lookup and the lock
			r.mu.Unlock()
			continue
		}
		r.members[c.ID] = c
		r.mu.Unlock()
		return
	}
}

func (h *Hub) remove(c *Client, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[projectID]
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, c.ID)
	if len(r.members) == 0 {
		r.dead = true
		delete(h.rooms, projectID)
		metrics.Rooms.Dec()
	}
}
