package room

import (
	"sync"

	"codesync/api/internal/util"
)

// Message is one server to client event.
type Message struct {
	Event     string `json:"event"`
	ProjectID string `json:"projectId,omitempty"`
	Payload   any    `json:"payload"`
}

// Client is one connected session. Its outbound queue is drained by the
// transport's writer goroutine; the hub never writes to the network.
type Client struct {
	ID        string
	Principal string

	send   chan Message
	mu     sync.Mutex
	room   string
	closed bool
}

func NewClient(principal string, queue int) *Client {
	if queue <= 0 {
		queue = 1
	}
	return &Client{
		ID:        util.NewID("ses"),
		Principal: principal,
		send:      make(chan Message, queue),
	}
}

// Messages is closed once the client is disconnected.
func (c *Client) Messages() <-chan Message {
	return c.send
}

// Room returns the working room, or "" before the first join.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send queues a message for this client only. It reports false when the
// client is gone or its queue is full.
func (c *Client) Send(msg Message) bool {
	ok, _ := c.enqueue(msg)
	return ok
}

func (c *Client) enqueue(msg Message) (queued, overflow bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, false
	}
	select {
	case c.send <- msg:
		return true, false
	default:
		return false, true
	}
}

func (c *Client) setRoom(projectID string) (previous string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", false
	}
	previous = c.room
	c.room = projectID
	return previous, true
}

func (c *Client) clearRoom(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == projectID {
		c.room = ""
	}
}

// close marks the client closed and returns the room it was in. Only the
// first call reports true.
func (c *Client) close() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", false
	}
	c.closed = true
	close(c.send)
	room := c.room
	c.room = ""
	return room, true
}
