package session

import (
	"sync"
	"time"

	"codesync/internal/models"
)

// Room groups the live connections collaborating on one shared buffer.
// The authoritative buffer content itself lives in the Registry; the
// room only tracks transport-level membership.
type Room struct {
	ID      string
	mu      sync.Mutex
	clients map[string]*Client
	joined  map[string]time.Time
}

func NewRoom(id string) *Room {
	return &Room{
		ID:      id,
		clients: make(map[string]*Client),
		joined:  make(map[string]time.Time),
	}
}

// Join adds a connection to the room. Joining twice overwrites rather
// than duplicates, so a rejoin is idempotent.
func (r *Room) Join(c *Client) {
	r.JoinSync(c, nil)
}

// JoinSync adds the connection and delivers its seed frame in one step
// under the room lock. An edit fan-out therefore lands either entirely
// before the seed is computed or entirely after it is delivered; the
// joiner can never receive a seed older than an edit it already has.
func (r *Room) JoinSync(c *Client, seed func() (models.WSFrame, bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID] = c
	r.joined[c.ID] = time.Now()
	if seed == nil {
		return
	}
	if frame, ok := seed(); ok {
		_ = c.Send(frame)
	}
}

// ApplyEdit runs commit and then fans the frame out to every member
// except the sender, all under the room lock. Concurrent edits commit
// and broadcast in the same order, so the last frame peers receive is
// always the committed content.
func (r *Room) ApplyEdit(senderID string, frame models.WSFrame, commit func()) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	commit()
	failed := 0
	for id, c := range r.clients {
		if id == senderID {
			continue
		}
		if err := c.Send(frame); err != nil {
			failed++
		}
	}
	return failed
}

func (r *Room) Leave(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	delete(r.joined, connID)
	return len(r.clients)
}

func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Client looks up a member connection by ID.
func (r *Room) Client(connID string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[connID]
	return c, ok
}

// JoinedAt returns when the connection joined this room.
func (r *Room) JoinedAt(connID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.joined[connID]
	return t, ok
}

// ConnectionIDs returns the IDs of all current members.
func (r *Room) ConnectionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}

// Broadcast delivers a frame to every member except the one named by
// exceptID. Send failures are isolated per recipient; the failed count
// comes back for observability.
func (r *Room) Broadcast(exceptID string, frame models.WSFrame) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	failed := 0
	for id, c := range r.clients {
		if id == exceptID {
			continue
		}
		if err := c.Send(frame); err != nil {
			failed++
		}
	}
	return failed
}

// BroadcastAll delivers a frame to every member including the sender.
func (r *Room) BroadcastAll(frame models.WSFrame) int {
	return r.Broadcast("", frame)
}
