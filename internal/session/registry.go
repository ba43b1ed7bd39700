package session

import (
	"context"
	"sync"
	"time"
)

// Participant is the identity registered for a live connection.
type Participant struct {
	ConnectionID string
	Username     string
	Rooms        map[string]struct{}
}

type snapshotEntry struct {
	content string
	// emptiedAt is set when the room loses its last participant and
	// cleared again on the next join. Zero while the room is occupied.
	emptiedAt time.Time
}

// Registry owns participant identities and the authoritative buffer
// snapshot per room. One instance per process, shared by every
// connection handler, so all access goes through the mutex.
type Registry struct {
	mu           sync.RWMutex
	participants map[string]*Participant
	snapshots    map[string]*snapshotEntry
	idleTTL      time.Duration
}

// DefaultIdleTTL bounds how long an empty room's snapshot survives
// before the sweeper evicts it.
const DefaultIdleTTL = 10 * time.Minute

func NewRegistry(idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Registry{
		participants: make(map[string]*Participant),
		snapshots:    make(map[string]*snapshotEntry),
		idleTTL:      idleTTL,
	}
}

// RegisterParticipant inserts or overwrites the identity mapping for a
// connection. A reconnect under a new connection ID is simply a fresh
// participant; registering the same connection twice overwrites.
func (r *Registry) RegisterParticipant(connID, roomID, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[connID]
	if !ok {
		p = &Participant{ConnectionID: connID, Rooms: make(map[string]struct{})}
		r.participants[connID] = p
	}
	p.Username = username
	p.Rooms[roomID] = struct{}{}
	if e, ok := r.snapshots[roomID]; ok {
		e.emptiedAt = time.Time{}
	}
}

// RemoveParticipant deletes the identity mapping. No-op if absent.
func (r *Registry) RemoveParticipant(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, connID)
}

// Participant returns the registered identity for a connection.
func (r *Registry) Participant(connID string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[connID]
	if !ok {
		return Participant{}, false
	}
	return Participant{ConnectionID: p.ConnectionID, Username: p.Username}, true
}

// Username returns the display name registered for a connection, or ""
// if the connection is unknown.
func (r *Registry) Username(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.participants[connID]; ok {
		return p.Username
	}
	return ""
}

// MemberOf reports whether a connection has joined the given room.
func (r *Registry) MemberOf(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[connID]
	if !ok {
		return false
	}
	_, ok = p.Rooms[roomID]
	return ok
}

// RoomsOf returns every room the connection currently belongs to.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[connID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(p.Rooms))
	for id := range p.Rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

// Snapshot reads the authoritative buffer content for a room.
func (r *Registry) Snapshot(roomID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.snapshots[roomID]
	if !ok {
		return "", false
	}
	return e.content, true
}

// SetSnapshot overwrites the room snapshot unconditionally: the most
// recent edit accepted by the server wins, earlier concurrent edits are
// silently discarded.
func (r *Registry) SetSnapshot(roomID, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.snapshots[roomID]
	if !ok {
		e = &snapshotEntry{}
		r.snapshots[roomID] = e
	}
	e.content = content
}

// MarkRoomEmpty records that the room has lost its last participant.
// The snapshot stays readable until the idle TTL expires, so a client
// racing back into a just-vacated room still finds it.
func (r *Registry) MarkRoomEmpty(roomID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.snapshots[roomID]; ok {
		e.emptiedAt = now
	}
}

// SweepIdle evicts snapshots of rooms that have been empty longer than
// the idle TTL. Returns the number of evicted rooms.
func (r *Registry) SweepIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for roomID, e := range r.snapshots {
		if !e.emptiedAt.IsZero() && now.Sub(e.emptiedAt) >= r.idleTTL {
			delete(r.snapshots, roomID)
			evicted++
		}
	}
	return evicted
}

// StartSweeper runs SweepIdle on a fixed interval until the context is
// cancelled.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.SweepIdle(now)
		}
	}
}
