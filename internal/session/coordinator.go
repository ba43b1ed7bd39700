package session

import (
	"sort"
	"time"

	"codesync/internal/models"
)

// Coordinator drives room membership: it registers identities in the
// Registry, places connections into Hub rooms, computes rosters, and
// performs the atomic teardown when a connection goes away.
type Coordinator struct {
	hub      *Hub
	registry *Registry
}

func NewCoordinator(hub *Hub, registry *Registry) *Coordinator {
	return &Coordinator{hub: hub, registry: registry}
}

func (co *Coordinator) Hub() *Hub           { return co.hub }
func (co *Coordinator) Registry() *Registry { return co.registry }

// Join registers the participant and adds its connection to the room,
// returning the resulting roster for fan-out. Calling Join twice for
// the same connection and room overwrites instead of duplicating.
// When the room has a snapshot and seed is non-nil, the frame seed
// builds from it goes to the joiner under the room lock, ordered
// against concurrent edit fan-outs.
func (co *Coordinator) Join(c *Client, roomID, username string, seed func(content string) models.WSFrame) []models.ClientInfo {
	co.registry.RegisterParticipant(c.ID, roomID, username)
	room := co.hub.GetOrCreate(roomID)
	room.JoinSync(c, func() (models.WSFrame, bool) {
		if seed == nil {
			return models.WSFrame{}, false
		}
		content, ok := co.registry.Snapshot(roomID)
		if !ok {
			return models.WSFrame{}, false
		}
		return seed(content), true
	})
	return co.Roster(roomID)
}

// ApplyEdit records content as the room's authoritative snapshot and
// fans the frame out to every member but the sender. Snapshot write
// and fan-out happen under the room lock, so two concurrent edits
// cannot leave peers holding an edit older than the snapshot. The
// second return reports whether a room existed to relay into.
func (co *Coordinator) ApplyEdit(senderID, roomID, content string, frame models.WSFrame) (int, bool) {
	room, ok := co.hub.Get(roomID)
	if !ok {
		co.registry.SetSnapshot(roomID, content)
		return 0, false
	}
	failed := room.ApplyEdit(senderID, frame, func() {
		co.registry.SetSnapshot(roomID, content)
	})
	return failed, true
}

// Roster returns the live membership of a room, each connection
// decorated with its registered display name. Sorted by connection ID
// so repeated calls are stable.
func (co *Coordinator) Roster(roomID string) []models.ClientInfo {
	room, ok := co.hub.Get(roomID)
	if !ok {
		return []models.ClientInfo{}
	}
	ids := room.ConnectionIDs()
	sort.Strings(ids)
	roster := make([]models.ClientInfo, 0, len(ids))
	for _, id := range ids {
		roster = append(roster, models.ClientInfo{
			ConnectionID: id,
			Username:     co.registry.Username(id),
		})
	}
	return roster
}

// Departure describes one room a departing connection belonged to,
// captured before the identity mapping is deleted so the remaining
// members can still be notified.
type Departure struct {
	Room   *Room
	Notice models.DisconnectedEvent
}

// Leave tears down a connection: it removes it from every room it
// belonged to, deletes now-empty rooms from the hub (marking their
// snapshots for the idle sweep), and finally deletes the identity
// mapping. The returned departures carry one disconnection notice per
// affected room.
func (co *Coordinator) Leave(connID string) []Departure {
	username := co.registry.Username(connID)
	departures := make([]Departure, 0, 1)
	for _, roomID := range co.registry.RoomsOf(connID) {
		room, ok := co.hub.Get(roomID)
		if !ok {
			continue
		}
		if left := room.Leave(connID); left == 0 {
			co.hub.Delete(roomID)
			co.registry.MarkRoomEmpty(roomID, time.Now())
		}
		departures = append(departures, Departure{
			Room: room,
			Notice: models.DisconnectedEvent{
				ConnectionID: connID,
				Username:     username,
			},
		})
	}
	co.registry.RemoveParticipant(connID)
	return departures
}
