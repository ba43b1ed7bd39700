package client

import (
	"encoding/json"
	"sync"
	"time"

	"codesync/internal/models"
)

// Origin tags a buffer mutation with where it came from. Remote
// mutations never schedule a transmission, which is what breaks the
// echo loop on the client side without any timing dependency.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

const defaultDebounce = 300 * time.Millisecond

// Emitter sends protocol frames upstream.
type Emitter interface {
	Emit(frame models.WSFrame) error
}

// Editor is the headless reconciliation engine behind an editing
// surface: it owns the local view of the shared buffer, debounces
// outbound edits, and applies remote updates without re-broadcasting
// them.
type Editor struct {
	mu         sync.Mutex
	emitter    Emitter
	roomID     string
	username   string
	buffer     string
	debounce   *time.Timer
	delay      time.Duration
	onApply    func(content string)
	onRoster   func(models.JoinedEvent)
	onPeerLeft func(models.DisconnectedEvent)
}

type Option func(*Editor)

// WithDebounce overrides the outbound debounce window.
func WithDebounce(d time.Duration) Option { return func(e *Editor) { e.delay = d } }

// WithApplyFunc registers the callback that pushes remotely applied
// content into the editing surface.
func WithApplyFunc(fn func(string)) Option { return func(e *Editor) { e.onApply = fn } }

func WithRosterFunc(fn func(models.JoinedEvent)) Option {
	return func(e *Editor) { e.onRoster = fn }
}

func WithPeerLeftFunc(fn func(models.DisconnectedEvent)) Option {
	return func(e *Editor) { e.onPeerLeft = fn }
}

func NewEditor(em Emitter, roomID, username string, opts ...Option) *Editor {
	e := &Editor{
		emitter:  em,
		roomID:   roomID,
		username: username,
		delay:    defaultDebounce,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Editor) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer
}

// SetText records a buffer mutation. A local mutation restarts the
// debounce window, so only the last content within an idle window is
// transmitted. A remote mutation updates the buffer and the editing
// surface and cancels any pending transmission: the pending local
// content was just superseded, re-sending it would echo the remote
// edit back.
func (e *Editor) SetText(content string, origin Origin) {
	e.mu.Lock()
	if origin == OriginRemote && content == e.buffer {
		// Identical content: skip, keeps the cursor where it is.
		e.mu.Unlock()
		return
	}
	e.buffer = content
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	if origin == OriginLocal {
		e.debounce = time.AfterFunc(e.delay, e.flush)
	}
	onApply := e.onApply
	e.mu.Unlock()

	if origin == OriginRemote && onApply != nil {
		onApply(content)
	}
}

func (e *Editor) flush() {
	e.mu.Lock()
	content := e.buffer
	e.mu.Unlock()
	_ = e.emitter.Emit(models.WSFrame{
		Type: "edit",
		Data: models.EditEvent{RoomID: e.roomID, Content: content},
	})
}

// Join announces this participant to the room. The server treats a
// repeated join as idempotent, so it is also safe after a reconnect.
func (e *Editor) Join() error {
	return e.emitter.Emit(models.WSFrame{
		Type: "join",
		Data: models.JoinRequest{RoomID: e.roomID, Username: e.username},
	})
}

// Resync asks the server for the authoritative snapshot.
func (e *Editor) Resync() error {
	return e.emitter.Emit(models.WSFrame{
		Type: "resync-request",
		Data: models.ResyncRequest{RoomID: e.roomID},
	})
}

// HandleReconnect re-joins and explicitly resyncs, covering the case
// where the server's push-on-join race was lost.
func (e *Editor) HandleReconnect() {
	_ = e.Join()
	_ = e.Resync()
}

// HandleFrame applies one inbound server frame.
func (e *Editor) HandleFrame(frame models.WSFrame) {
	switch frame.Type {
	case "edit":
		var ev models.EditEvent
		remarshal(frame.Data, &ev)
		e.SetText(ev.Content, OriginRemote)

	case "sync":
		var ev models.SyncEvent
		remarshal(frame.Data, &ev)
		e.SetText(ev.Content, OriginRemote)

	case "joined":
		var ev models.JoinedEvent
		remarshal(frame.Data, &ev)
		e.mu.Lock()
		fn := e.onRoster
		e.mu.Unlock()
		if fn != nil {
			fn(ev)
		}

	case "disconnected":
		var ev models.DisconnectedEvent
		remarshal(frame.Data, &ev)
		e.mu.Lock()
		fn := e.onPeerLeft
		e.mu.Unlock()
		if fn != nil {
			fn(ev)
		}
	}
}

// Close stops any pending debounce timer.
func (e *Editor) Close() {
	e.mu.Lock()
	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.mu.Unlock()
}

func remarshal(in any, out any) { b, _ := json.Marshal(in); _ = json.Unmarshal(b, out) }
