package session

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"codesync/internal/models"
)

type frameCapture struct {
	mu     sync.Mutex
	frames []models.WSFrame
}

func newFrameCapture() *frameCapture { return &frameCapture{} }

func (c *frameCapture) hook(frame models.WSFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *frameCapture) list() []models.WSFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.WSFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

func TestClientSendWithHook(t *testing.T) {
	client := NewClient("c1", nil)
	capture := newFrameCapture()
	client.SetSendHook(capture.hook)

	if err := client.Send(models.WSFrame{Type: "ping"}); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	got := capture.list()
	if len(got) != 1 || got[0].Type != "ping" {
		t.Fatalf("expected frame captured, got %#v", got)
	}
}

func TestClientSendWithoutConnDoesNotPanic(t *testing.T) {
	client := NewClient("c1", nil)
	if err := client.Send(models.WSFrame{Type: "noop"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientSendWritesToConn(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan models.WSFrame, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var frame models.WSFrame
		if err := conn.ReadJSON(&frame); err == nil {
			received <- frame
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	client := NewClient("c1", conn)
	if err := client.Send(models.WSFrame{Type: "ping"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case frame := <-received:
		if frame.Type != "ping" {
			t.Fatalf("unexpected frame: %#v", frame)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected frame to be received")
	}
}

func TestRoomJoinIsIdempotent(t *testing.T) {
	room := NewRoom("r")
	c := NewClient("c1", nil)

	room.Join(c)
	room.Join(c)

	if size := room.Size(); size != 1 {
		t.Fatalf("double join must not duplicate, got size %d", size)
	}
	if _, ok := room.JoinedAt("c1"); !ok {
		t.Fatalf("expected join time recorded")
	}
}

func TestRoomLeaveAndLookup(t *testing.T) {
	room := NewRoom("r")
	c1 := NewClient("c1", nil)
	c2 := NewClient("c2", nil)
	room.Join(c1)
	room.Join(c2)

	if got, ok := room.Client("c2"); !ok || got != c2 {
		t.Fatalf("expected to look up c2")
	}
	if left := room.Leave("c1"); left != 1 {
		t.Fatalf("expected 1 remaining, got %d", left)
	}
	if left := room.Leave("c1"); left != 1 {
		t.Fatalf("repeated leave must be a no-op, got %d", left)
	}
	if left := room.Leave("c2"); left != 0 {
		t.Fatalf("expected empty room, got %d", left)
	}
	if _, ok := room.JoinedAt("c2"); ok {
		t.Fatalf("expected join time cleared on leave")
	}
}

func TestRoomBroadcastExcludesSender(t *testing.T) {
	room := NewRoom("r")
	frame := models.WSFrame{Type: "edit", Data: "hello"}

	cap1 := newFrameCapture()
	c1 := NewClient("c1", nil)
	c1.SetSendHook(cap1.hook)
	cap2 := newFrameCapture()
	c2 := NewClient("c2", nil)
	c2.SetSendHook(cap2.hook)
	sender := NewClient("sender", nil)
	sender.SetSendHook(func(models.WSFrame) error {
		t.Fatal("sender should not receive broadcast")
		return nil
	})

	room.Join(c1)
	room.Join(c2)
	room.Join(sender)

	if failed := room.Broadcast("sender", frame); failed != 0 {
		t.Fatalf("unexpected failures: %d", failed)
	}
	if got := cap1.list(); len(got) != 1 || got[0].Type != "edit" {
		t.Fatalf("client1 missing frame: %#v", got)
	}
	if got := cap2.list(); len(got) != 1 || got[0].Type != "edit" {
		t.Fatalf("client2 missing frame: %#v", got)
	}
}

func TestRoomBroadcastIsolatesSendFailures(t *testing.T) {
	room := NewRoom("r")

	broken := NewClient("broken", nil)
	broken.SetSendHook(func(models.WSFrame) error { return errors.New("gone") })
	capOK := newFrameCapture()
	ok := NewClient("ok", nil)
	ok.SetSendHook(capOK.hook)

	room.Join(broken)
	room.Join(ok)

	failed := room.BroadcastAll(models.WSFrame{Type: "edit"})
	if failed != 1 {
		t.Fatalf("expected one failed send, got %d", failed)
	}
	if got := capOK.list(); len(got) != 1 {
		t.Fatalf("healthy peer must still receive the frame, got %#v", got)
	}
}

func TestHubLifecycle(t *testing.T) {
	hub := NewHub()
	roomA := hub.GetOrCreate("a")
	roomB := hub.GetOrCreate("a")
	if roomA != roomB {
		t.Fatalf("expected same room instance")
	}
	if _, ok := hub.Get("missing"); ok {
		t.Fatalf("expected missing room")
	}
	if hub.Count() != 1 {
		t.Fatalf("expected one room, got %d", hub.Count())
	}

	hub.Delete("a")
	if _, ok := hub.Get("a"); ok {
		t.Fatalf("expected room to be deleted")
	}
}

func TestCoordinatorJoinAndRoster(t *testing.T) {
	co := NewCoordinator(NewHub(), NewRegistry(time.Minute))

	a := NewClient("conn-a", nil)
	roster := co.Join(a, "r1", "alice", nil)
	if len(roster) != 1 || roster[0].ConnectionID != "conn-a" || roster[0].Username != "alice" {
		t.Fatalf("unexpected roster: %#v", roster)
	}

	b := NewClient("conn-b", nil)
	roster = co.Join(b, "r1", "bob", nil)
	if len(roster) != 2 {
		t.Fatalf("expected roster of 2, got %#v", roster)
	}

	// Rejoin must not duplicate.
	roster = co.Join(a, "r1", "alice", nil)
	if len(roster) != 2 {
		t.Fatalf("rejoin duplicated roster: %#v", roster)
	}
}

func TestCoordinatorJoinSeedsSnapshot(t *testing.T) {
	co := NewCoordinator(NewHub(), NewRegistry(time.Minute))
	a := NewClient("conn-a", nil)
	co.Join(a, "r1", "alice", nil)
	co.Registry().SetSnapshot("r1", "v1")

	capture := newFrameCapture()
	b := NewClient("conn-b", nil)
	b.SetSendHook(capture.hook)
	co.Join(b, "r1", "bob", func(content string) models.WSFrame {
		return models.WSFrame{Type: "sync", Data: content}
	})

	got := capture.list()
	if len(got) != 1 || got[0].Type != "sync" || got[0].Data.(string) != "v1" {
		t.Fatalf("expected seeded sync frame, got %#v", got)
	}
}

func TestCoordinatorJoinWithoutSnapshotSendsNothing(t *testing.T) {
	co := NewCoordinator(NewHub(), NewRegistry(time.Minute))

	capture := newFrameCapture()
	a := NewClient("conn-a", nil)
	a.SetSendHook(capture.hook)
	co.Join(a, "r1", "alice", func(content string) models.WSFrame {
		return models.WSFrame{Type: "sync", Data: content}
	})

	if got := capture.list(); len(got) != 0 {
		t.Fatalf("expected no seed for empty room, got %#v", got)
	}
}

func TestCoordinatorApplyEditCommitsWithoutRoom(t *testing.T) {
	co := NewCoordinator(NewHub(), NewRegistry(time.Minute))

	failed, relayed := co.ApplyEdit("conn-x", "ghost", "v1", models.WSFrame{Type: "edit", Data: "v1"})
	if failed != 0 || relayed {
		t.Fatalf("expected no relay into missing room, got failed=%d relayed=%v", failed, relayed)
	}
	if content, ok := co.Registry().Snapshot("ghost"); !ok || content != "v1" {
		t.Fatalf("expected snapshot committed anyway, got %q ok=%v", content, ok)
	}
}

// Concurrent edits must leave every peer's last-received edit equal to
// the authoritative snapshot: the room lock orders commit and fan-out
// as one step.
func TestConcurrentEditsLeavePeersOnSnapshot(t *testing.T) {
	co := NewCoordinator(NewHub(), NewRegistry(time.Minute))

	editorA := NewClient("conn-a", nil)
	editorA.SetSendHook(func(models.WSFrame) error { return nil })
	editorB := NewClient("conn-b", nil)
	editorB.SetSendHook(func(models.WSFrame) error { return nil })
	capture := newFrameCapture()
	observer := NewClient("conn-o", nil)
	observer.SetSendHook(capture.hook)

	co.Join(editorA, "r1", "alice", nil)
	co.Join(editorB, "r1", "bob", nil)
	co.Join(observer, "r1", "carol", nil)

	for i := 0; i < 500; i++ {
		contentA := fmt.Sprintf("a%d", i)
		contentB := fmt.Sprintf("b%d", i)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			co.ApplyEdit(editorA.ID, "r1", contentA, models.WSFrame{Type: "edit", Data: contentA})
		}()
		go func() {
			defer wg.Done()
			co.ApplyEdit(editorB.ID, "r1", contentB, models.WSFrame{Type: "edit", Data: contentB})
		}()
		wg.Wait()

		frames := capture.list()
		last := frames[len(frames)-1].Data.(string)
		snapshot, _ := co.Registry().Snapshot("r1")
		if last != snapshot {
			t.Fatalf("iteration %d: last received edit %q, snapshot %q", i, last, snapshot)
		}
	}
}

// A join that lands between an edit's commit and its fan-out must not
// see a seed older than an edit it already received. The seed is
// computed and delivered under the room lock, so a blocked edit
// fan-out always carries content at least as new as the seed.
func TestJoinSeedNeverTrailsConcurrentEdit(t *testing.T) {
	co := NewCoordinator(NewHub(), NewRegistry(time.Minute))

	editor := NewClient("conn-e", nil)
	editor.SetSendHook(func(models.WSFrame) error { return nil })
	co.Join(editor, "r1", "alice", nil)
	co.Registry().SetSnapshot("r1", "v0")

	for i := 0; i < 200; i++ {
		capture := newFrameCapture()
		joiner := NewClient(fmt.Sprintf("conn-j%d", i), nil)
		joiner.SetSendHook(capture.hook)
		content := fmt.Sprintf("v%d", i+1)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			co.ApplyEdit(editor.ID, "r1", content, models.WSFrame{Type: "edit", Data: content})
		}()
		go func() {
			defer wg.Done()
			co.Join(joiner, "r1", "bob", func(c string) models.WSFrame {
				return models.WSFrame{Type: "sync", Data: c}
			})
		}()
		wg.Wait()

		frames := capture.list()
		if len(frames) == 0 {
			t.Fatalf("iteration %d: joiner received no frames", i)
		}
		snapshot, _ := co.Registry().Snapshot("r1")
		if last := frames[len(frames)-1].Data.(string); last != snapshot {
			t.Fatalf("iteration %d: joiner ended on %q, snapshot %q", i, last, snapshot)
		}
		room, _ := co.Hub().Get("r1")
		room.Leave(joiner.ID)
	}
}

func TestCoordinatorRosterForUnknownRoom(t *testing.T) {
	co := NewCoordinator(NewHub(), NewRegistry(time.Minute))
	if roster := co.Roster("nope"); len(roster) != 0 {
		t.Fatalf("expected empty roster, got %#v", roster)
	}
}

func TestCoordinatorLeaveNotifiesEveryRoom(t *testing.T) {
	co := NewCoordinator(NewHub(), NewRegistry(time.Minute))

	a := NewClient("conn-a", nil)
	co.Join(a, "r1", "alice", nil)
	co.Join(a, "r2", "alice", nil)

	b := NewClient("conn-b", nil)
	co.Join(b, "r1", "bob", nil)

	departures := co.Leave(a.ID)
	if len(departures) != 2 {
		t.Fatalf("expected one departure per room, got %d", len(departures))
	}
	for _, dep := range departures {
		if dep.Notice.ConnectionID != "conn-a" || dep.Notice.Username != "alice" {
			t.Fatalf("unexpected notice: %#v", dep.Notice)
		}
	}

	// r2 had only alice and must be gone; r1 keeps bob.
	if _, ok := co.Hub().Get("r2"); ok {
		t.Fatalf("expected empty room r2 deleted")
	}
	if roster := co.Roster("r1"); len(roster) != 1 || roster[0].Username != "bob" {
		t.Fatalf("unexpected r1 roster: %#v", roster)
	}
	if _, ok := co.Registry().Participant("conn-a"); ok {
		t.Fatalf("expected identity mapping removed")
	}
}

func TestCoordinatorLeaveMarksSnapshotForSweep(t *testing.T) {
	reg := NewRegistry(time.Minute)
	co := NewCoordinator(NewHub(), reg)

	a := NewClient("conn-a", nil)
	co.Join(a, "r1", "alice", nil)
	reg.SetSnapshot("r1", "content")
	co.Leave(a.ID)

	// Snapshot survives the leave itself; only the sweep evicts it.
	if _, ok := reg.Snapshot("r1"); !ok {
		t.Fatalf("snapshot must survive until the idle sweep")
	}
	if n := reg.SweepIdle(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("expected idle snapshot evicted, got %d", n)
	}
}
