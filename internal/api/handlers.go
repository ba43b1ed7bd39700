package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"codesync/internal/exec"
	"codesync/internal/metrics"
	"codesync/internal/models"
	"codesync/internal/session"
	"codesync/internal/utils"
)

// executor abstracts the execution collaborator for tests.
type executor interface {
	Execute(ctx context.Context, req models.ExecuteRequest) (*models.ExecuteResponse, error)
}

// roomDirectory abstracts the lobby-announced room metadata store.
type roomDirectory interface {
	Get(ctx context.Context, roomID string) (*models.RoomInfo, error)
}

// syncToWindow bounds how long after a peer's join a peer-directed
// snapshot push is still honored.
var syncToWindow = 10 * time.Second

type Handlers struct {
	log       *utils.Logger
	coord     *session.Coordinator
	executor  executor
	dir       roomDirectory
	jwtSecret []byte
}

func NewHandlers(log *utils.Logger, coord *session.Coordinator, ex executor, dir roomDirectory, jwtSecret []byte) *Handlers {
	return &Handlers{
		log:       log,
		coord:     coord,
		executor:  ex,
		dir:       dir,
		jwtSecret: jwtSecret,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// supportedLanguages is the catalog exposed to editors; execution
// itself is the collaborator's business.
var supportedLanguages = []models.LanguageSpec{
	{ID: "python3", Name: "Python 3", Extension: "py"},
	{ID: "java", Name: "Java", Extension: "java"},
	{ID: "cpp", Name: "C++", Extension: "cpp"},
	{ID: "nodejs", Name: "Node.js", Extension: "js"},
	{ID: "c", Name: "C", Extension: "c"},
	{ID: "ruby", Name: "Ruby", Extension: "rb"},
	{ID: "go", Name: "Go", Extension: "go"},
	{ID: "csharp", Name: "C#", Extension: "cs"},
	{ID: "php", Name: "PHP", Extension: "php"},
	{ID: "swift", Name: "Swift", Extension: "swift"},
	{ID: "rust", Name: "Rust", Extension: "rs"},
	{ID: "r", Name: "R", Extension: "r"},
}

func (h *Handlers) ListLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, supportedLanguages)
}

// ExecuteCode proxies one stateless execution request to the external
// collaborator. Failures surface to the requester only, never to the
// room.
func (h *Handlers) ExecuteCode(w http.ResponseWriter, r *http.Request) {
	var req models.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Script == "" || req.Language == "" {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{Error: "script and language are required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 35*time.Second)
	defer cancel()

	out, err := h.executor.Execute(ctx, req)
	if err != nil {
		if errors.Is(err, exec.ErrNotConfigured) {
			writeError(w, http.StatusInternalServerError, models.ErrorResponse{
				Error: "execution API credentials not configured on server",
			})
			return
		}
		h.log.Error("execution failed", "language", req.Language, "error", err.Error())
		writeError(w, http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to execute code",
			Details: err.Error(),
		})
		return
	}
	writeJSON(w, out)
}

func (h *Handlers) RoomStatus(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	info, err := h.dir.Get(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusNotFound, models.ErrorResponse{Error: "room not found"})
		return
	}
	writeJSON(w, info)
}

func (h *Handlers) RoomClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.coord.Roster(chi.URLParam(r, "id")))
}

/*** Collab WebSocket: membership, edit fan-out, resync ***/

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (h *Handlers) CollabWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := session.NewClient(uuid.NewString(), conn)
	metrics.ConnOpened()
	defer metrics.ConnClosed()
	defer h.teardown(client)

	h.log.Info("connection opened", "connectionId", client.ID)

	for {
		var frame models.WSFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		h.HandleFrame(client, frame)
	}
}

// teardown runs once the transport signals the connection is going
// away. The roster is still enumerable at this point, so every room
// the connection belonged to gets its disconnection notice.
func (h *Handlers) teardown(c *session.Client) {
	for _, dep := range h.coord.Leave(c.ID) {
		metrics.SendFailed(dep.Room.BroadcastAll(models.WSFrame{Type: "disconnected", Data: dep.Notice}))
	}
	metrics.SetActiveRooms(h.coord.Hub().Count())
	h.log.Info("connection closed", "connectionId", c.ID)
}

// HandleFrame routes one inbound frame. Protocol violations are soft
// no-ops: dropped and logged, never surfaced to the sender as a fatal
// error.
func (h *Handlers) HandleFrame(c *session.Client, frame models.WSFrame) {
	switch frame.Type {
	case "join":
		var req models.JoinRequest
		remarshal(frame.Data, &req)
		h.handleJoin(c, req)

	case "edit":
		var e models.EditEvent
		remarshal(frame.Data, &e)
		h.handleEdit(c, e)

	case "resync-request":
		var req models.ResyncRequest
		remarshal(frame.Data, &req)
		h.handleResync(c, req)

	case "sync-to":
		var req models.SyncToRequest
		remarshal(frame.Data, &req)
		h.handleSyncTo(c, req)

	case "execution-result":
		var res models.ExecutionResult
		remarshal(frame.Data, &res)
		h.handleExecutionResult(c, res)

	default:
		metrics.FrameDropped("unknown_type")
		_ = c.Send(errFrame("unknown_type"))
	}
}

func (h *Handlers) handleJoin(c *session.Client, req models.JoinRequest) {
	if req.RoomID == "" {
		metrics.FrameDropped("missing_room")
		_ = c.Send(errFrame("missing_room"))
		return
	}

	if len(h.jwtSecret) > 0 {
		claims, err := utils.ValidateRoomToken(h.jwtSecret, req.Token)
		if err != nil {
			h.log.Warn("join rejected", "roomId", req.RoomID, "error", err.Error())
			metrics.FrameDropped("unauthorized")
			_ = c.Send(errFrame("unauthorized"))
			return
		}
		if claims.RoomID != req.RoomID {
			h.log.Warn("join rejected: token room mismatch", "roomId", req.RoomID)
			metrics.FrameDropped("unauthorized")
			_ = c.Send(errFrame("unauthorized"))
			return
		}
		if claims.Username != "" {
			req.Username = claims.Username
		}
	}

	// Snapshot goes point-to-point to the joiner before the roster
	// fan-out, ordered against edit fan-outs by the room lock, so it
	// can never trail a later edit.
	roster := h.coord.Join(c, req.RoomID, req.Username, func(content string) models.WSFrame {
		return models.WSFrame{Type: "sync", Data: models.SyncEvent{Content: content}}
	})
	metrics.SetActiveRooms(h.coord.Hub().Count())

	room, ok := h.coord.Hub().Get(req.RoomID)
	if !ok {
		return
	}
	metrics.SendFailed(room.BroadcastAll(models.WSFrame{Type: "joined", Data: models.JoinedEvent{
		Clients:      roster,
		Username:     req.Username,
		ConnectionID: c.ID,
	}}))
	h.log.Info("joined", "roomId", req.RoomID, "connectionId", c.ID, "username", req.Username)
}

func (h *Handlers) handleEdit(c *session.Client, e models.EditEvent) {
	if !h.coord.Registry().MemberOf(c.ID, e.RoomID) {
		h.log.Warn("edit from non-member dropped", "roomId", e.RoomID, "connectionId", c.ID)
		metrics.FrameDropped("not_member")
		return
	}

	// Sender excluded: no echo at the protocol layer.
	failed, relayed := h.coord.ApplyEdit(c.ID, e.RoomID, e.Content, models.WSFrame{
		Type: "edit",
		Data: models.EditEvent{Content: e.Content},
	})
	metrics.SendFailed(failed)
	if relayed {
		metrics.EditRelayed()
	}
}

func (h *Handlers) handleResync(c *session.Client, req models.ResyncRequest) {
	if !h.coord.Registry().MemberOf(c.ID, req.RoomID) {
		h.log.Warn("resync from non-member dropped", "roomId", req.RoomID, "connectionId", c.ID)
		metrics.FrameDropped("not_member")
		return
	}
	if content, ok := h.coord.Registry().Snapshot(req.RoomID); ok {
		_ = c.Send(models.WSFrame{Type: "sync", Data: models.SyncEvent{Content: content}})
	}
}

// handleSyncTo relays the room snapshot to a single named peer. Gated
// to fire only as a reply to that peer's own recent join, so a client
// cannot push stale content to an arbitrary peer.
func (h *Handlers) handleSyncTo(c *session.Client, req models.SyncToRequest) {
	if !h.coord.Registry().MemberOf(c.ID, req.RoomID) {
		metrics.FrameDropped("not_member")
		return
	}
	room, ok := h.coord.Hub().Get(req.RoomID)
	if !ok {
		metrics.FrameDropped("unknown_room")
		return
	}
	target, ok := room.Client(req.TargetID)
	if !ok {
		metrics.FrameDropped("unknown_target")
		return
	}
	joinedAt, ok := room.JoinedAt(req.TargetID)
	if !ok || time.Since(joinedAt) > syncToWindow {
		h.log.Warn("peer-directed sync outside join window dropped",
			"roomId", req.RoomID, "targetId", req.TargetID)
		metrics.FrameDropped("sync_window_expired")
		return
	}
	if content, ok := h.coord.Registry().Snapshot(req.RoomID); ok {
		_ = target.Send(models.WSFrame{Type: "sync", Data: models.SyncEvent{Content: content}})
	}
}

func (h *Handlers) handleExecutionResult(c *session.Client, res models.ExecutionResult) {
	if !h.coord.Registry().MemberOf(c.ID, res.RoomID) {
		h.log.Warn("execution result from non-member dropped", "roomId", res.RoomID, "connectionId", c.ID)
		metrics.FrameDropped("not_member")
		return
	}
	room, ok := h.coord.Hub().Get(res.RoomID)
	if !ok {
		return
	}
	metrics.SendFailed(room.Broadcast(c.ID, models.WSFrame{
		Type: "execution-result",
		Data: models.ExecutionResult{
			Language:        res.Language,
			Output:          res.Output,
			ExecutionTimeMs: res.ExecutionTimeMs,
			Username:        h.coord.Registry().Username(c.ID),
		},
	}))
}

func remarshal(in any, out any) { b, _ := json.Marshal(in); _ = json.Unmarshal(b, out) }

func errFrame(msg string) models.WSFrame { return models.WSFrame{Type: "error", Data: msg} }

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, resp models.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
