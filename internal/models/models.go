package models

// WSFrame is the envelope for every websocket message, client and server side.
type WSFrame struct {
	Type string      `json:"type"` // "join","joined","edit","sync","resync-request","sync-to","execution-result","disconnected","error"
	Data interface{} `json:"data"`
}

type JoinRequest struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

type ClientInfo struct {
	ConnectionID string `json:"connectionId"`
	Username     string `json:"username"`
}

// JoinedEvent is fanned out to every room member (including the joiner)
// after a successful join.
type JoinedEvent struct {
	Clients      []ClientInfo `json:"clients"`
	Username     string       `json:"username"`
	ConnectionID string       `json:"connectionId"`
}

// EditEvent carries a full-buffer replacement. No version number is
// carried; arrival order at the server decides, last writer wins.
type EditEvent struct {
	RoomID  string `json:"roomId,omitempty"`
	Content string `json:"content"`
}

// SyncEvent is the point-to-point snapshot push.
type SyncEvent struct {
	Content string `json:"content"`
}

type ResyncRequest struct {
	RoomID string `json:"roomId"`
}

// SyncToRequest asks the server to push the room snapshot to one named
// peer. Only honored as a reply to that peer's recent join.
type SyncToRequest struct {
	RoomID   string `json:"roomId"`
	TargetID string `json:"targetId"`
}

type ExecutionResult struct {
	RoomID          string `json:"roomId,omitempty"`
	Language        string `json:"language"`
	Output          string `json:"output"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
	Username        string `json:"username,omitempty"`
}

type DisconnectedEvent struct {
	ConnectionID string `json:"connectionId"`
	Username     string `json:"username"`
}

/*** Execution collaborator (external HTTP API) ***/

type ExecuteRequest struct {
	Script   string `json:"script"`
	Language string `json:"language"`
	Stdin    string `json:"stdin,omitempty"`
}

type ExecuteResponse struct {
	Output     string `json:"output"`
	StatusCode int    `json:"statusCode,omitempty"`
	Memory     string `json:"memory,omitempty"`
	CPUTime    string `json:"cpuTime,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type LanguageSpec struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
}

// RoomInfo mirrors what the lobby publishes on the rooms channel.
type RoomInfo struct {
	RoomID    string `json:"roomId"`
	User1     string `json:"user1,omitempty"`
	User2     string `json:"user2,omitempty"`
	Status    string `json:"status"` // "pending", "ready", "error"
	CreatedAt string `json:"createdAt"`
}
