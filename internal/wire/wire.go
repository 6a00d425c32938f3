// Package wire defines the message contract between clients and the session
// coordinator. The coordinator is agnostic to the transport technology;
// anything that can carry these envelopes (websocket, an in-process queue, a
// Nakama match loop) can serve as the boundary.
package wire

import (
	"encoding/json"

	"turnforge/internal/state"
)

// MessageType tags an envelope.
type MessageType string

const (
	// Client to coordinator.
	MsgSync   MessageType = "sync"
	MsgUpdate MessageType = "update"
	MsgChat   MessageType = "chat"

	// Coordinator to client.
	MsgSyncResponse MessageType = "sync-response"
	MsgUpdatePush   MessageType = "update-push"
	MsgPatch        MessageType = "patch"
	MsgMatchData    MessageType = "matchData"
	MsgChatPush     MessageType = "chat-push"
	MsgError        MessageType = "error"
)

// SyncRequest asks for the full current state of a match, creating it first
// when the coordinator permits auto-creation.
type SyncRequest struct {
	PlayerID    string `json:"playerID,omitempty"`
	Credentials string `json:"credentials,omitempty"`
	NumPlayers  int    `json:"numPlayers,omitempty"`
}

// UpdateRequest submits an action against the client's believed state ID.
type UpdateRequest struct {
	Action   state.Action `json:"action"`
	StateID  int64        `json:"stateID"`
	PlayerID string       `json:"playerID"`
}

// ChatMessage is one chat entry; Payload is opaque to the engine.
type ChatMessage struct {
	ID      string          `json:"id"`
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

// ChatRequest submits a chat message with the sender's credentials.
type ChatRequest struct {
	Message     ChatMessage `json:"chatMessage"`
	Credentials string      `json:"credentials,omitempty"`
}

// SyncResponse replies to a SyncRequest with the player-filtered state, the
// match log and the public metadata.
type SyncResponse struct {
	State            *state.State           `json:"state"`
	Log              []state.LogEntry       `json:"log,omitempty"`
	FilteredMetadata []state.FilteredPlayer `json:"filteredMetadata"`
}

// UpdatePush is a full state replacement broadcast.
type UpdatePush struct {
	State    *state.State     `json:"state"`
	Deltalog []state.LogEntry `json:"deltalog,omitempty"`
}

// PatchPush is an incremental broadcast: ordered JSON Patch operations
// transforming the state at PrevStateID into the state at StateID.
type PatchPush struct {
	PrevStateID int64            `json:"prevStateID"`
	StateID     int64            `json:"stateID"`
	Operations  json.RawMessage  `json:"operations"`
	Deltalog    []state.LogEntry `json:"deltalog,omitempty"`
}

// MatchData broadcasts public metadata changes (presence, names).
type MatchData struct {
	Players  []state.FilteredPlayer `json:"players"`
	Gameover json.RawMessage        `json:"gameover,omitempty"`
}

// Error reports a failed request back to its originating client.
type Error struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// Envelope is the single wire frame. Exactly one payload field is set,
// matching Type.
type Envelope struct {
	Type     MessageType `json:"type"`
	MatchID  string      `json:"matchID"`
	GameName string      `json:"gameName,omitempty"`

	Sync   *SyncRequest   `json:"sync,omitempty"`
	Update *UpdateRequest `json:"update,omitempty"`
	Chat   *ChatRequest   `json:"chat,omitempty"`

	SyncResponse *SyncResponse `json:"syncResponse,omitempty"`
	UpdatePush   *UpdatePush   `json:"updatePush,omitempty"`
	Patch        *PatchPush    `json:"patch,omitempty"`
	MatchData    *MatchData    `json:"matchData,omitempty"`
	ChatPush     *ChatMessage  `json:"chatPush,omitempty"`
	Error        *Error        `json:"error,omitempty"`
}

// AuthStateID returns the state version a server envelope brings its
// receiver to, and whether it carries one. Transports use it to track each
// client's known version for patch eligibility.
func (e *Envelope) AuthStateID() (int64, bool) {
	switch e.Type {
	case MsgSyncResponse:
		if e.SyncResponse != nil && e.SyncResponse.State != nil {
			return e.SyncResponse.State.StateID, true
		}
	case MsgUpdatePush:
		if e.UpdatePush != nil && e.UpdatePush.State != nil {
			return e.UpdatePush.State.StateID, true
		}
	case MsgPatch:
		if e.Patch != nil {
			return e.Patch.StateID, true
		}
	}
	return 0, false
}
