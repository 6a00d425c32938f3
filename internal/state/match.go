package state

import "encoding/json"

// PlayerMetadata describes one seat in a match. Credentials are secret and
// must be stripped before metadata leaves the coordinator.
type PlayerMetadata struct {
	ID          int    `json:"id"`
	Name        string `json:"name,omitempty"`
	Credentials string `json:"credentials,omitempty"`
	IsConnected bool   `json:"isConnected"`
}

// Metadata is the per-match bookkeeping owned by the coordinator and
// persisted alongside the state.
type Metadata struct {
	GameName  string                 `json:"gameName"`
	Players   map[int]PlayerMetadata `json:"players"`
	SetupData json.RawMessage        `json:"setupData,omitempty"`
	Unlisted  bool                   `json:"unlisted,omitempty"`
	Gameover  json.RawMessage        `json:"gameover,omitempty"`
	CreatedAt int64                  `json:"createdAt"`
	UpdatedAt int64                  `json:"updatedAt"`
}

// FilteredPlayer is the public projection of PlayerMetadata.
type FilteredPlayer struct {
	ID          int    `json:"id"`
	Name        string `json:"name,omitempty"`
	IsConnected bool   `json:"isConnected"`
}

// Filtered strips credentials from the player list, in seat order.
func (m *Metadata) Filtered() []FilteredPlayer {
	out := make([]FilteredPlayer, 0, len(m.Players))
	for seat := 0; seat < len(m.Players); seat++ {
		p, ok := m.Players[seat]
		if !ok {
			continue
		}
		out = append(out, FilteredPlayer{ID: p.ID, Name: p.Name, IsConnected: p.IsConnected})
	}
	return out
}

// Clone returns a deep copy of the metadata.
func (m *Metadata) Clone() *Metadata {
	out := *m
	out.Players = make(map[int]PlayerMetadata, len(m.Players))
	for k, v := range m.Players {
		out.Players[k] = v
	}
	out.SetupData = append(json.RawMessage(nil), m.SetupData...)
	if m.SetupData == nil {
		out.SetupData = nil
	}
	out.Gameover = append(json.RawMessage(nil), m.Gameover...)
	if m.Gameover == nil {
		out.Gameover = nil
	}
	return &out
}

// Match pairs a match ID with its authoritative state and metadata.
type Match struct {
	MatchID  string    `json:"matchID"`
	State    *State    `json:"state"`
	Metadata *Metadata `json:"metadata"`
}
