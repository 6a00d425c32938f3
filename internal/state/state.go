// Package state defines the data model shared by the reducer, the turn
// machine, the session coordinator and the client: game state, engine
// context, actions and log entries.
package state

import "encoding/json"

// Ctx is the engine-owned metadata attached to every game state. The game's
// own payload lives in State.G; the engine never inspects G beyond passing it
// through hooks.
type Ctx struct {
	NumPlayers    int      `json:"numPlayers"`
	PlayOrder     []string `json:"playOrder"`
	PlayOrderPos  int      `json:"playOrderPos"`
	CurrentPlayer string   `json:"currentPlayer"`
	Phase         string   `json:"phase,omitempty"`
	Turn          int      `json:"turn"`

	// NumMoves counts successful moves within the current turn.
	NumMoves int `json:"numMoves"`

	// Seed is the deterministic random seed for this match. All in-game
	// randomness derives from it; the reducer never reads an external
	// entropy source.
	Seed int64 `json:"seed"`

	// Gameover is nil while the game is in progress. Once the game-level
	// end condition fires it holds the result payload and no further
	// moves are accepted until a reset.
	Gameover json.RawMessage `json:"gameover,omitempty"`

	// ActivePlayers maps player ID to stage name for players currently
	// allowed to act. Nil means the default: only CurrentPlayer may act.
	ActivePlayers map[string]string `json:"activePlayers,omitempty"`

	// Per-player move accounting for the current active-player window.
	ActiveMoves    map[string]int `json:"activeMoves,omitempty"`
	ActiveMinMoves map[string]int `json:"activeMinMoves,omitempty"`
	ActiveMaxMoves map[string]int `json:"activeMaxMoves,omitempty"`
}

// Clone returns a deep copy of the context.
func (c *Ctx) Clone() Ctx {
	out := *c
	out.PlayOrder = append([]string(nil), c.PlayOrder...)
	out.Gameover = append(json.RawMessage(nil), c.Gameover...)
	if c.Gameover == nil {
		out.Gameover = nil
	}
	out.ActivePlayers = cloneStringMap(c.ActivePlayers)
	out.ActiveMoves = cloneIntMap(c.ActiveMoves)
	out.ActiveMinMoves = cloneIntMap(c.ActiveMinMoves)
	out.ActiveMaxMoves = cloneIntMap(c.ActiveMaxMoves)
	return out
}

// PlayerIsActive reports whether the given player may currently act,
// honouring the active-players set when one is installed and falling back to
// the current player otherwise.
func (c *Ctx) PlayerIsActive(playerID string) bool {
	if c.ActivePlayers != nil {
		_, ok := c.ActivePlayers[playerID]
		return ok
	}
	return playerID == c.CurrentPlayer && playerID != ""
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneIntMap(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Snapshot is one bounded undo/redo stack entry: the {G, ctx} pair that was
// current before a move, plus the identity of the move that replaced it.
type Snapshot struct {
	G        json.RawMessage `json:"G"`
	Ctx      Ctx             `json:"ctx"`
	PlayerID string          `json:"playerID,omitempty"`
	MoveType string          `json:"moveType,omitempty"`
}

// LogEntry records one accepted action. The ordered sequence of entries forms
// the deltalog used for incremental sync and replay.
type LogEntry struct {
	Action  Action `json:"action"`
	StateID int64  `json:"_stateID"`
	Turn    int    `json:"turn"`
	Phase   string `json:"phase"`
	Redact  bool   `json:"redact,omitempty"`
}

// State is the complete, versioned state of one match. StateID is the
// optimistic-concurrency token: it is owned by the authoritative server and
// strictly increases with every accepted mutation.
type State struct {
	G       json.RawMessage            `json:"G"`
	Ctx     Ctx                        `json:"ctx"`
	Plugins map[string]json.RawMessage `json:"plugins,omitempty"`
	StateID int64                      `json:"_stateID"`

	// Deltalog holds the log entries produced by the most recent apply.
	// The full per-match log is kept by the coordinator's storage.
	Deltalog []LogEntry `json:"deltalog,omitempty"`

	Undo []Snapshot `json:"_undo,omitempty"`
	Redo []Snapshot `json:"_redo,omitempty"`
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	out := &State{
		G:       append(json.RawMessage(nil), s.G...),
		Ctx:     s.Ctx.Clone(),
		StateID: s.StateID,
	}
	if s.Plugins != nil {
		out.Plugins = make(map[string]json.RawMessage, len(s.Plugins))
		for k, v := range s.Plugins {
			out.Plugins[k] = append(json.RawMessage(nil), v...)
		}
	}
	out.Deltalog = append([]LogEntry(nil), s.Deltalog...)
	out.Undo = cloneSnapshots(s.Undo)
	out.Redo = cloneSnapshots(s.Redo)
	return out
}

// ClientView returns a copy of the state with the server-only undo/redo
// stacks and the transient deltalog stripped. This is the shape clients see
// and the shape patches are computed against.
func (s *State) ClientView() *State {
	out := s.Clone()
	out.Deltalog = nil
	out.Undo = nil
	out.Redo = nil
	return out
}

func cloneSnapshots(in []Snapshot) []Snapshot {
	if in == nil {
		return nil
	}
	out := make([]Snapshot, len(in))
	for i := range in {
		out[i] = Snapshot{
			G:        append(json.RawMessage(nil), in[i].G...),
			Ctx:      in[i].Ctx.Clone(),
			PlayerID: in[i].PlayerID,
			MoveType: in[i].MoveType,
		}
	}
	return out
}
