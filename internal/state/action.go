package state

import "encoding/json"

// ActionType tags the variants of Action.
type ActionType string

const (
	// Server-processed actions.
	ActionMakeMove  ActionType = "MAKE_MOVE"
	ActionGameEvent ActionType = "GAME_EVENT"
	ActionUndo      ActionType = "UNDO"
	ActionRedo      ActionType = "REDO"
	ActionReset     ActionType = "RESET"

	// Client-side actions applied by the sync layer, never by the
	// authoritative reducer.
	ActionSync   ActionType = "SYNC"
	ActionUpdate ActionType = "UPDATE"
	ActionPatch  ActionType = "PATCH"
)

// Payload carries the variant-specific body of an action. Type names the
// move or event for MAKE_MOVE and GAME_EVENT; Args is a JSON array of
// arguments decoded by the handler.
type Payload struct {
	Type        string          `json:"type,omitempty"`
	Args        json.RawMessage `json:"args,omitempty"`
	PlayerID    string          `json:"playerID"`
	Credentials string          `json:"credentials,omitempty"`
}

// Action is a request to mutate match state.
type Action struct {
	Type    ActionType `json:"type"`
	Payload Payload    `json:"payload"`
}

// MakeMove builds a MAKE_MOVE action. Args are marshaled into a JSON array;
// marshal failures surface later as a malformed-action rejection.
func MakeMove(moveType, playerID string, args ...any) Action {
	return Action{
		Type: ActionMakeMove,
		Payload: Payload{
			Type:     moveType,
			Args:     marshalArgs(args),
			PlayerID: playerID,
		},
	}
}

// GameEvent builds a GAME_EVENT action.
func GameEvent(eventType, playerID string, args ...any) Action {
	return Action{
		Type: ActionGameEvent,
		Payload: Payload{
			Type:     eventType,
			Args:     marshalArgs(args),
			PlayerID: playerID,
		},
	}
}

// Undo builds an UNDO action for the given player.
func Undo(playerID string) Action {
	return Action{Type: ActionUndo, Payload: Payload{PlayerID: playerID}}
}

// Redo builds a REDO action for the given player.
func Redo(playerID string) Action {
	return Action{Type: ActionRedo, Payload: Payload{PlayerID: playerID}}
}

// Reset builds a RESET action.
func Reset(playerID string) Action {
	return Action{Type: ActionReset, Payload: Payload{PlayerID: playerID}}
}

// DecodedArgs returns the action's argument list decoded from JSON.
func (a *Action) DecodedArgs() ([]any, error) {
	if len(a.Payload.Args) == 0 {
		return nil, nil
	}
	var out []any
	if err := json.Unmarshal(a.Payload.Args, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StripCredentials returns a copy of the action safe to record in the log
// and to broadcast.
func (a Action) StripCredentials() Action {
	a.Payload.Credentials = ""
	return a
}

func marshalArgs(args []any) json.RawMessage {
	if len(args) == 0 {
		return nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil
	}
	return raw
}
