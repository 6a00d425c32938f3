// Package game defines the pluggable game-definition model the engine is
// generic over: setup, named move handlers, end conditions, turn/phase/stage
// configuration and player views. Definitions are resolved once by Process
// into a canonical descriptor; the engine core never re-interprets raw
// optional configuration at runtime.
package game

import (
	"errors"

	"turnforge/internal/state"
)

// ErrInvalidMove is the sentinel a move handler returns to signal that the
// move is illegal in the current position. The engine treats it as a no-op:
// the pre-move state is kept and the action is recorded as rejected.
var ErrInvalidMove = errors.New("invalid move")

// Move is a named move handler. It mutates mc.G in place and returns nil on
// success. Handlers must be deterministic: any randomness comes from
// mc.Random, never from an outside source.
type Move func(mc *MoveContext) error

// Hook runs at phase or turn boundaries with the current state. Hooks may
// mutate mc.G; the engine treats them as opaque game-supplied functions.
type Hook func(mc *MoveContext)

// Predicate is an end condition for a turn or phase.
type Predicate func(g any, ctx *state.Ctx) bool

// TurnContext is what turn-order strategies see when choosing the next
// player.
type TurnContext struct {
	G   any
	Ctx *state.Ctx
}

// Order decides the first and next current player for a phase's turns. First
// and Next return a position in ctx.PlayOrder; Next returns -1 to end the
// phase instead of starting another turn.
type Order interface {
	First(tc *TurnContext) int
	Next(tc *TurnContext) int
}

// PlayOrderer is an optional interface for Order implementations that
// replace the play order when their phase begins.
type PlayOrderer interface {
	StartingPlayOrder(tc *TurnContext) []string
}

// AllOpener is an optional interface for Order implementations that open the
// active-player set to everyone at the start of each turn ("any player may
// move next").
type AllOpener interface {
	AllMayAct() bool
}

// ActivePlayers configures which players may act during a turn and how many
// moves each owes or is allowed. The zero value means the default: only the
// current player, no per-player caps.
type ActivePlayers struct {
	// All admits every player; Others admits everyone but the current
	// player; Players admits an explicit subset. At most one should be
	// set.
	All     bool
	Others  bool
	Players []string

	// Stage is the stage name entering players are placed in. Empty means
	// the phase's default move set.
	Stage string

	// MinMoves and MaxMoves bound each admitted player's move count.
	// Zero MaxMoves means unlimited. A player's stage ends once MaxMoves
	// is reached; the whole window ends when every admitted player has
	// finished.
	MinMoves int
	MaxMoves int
}

// Stage restricts the moves available to players placed in it.
type Stage struct {
	// Moves overrides the phase move set for players in this stage. Nil
	// inherits the phase moves.
	Moves map[string]Move

	// Next is the stage a player advances to when the game moves them on.
	Next string
}

// Turn configures the turn structure of a phase.
type Turn struct {
	// Order picks the current player. Nil means round-robin over
	// ctx.PlayOrder.
	Order Order

	// MinMoves and MaxMoves bound the number of moves in one turn when no
	// active-player window is installed. Reaching MaxMoves ends the turn;
	// an explicit end-turn event is refused below MinMoves.
	MinMoves int
	MaxMoves int

	// ActivePlayers, when set, is installed at the start of every turn.
	ActivePlayers *ActivePlayers

	Stages map[string]*Stage

	OnBegin Hook
	OnEnd   Hook
	EndIf   Predicate
}

// Phase is a named top-level mode of the game with its own turn
// configuration and optional move overrides.
type Phase struct {
	// Start marks the phase that is active when the game begins. Exactly
	// one phase may set it.
	Start bool

	// Next names the phase entered when this one ends. Empty returns to
	// the default (no phase) configuration.
	Next string

	// Moves overrides the game-level move set while the phase is active.
	Moves map[string]Move

	// Turn overrides the game-level turn configuration.
	Turn *Turn

	EndIf   Predicate
	OnBegin Hook
	OnEnd   Hook
}

// MoveRequest is one legal move option produced by a game's Enumerate hook,
// consumed by AI agents.
type MoveRequest struct {
	Move string `json:"move"`
	Args []any  `json:"args,omitempty"`
}

// Definition is a complete game supplied by the host application. The engine
// treats G (the value returned by Setup) as opaque.
type Definition struct {
	Name string

	MinPlayers int
	MaxPlayers int

	// Setup returns the initial G. It must be deterministic given the
	// setup context and is also invoked once at Process time to learn
	// G's concrete type.
	Setup func(sc *SetupContext) any

	Moves map[string]Move

	Turn   *Turn
	Phases map[string]*Phase

	// EndIf is the game-level terminal condition, evaluated after every
	// successful move and after every turn or phase transition. A non-nil
	// result becomes ctx.Gameover.
	EndIf func(g any, ctx *state.Ctx) any

	// PlayerView filters G down to what one player may see. Nil means no
	// secret information.
	PlayerView func(g any, ctx *state.Ctx, playerID string) any

	// Enumerate lists the legal moves for a player, for AI agents.
	Enumerate func(g any, ctx *state.Ctx, playerID string) []MoveRequest

	// RedactMoves names moves whose log entries are flagged for
	// redaction before reaching other players.
	RedactMoves []string

	// UndoDepth bounds the undo/redo stacks. Zero uses the default.
	UndoDepth int
}
