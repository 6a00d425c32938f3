// Package flow implements the turn/phase/stage state machine. It wraps the
// compiled game descriptor and decides who may act, when turns and phases
// end, and when the game reaches its terminal condition. All functions
// mutate an in-memory working frame; persistence and versioning belong to
// the reducer and the coordinator.
package flow

import (
	"encoding/json"
	"math/rand"

	"turnforge/internal/game"
	"turnforge/internal/state"
)

// Frame is the mutable working set for one action: the decoded game payload,
// the engine context and the action-scoped deterministic random stream.
type Frame struct {
	G      any
	Ctx    *state.Ctx
	Random *rand.Rand
}

func (fr *Frame) turnContext() *game.TurnContext {
	return &game.TurnContext{G: fr.G, Ctx: fr.Ctx}
}

// Machine drives turn, phase and stage transitions for one game type.
type Machine struct {
	p *game.Processed
}

// New builds a machine over a processed game descriptor.
func New(p *game.Processed) *Machine {
	return &Machine{p: p}
}

func (m *Machine) phase(ctx *state.Ctx) *game.CompiledPhase {
	cp, ok := m.p.LookupPhase(ctx.Phase)
	if !ok {
		cp, _ = m.p.LookupPhase("")
	}
	return cp
}

func (m *Machine) order(cp *game.CompiledPhase) game.Order {
	if cp.Turn.Order != nil {
		return cp.Turn.Order
	}
	return roundRobin{}
}

// roundRobin is the built-in default used when a turn names no order. The
// order package re-exports richer strategies.
type roundRobin struct{}

func (roundRobin) First(tc *game.TurnContext) int { return 0 }
func (roundRobin) Next(tc *game.TurnContext) int {
	n := len(tc.Ctx.PlayOrder)
	if n == 0 {
		return -1
	}
	return (tc.Ctx.PlayOrderPos + 1) % n
}

// Init starts the game: it enters the start phase and begins the first turn.
func (m *Machine) Init(fr *Frame) {
	fr.Ctx.Phase = m.p.StartPhase
	m.beginPhase(fr)
}

// ResolveMove checks that the player may act and that a handler exists for
// the move in the player's current phase and stage.
func (m *Machine) ResolveMove(ctx *state.Ctx, playerID, moveName string) (game.Move, *state.Rejection) {
	if ctx.Gameover != nil {
		return nil, state.Rejectf(state.CodeGameOver, "game is over")
	}
	if !ctx.PlayerIsActive(playerID) {
		return nil, state.Rejectf(state.CodeNotActive, "player %q may not act", playerID)
	}
	stage := ""
	if ctx.ActivePlayers != nil {
		stage = ctx.ActivePlayers[playerID]
	}
	mv, ok := m.p.LookupMove(ctx.Phase, stage, moveName)
	if !ok {
		return nil, state.Rejectf(state.CodeUnknownMove, "no handler for move %q", moveName)
	}
	return mv, nil
}

// AfterMove runs the post-move bookkeeping and end-condition pipeline for a
// successful move by playerID. End conditions are evaluated in order (game
// end, move limit, turn endIf, phase endIf) and the first transition taken
// short-circuits the rest for this action. The game-level end condition is
// re-evaluated after every transition.
func (m *Machine) AfterMove(fr *Frame, playerID string) {
	cp := m.phase(fr.Ctx)
	fr.Ctx.NumMoves++

	if fr.Ctx.ActivePlayers != nil {
		m.recordStageMove(fr, cp, playerID)
	}

	// The terminal condition is checked before any turn rotation so a
	// winning move reports the mover as ctx.currentPlayer.
	if m.checkGameEnd(fr) {
		return
	}

	if fr.Ctx.ActivePlayers == nil && cp.Turn.MaxMoves > 0 && fr.Ctx.NumMoves >= cp.Turn.MaxMoves {
		m.EndTurn(fr, "")
		return
	}
	if cp.Turn.EndIf != nil && cp.Turn.EndIf(fr.G, fr.Ctx) {
		m.EndTurn(fr, "")
		return
	}
	if cp.EndIf != nil && cp.EndIf(fr.G, fr.Ctx) {
		m.EndPhase(fr, cp.Next)
	}
}

// checkGameEnd evaluates the game-level end condition and installs the
// terminal result when it fires.
func (m *Machine) checkGameEnd(fr *Frame) bool {
	if fr.Ctx.Gameover != nil {
		return true
	}
	if m.p.Def.EndIf == nil {
		return false
	}
	res := m.p.Def.EndIf(fr.G, fr.Ctx)
	if res == nil {
		return false
	}
	raw, err := json.Marshal(res)
	if err != nil {
		raw = []byte(`true`)
	}
	fr.Ctx.Gameover = raw
	return true
}

func (m *Machine) hook(fr *Frame, h game.Hook) {
	if h == nil {
		return
	}
	h(game.NewMoveContext(fr.G, fr.Ctx, fr.Ctx.CurrentPlayer, fr.Random, nil))
}
