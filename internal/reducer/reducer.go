// Package reducer implements the pure state-transition function of the
// engine: apply(state, action) -> state'. It performs no I/O and reads no
// wall clock; all randomness derives from the seed carried in ctx, so the
// same action sequence always produces the same state on every replica.
package reducer

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"

	"turnforge/internal/flow"
	"turnforge/internal/game"
	"turnforge/internal/state"
)

// Reducer applies actions to match state for one game type. It is safe for
// concurrent use: all mutation happens on copies.
type Reducer struct {
	p *game.Processed
	m *flow.Machine
}

// New processes the definition and builds its reducer.
func New(def *game.Definition) (*Reducer, error) {
	p, err := game.Process(def)
	if err != nil {
		return nil, err
	}
	return FromProcessed(p), nil
}

// FromProcessed builds a reducer over an already-processed definition.
func FromProcessed(p *game.Processed) *Reducer {
	return &Reducer{p: p, m: flow.New(p)}
}

// Game exposes the processed definition, for the coordinator's player-view
// filtering.
func (r *Reducer) Game() *game.Processed { return r.p }

// InitialState builds the setup state for a match with the given player
// count and deterministic seed.
func (r *Reducer) InitialState(numPlayers int, seed int64, setupData json.RawMessage) (*state.State, error) {
	def := r.p.Def
	if numPlayers < def.MinPlayers || numPlayers > def.MaxPlayers {
		return nil, fmt.Errorf("game %q: %d players outside [%d, %d]", def.Name, numPlayers, def.MinPlayers, def.MaxPlayers)
	}

	ctx := state.Ctx{
		NumPlayers: numPlayers,
		PlayOrder:  defaultPlayOrder(numPlayers),
		Seed:       seed,
	}
	rng := rand.New(rand.NewSource(seed))
	g := def.Setup(&game.SetupContext{NumPlayers: numPlayers, Random: rng, SetupData: setupData})
	if g == nil {
		return nil, fmt.Errorf("game %q: setup returned nil", def.Name)
	}

	fr := &flow.Frame{G: g, Ctx: &ctx, Random: rng}
	r.m.Init(fr)

	raw, err := r.p.EncodeG(g)
	if err != nil {
		return nil, err
	}
	return &state.State{G: raw, Ctx: *fr.Ctx, StateID: 0}, nil
}

// Apply runs one action against the state and returns the successor. On
// rejection the input state is returned unchanged together with a
// *state.Rejection describing why; the rejection is the only observable
// effect.
func (r *Reducer) Apply(s *state.State, a state.Action) (*state.State, error) {
	switch a.Type {
	case state.ActionMakeMove:
		return r.applyMove(s, a)
	case state.ActionGameEvent:
		return r.applyEvent(s, a)
	case state.ActionUndo:
		return r.applyUndo(s, a)
	case state.ActionRedo:
		return r.applyRedo(s, a)
	case state.ActionReset:
		return r.applyReset(s, a)
	default:
		return s, state.Rejectf(state.CodeMalformed, "reducer cannot apply action type %q", a.Type)
	}
}

func (r *Reducer) applyMove(s *state.State, a state.Action) (*state.State, error) {
	mv, rej := r.m.ResolveMove(&s.Ctx, a.Payload.PlayerID, a.Payload.Type)
	if rej != nil {
		return s, rej
	}
	args, err := a.DecodedArgs()
	if err != nil {
		return s, state.Rejectf(state.CodeMalformed, "move args: %v", err)
	}
	g, err := r.p.DecodeG(s.G)
	if err != nil {
		return s, fmt.Errorf("apply move %q: %w", a.Payload.Type, err)
	}

	workCtx := s.Ctx.Clone()
	rng := actionRand(&s.Ctx, s.StateID)
	mc := game.NewMoveContext(g, &workCtx, a.Payload.PlayerID, rng, args)
	if err := mv(mc); err != nil {
		return s, state.Rejectf(state.CodeInvalidMove, "%v", err)
	}

	fr := &flow.Frame{G: g, Ctx: &workCtx, Random: rng}
	r.m.AfterMove(fr, a.Payload.PlayerID)

	raw, err := r.p.EncodeG(g)
	if err != nil {
		return s, err
	}

	ns := r.successor(s, raw, fr.Ctx)
	if fr.Ctx.Turn == s.Ctx.Turn {
		ns.Undo = append(cloneForPush(s.Undo, r.p.UndoDepth), state.Snapshot{
			G:        append(json.RawMessage(nil), s.G...),
			Ctx:      s.Ctx.Clone(),
			PlayerID: a.Payload.PlayerID,
			MoveType: a.Payload.Type,
		})
	}
	ns.Deltalog = []state.LogEntry{r.logEntry(s, a, ns.StateID)}
	ns.Deltalog[0].Redact = r.p.Redacted(a.Payload.Type)
	return ns, nil
}

func (r *Reducer) applyEvent(s *state.State, a state.Action) (*state.State, error) {
	args, err := a.DecodedArgs()
	if err != nil {
		return s, state.Rejectf(state.CodeMalformed, "event args: %v", err)
	}
	g, err := r.p.DecodeG(s.G)
	if err != nil {
		return s, fmt.Errorf("apply event %q: %w", a.Payload.Type, err)
	}

	workCtx := s.Ctx.Clone()
	fr := &flow.Frame{G: g, Ctx: &workCtx, Random: actionRand(&s.Ctx, s.StateID)}
	if rej := r.m.ProcessEvent(fr, a.Payload.Type, args, a.Payload.PlayerID); rej != nil {
		return s, rej
	}

	raw, err := r.p.EncodeG(g)
	if err != nil {
		return s, err
	}
	ns := r.successor(s, raw, fr.Ctx)
	if fr.Ctx.Turn == s.Ctx.Turn {
		ns.Undo = append([]state.Snapshot(nil), s.Undo...)
		ns.Redo = append([]state.Snapshot(nil), s.Redo...)
	}
	ns.Deltalog = []state.LogEntry{r.logEntry(s, a, ns.StateID)}
	return ns, nil
}

func (r *Reducer) applyUndo(s *state.State, a state.Action) (*state.State, error) {
	if s.Ctx.Gameover != nil {
		return s, state.Rejectf(state.CodeGameOver, "game is over")
	}
	if len(s.Undo) == 0 {
		return s, state.Rejectf(state.CodeInvalidMove, "nothing to undo")
	}
	top := s.Undo[len(s.Undo)-1]
	if a.Payload.PlayerID != top.PlayerID {
		return s, state.Rejectf(state.CodeWrongPlayer, "only the player who made the last move may undo")
	}

	ns := &state.State{
		G:       append(json.RawMessage(nil), top.G...),
		Ctx:     top.Ctx.Clone(),
		Plugins: s.Plugins,
		StateID: s.StateID + 1,
	}
	ns.Undo = append([]state.Snapshot(nil), s.Undo[:len(s.Undo)-1]...)
	ns.Redo = append(append([]state.Snapshot(nil), s.Redo...), state.Snapshot{
		G:        append(json.RawMessage(nil), s.G...),
		Ctx:      s.Ctx.Clone(),
		PlayerID: top.PlayerID,
		MoveType: top.MoveType,
	})
	ns.Deltalog = []state.LogEntry{r.logEntry(s, a, ns.StateID)}
	return ns, nil
}

func (r *Reducer) applyRedo(s *state.State, a state.Action) (*state.State, error) {
	if s.Ctx.Gameover != nil {
		return s, state.Rejectf(state.CodeGameOver, "game is over")
	}
	if len(s.Redo) == 0 {
		return s, state.Rejectf(state.CodeInvalidMove, "nothing to redo")
	}
	top := s.Redo[len(s.Redo)-1]
	if a.Payload.PlayerID != top.PlayerID {
		return s, state.Rejectf(state.CodeWrongPlayer, "only the player who made the undone move may redo")
	}

	ns := &state.State{
		G:       append(json.RawMessage(nil), top.G...),
		Ctx:     top.Ctx.Clone(),
		Plugins: s.Plugins,
		StateID: s.StateID + 1,
	}
	ns.Redo = append([]state.Snapshot(nil), s.Redo[:len(s.Redo)-1]...)
	ns.Undo = append(append([]state.Snapshot(nil), s.Undo...), state.Snapshot{
		G:        append(json.RawMessage(nil), s.G...),
		Ctx:      s.Ctx.Clone(),
		PlayerID: top.PlayerID,
		MoveType: top.MoveType,
	})
	ns.Deltalog = []state.LogEntry{r.logEntry(s, a, ns.StateID)}
	return ns, nil
}

// applyReset rebuilds the initial setup state, preserving the monotonic
// state ID. The coordinator substitutes the persisted initial state when the
// match was created with setup data.
func (r *Reducer) applyReset(s *state.State, a state.Action) (*state.State, error) {
	initial, err := r.InitialState(s.Ctx.NumPlayers, s.Ctx.Seed, nil)
	if err != nil {
		return s, err
	}
	ns := initial
	ns.StateID = s.StateID + 1
	ns.Plugins = s.Plugins
	ns.Deltalog = []state.LogEntry{r.logEntry(s, a, ns.StateID)}
	return ns, nil
}

func (r *Reducer) successor(s *state.State, g json.RawMessage, ctx *state.Ctx) *state.State {
	return &state.State{
		G:       g,
		Ctx:     *ctx,
		Plugins: s.Plugins,
		StateID: s.StateID + 1,
	}
}

func (r *Reducer) logEntry(prev *state.State, a state.Action, stateID int64) state.LogEntry {
	return state.LogEntry{
		Action:  a.StripCredentials(),
		StateID: stateID,
		Turn:    prev.Ctx.Turn,
		Phase:   prev.Ctx.Phase,
	}
}

// cloneForPush copies an undo stack, dropping the oldest entries so one more
// push stays within the depth bound.
func cloneForPush(stack []state.Snapshot, depth int) []state.Snapshot {
	start := 0
	if len(stack) >= depth && depth > 0 {
		start = len(stack) - depth + 1
	}
	out := make([]state.Snapshot, 0, len(stack)-start+1)
	out = append(out, stack[start:]...)
	return out
}

// actionRand derives the deterministic random stream for the action that
// will produce the state with ID stateID+1.
func actionRand(ctx *state.Ctx, stateID int64) *rand.Rand {
	const mix = uint64(0x9e3779b97f4a7c15)
	seed := uint64(ctx.Seed) ^ uint64(stateID+1)*mix
	return rand.New(rand.NewSource(int64(seed)))
}

func defaultPlayOrder(numPlayers int) []string {
	order := make([]string, numPlayers)
	for i := range order {
		order[i] = strconv.Itoa(i)
	}
	return order
}
