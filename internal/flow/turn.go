package flow

import (
	"turnforge/internal/game"
	"turnforge/internal/state"
)

// EndTurn finishes the current turn and begins the next one. nextPlayer, when
// non-empty, overrides the turn order's choice. If the order is exhausted the
// phase ends instead.
func (m *Machine) EndTurn(fr *Frame, nextPlayer string) {
	cp := m.phase(fr.Ctx)
	m.hook(fr, cp.Turn.OnEnd)
	if m.checkGameEnd(fr) {
		return
	}

	pos := -1
	if nextPlayer != "" {
		pos = indexOf(fr.Ctx.PlayOrder, nextPlayer)
	} else {
		pos = m.order(cp).Next(fr.turnContext())
	}
	if pos < 0 || pos >= len(fr.Ctx.PlayOrder) {
		m.EndPhase(fr, cp.Next)
		return
	}
	m.beginTurn(fr, cp, pos)
}

// beginTurn starts a turn with the given play-order position as current
// player, resetting move accounting and re-installing the phase's
// active-player configuration.
func (m *Machine) beginTurn(fr *Frame, cp *game.CompiledPhase, pos int) {
	fr.Ctx.Turn++
	fr.Ctx.PlayOrderPos = pos
	fr.Ctx.CurrentPlayer = fr.Ctx.PlayOrder[pos]
	fr.Ctx.NumMoves = 0

	cfg := cp.Turn.ActivePlayers
	if cfg == nil {
		if opener, ok := m.order(cp).(game.AllOpener); ok && opener.AllMayAct() {
			cfg = &game.ActivePlayers{All: true}
		}
	}
	m.installActivePlayers(fr, cfg)

	m.hook(fr, cp.Turn.OnBegin)
	m.checkGameEnd(fr)
}

// installActivePlayers resolves an active-player configuration into the
// context maps. A nil configuration clears the window: only the current
// player may act.
func (m *Machine) installActivePlayers(fr *Frame, cfg *game.ActivePlayers) {
	if cfg == nil {
		m.clearActivePlayers(fr.Ctx)
		return
	}

	var admitted []string
	switch {
	case cfg.All:
		admitted = append(admitted, fr.Ctx.PlayOrder...)
	case cfg.Others:
		for _, id := range fr.Ctx.PlayOrder {
			if id != fr.Ctx.CurrentPlayer {
				admitted = append(admitted, id)
			}
		}
	case len(cfg.Players) > 0:
		admitted = append(admitted, cfg.Players...)
	default:
		admitted = append(admitted, fr.Ctx.CurrentPlayer)
	}

	ctx := fr.Ctx
	ctx.ActivePlayers = make(map[string]string, len(admitted))
	ctx.ActiveMoves = make(map[string]int, len(admitted))
	ctx.ActiveMinMoves = nil
	ctx.ActiveMaxMoves = nil
	if cfg.MinMoves > 0 {
		ctx.ActiveMinMoves = make(map[string]int, len(admitted))
	}
	if cfg.MaxMoves > 0 {
		ctx.ActiveMaxMoves = make(map[string]int, len(admitted))
	}
	for _, id := range admitted {
		ctx.ActivePlayers[id] = cfg.Stage
		ctx.ActiveMoves[id] = 0
		if cfg.MinMoves > 0 {
			ctx.ActiveMinMoves[id] = cfg.MinMoves
		}
		if cfg.MaxMoves > 0 {
			ctx.ActiveMaxMoves[id] = cfg.MaxMoves
		}
	}
}

func (m *Machine) clearActivePlayers(ctx *state.Ctx) {
	ctx.ActivePlayers = nil
	ctx.ActiveMoves = nil
	ctx.ActiveMinMoves = nil
	ctx.ActiveMaxMoves = nil
}

// recordStageMove counts a move inside an active-player window and ends the
// player's stage once their allowance is used up.
func (m *Machine) recordStageMove(fr *Frame, cp *game.CompiledPhase, playerID string) {
	ctx := fr.Ctx
	ctx.ActiveMoves[playerID]++
	max, capped := ctx.ActiveMaxMoves[playerID]
	if capped && ctx.ActiveMoves[playerID] >= max {
		m.endStageFor(fr, cp, playerID)
	}
}

// endStageFor finishes playerID's participation in the current window,
// advancing them to their stage's successor when one is configured and
// removing them otherwise. When the last player finishes, the whole window
// ends and the default single-actor rule returns.
func (m *Machine) endStageFor(fr *Frame, cp *game.CompiledPhase, playerID string) {
	ctx := fr.Ctx
	stageName, ok := ctx.ActivePlayers[playerID]
	if !ok {
		return
	}
	if cp.Turn.Stages != nil {
		if st, ok := cp.Turn.Stages[stageName]; ok && st.Next != "" {
			ctx.ActivePlayers[playerID] = st.Next
			ctx.ActiveMoves[playerID] = 0
			return
		}
	}
	delete(ctx.ActivePlayers, playerID)
	delete(ctx.ActiveMoves, playerID)
	delete(ctx.ActiveMinMoves, playerID)
	delete(ctx.ActiveMaxMoves, playerID)
	if len(ctx.ActivePlayers) == 0 {
		m.clearActivePlayers(ctx)
	}
}

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}
