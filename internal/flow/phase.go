package flow

import "turnforge/internal/game"

// EndPhase leaves the current phase and enters next ("" returns to the
// game-level configuration). Phase entry re-initialises the turn and
// active-player configuration.
func (m *Machine) EndPhase(fr *Frame, next string) {
	cp := m.phase(fr.Ctx)
	m.hook(fr, cp.OnEnd)
	if m.checkGameEnd(fr) {
		return
	}
	fr.Ctx.Phase = next
	m.beginPhase(fr)
}

// beginPhase runs phase entry: play-order replacement for custom orders, the
// entry hook, and the phase's first turn.
func (m *Machine) beginPhase(fr *Frame) {
	cp := m.phase(fr.Ctx)
	ord := m.order(cp)

	if po, ok := ord.(game.PlayOrderer); ok {
		if order := po.StartingPlayOrder(fr.turnContext()); len(order) > 0 {
			fr.Ctx.PlayOrder = order
		}
	}

	m.hook(fr, cp.OnBegin)
	if m.checkGameEnd(fr) {
		return
	}

	pos := ord.First(fr.turnContext())
	if pos < 0 || pos >= len(fr.Ctx.PlayOrder) {
		pos = 0
	}
	m.beginTurn(fr, cp, pos)
}
