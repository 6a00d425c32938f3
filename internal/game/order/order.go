// Package order provides the built-in turn-order strategies consumed by the
// turn machine: round-robin (the default), once-per-round, any-player and
// custom orders.
package order

import "turnforge/internal/game"

// RoundRobin rotates through ctx.PlayOrder, wrapping at the end. It is the
// behaviour used when a turn configuration names no order.
type RoundRobin struct{}

// Default returns the round-robin strategy.
func Default() game.Order { return RoundRobin{} }

func (RoundRobin) First(tc *game.TurnContext) int { return 0 }

func (RoundRobin) Next(tc *game.TurnContext) int {
	n := len(tc.Ctx.PlayOrder)
	if n == 0 {
		return -1
	}
	return (tc.Ctx.PlayOrderPos + 1) % n
}

// OnceEach gives every player in play order exactly one turn, then ends the
// phase.
type OnceEach struct{}

// Once returns the once-per-round strategy.
func Once() game.Order { return OnceEach{} }

func (OnceEach) First(tc *game.TurnContext) int { return 0 }

func (OnceEach) Next(tc *game.TurnContext) int {
	next := tc.Ctx.PlayOrderPos + 1
	if next >= len(tc.Ctx.PlayOrder) {
		return -1
	}
	return next
}

// AnyPlayer keeps the nominal current player fixed and opens the
// active-player set to everyone, so any player may make the next move.
type AnyPlayer struct{}

// Any returns the any-player strategy.
func Any() game.Order { return AnyPlayer{} }

func (AnyPlayer) First(tc *game.TurnContext) int { return 0 }

func (AnyPlayer) Next(tc *game.TurnContext) int { return tc.Ctx.PlayOrderPos }

// AllMayAct marks the strategy as opening the active-player set each turn.
func (AnyPlayer) AllMayAct() bool { return true }

// FixedOrder walks an explicit player sequence supplied by the game. The
// sequence replaces ctx.PlayOrder when its phase begins.
type FixedOrder struct {
	IDs []string
	// Loop restarts the sequence after the last entry instead of ending
	// the phase.
	Loop bool
}

// Custom returns a strategy over an explicit, non-looping player sequence.
func Custom(ids ...string) game.Order { return FixedOrder{IDs: ids} }

// CustomLoop returns a strategy that cycles an explicit player sequence.
func CustomLoop(ids ...string) game.Order { return FixedOrder{IDs: ids, Loop: true} }

func (o FixedOrder) First(tc *game.TurnContext) int { return 0 }

func (o FixedOrder) Next(tc *game.TurnContext) int {
	next := tc.Ctx.PlayOrderPos + 1
	if next >= len(tc.Ctx.PlayOrder) {
		if o.Loop && len(tc.Ctx.PlayOrder) > 0 {
			return 0
		}
		return -1
	}
	return next
}

// StartingPlayOrder installs the explicit sequence as the play order.
func (o FixedOrder) StartingPlayOrder(tc *game.TurnContext) []string {
	return append([]string(nil), o.IDs...)
}
