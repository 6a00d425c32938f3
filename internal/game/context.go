package game

import (
	"encoding/json"
	"math/rand"

	"turnforge/internal/state"
)

// SetupContext is passed to a game's Setup function.
type SetupContext struct {
	NumPlayers int
	Random     *rand.Rand
	SetupData  json.RawMessage
}

// MoveContext is the single argument to move handlers and hooks. G is the
// decoded game payload; handlers mutate it in place.
type MoveContext struct {
	G        any
	Ctx      *state.Ctx
	PlayerID string
	Random   *rand.Rand

	args []any
}

// NewMoveContext builds a context with the given decoded arguments. It is
// exported for the engine and for tests that exercise handlers directly.
func NewMoveContext(g any, ctx *state.Ctx, playerID string, random *rand.Rand, args []any) *MoveContext {
	return &MoveContext{G: g, Ctx: ctx, PlayerID: playerID, Random: random, args: args}
}

// Args returns the raw decoded argument list.
func (mc *MoveContext) Args() []any { return mc.args }

// NumArgs returns the number of arguments supplied with the move.
func (mc *MoveContext) NumArgs() int { return len(mc.args) }

// Arg returns argument i, or nil when absent.
func (mc *MoveContext) Arg(i int) any {
	if i < 0 || i >= len(mc.args) {
		return nil
	}
	return mc.args[i]
}

// Int returns argument i as an int. JSON numbers decode as float64; native
// ints from in-process callers are accepted too. Returns ok=false when the
// argument is absent or not numeric.
func (mc *MoveContext) Int(i int) (int, bool) {
	switch v := mc.Arg(i).(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// String returns argument i as a string.
func (mc *MoveContext) String(i int) (string, bool) {
	s, ok := mc.Arg(i).(string)
	return s, ok
}

// Bool returns argument i as a bool.
func (mc *MoveContext) Bool(i int) (bool, bool) {
	b, ok := mc.Arg(i).(bool)
	return b, ok
}

// Object returns argument i as a decoded JSON object.
func (mc *MoveContext) Object(i int) (map[string]any, bool) {
	m, ok := mc.Arg(i).(map[string]any)
	return m, ok
}
