// Package lua loads game definitions from Lua scripts, so new games can be
// added to a running server binary without recompiling. A script returns a
// table:
//
//	return {
//	    name = "example",
//	    min_players = 2,
//	    setup = function(num_players) return { counter = 0 } end,
//	    moves = {
//	        bump = function(G, ctx, player_id, n) G.counter = G.counter + n end,
//	    },
//	    turn = { min_moves = 1, max_moves = 1 },
//	    end_if = function(G, ctx)
//	        if G.counter >= 10 then return { winner = ctx.current_player } end
//	    end,
//	}
//
// Game state crosses the boundary as tables and comes back as
// map[string]any, which the engine serialises like any other G.
package lua

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	glua "github.com/yuin/gopher-lua"

	"turnforge/internal/game"
	"turnforge/internal/state"
)

// Load reads and evaluates a game definition script.
func Load(path string) (*game.Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read game script: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return LoadString(name, string(src))
}

// LoadString evaluates a game definition from source. fallbackName is used
// when the script does not set one.
func LoadString(fallbackName, src string) (*game.Definition, error) {
	L := glua.NewState()
	if err := L.DoString(src); err != nil {
		L.Close()
		return nil, fmt.Errorf("run game script: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	spec, ok := ret.(*glua.LTable)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("game script must return a table, got %s", ret.Type())
	}

	g := &luaGame{L: L, spec: spec}
	def, err := g.definition(fallbackName)
	if err != nil {
		L.Close()
		return nil, err
	}
	return def, nil
}

// luaGame owns one interpreter. LStates are not safe for concurrent use, so
// every callback serialises on mu; per-match serialisation already happens in
// the coordinator, the lock only matters when matches of the same definition
// overlap.
type luaGame struct {
	mu   sync.Mutex
	L    *glua.LState
	spec *glua.LTable
}

func (g *luaGame) definition(fallbackName string) (*game.Definition, error) {
	name := stringField(g.spec, "name")
	if name == "" {
		name = fallbackName
	}
	setup := g.spec.RawGetString("setup")
	if _, ok := setup.(*glua.LFunction); !ok {
		return nil, fmt.Errorf("game %q: setup function is required", name)
	}

	def := &game.Definition{
		Name:       name,
		MinPlayers: intField(g.spec, "min_players"),
		MaxPlayers: intField(g.spec, "max_players"),
		Setup:      g.setupFn(setup.(*glua.LFunction)),
		Moves:      map[string]game.Move{},
	}

	movesVal := g.spec.RawGetString("moves")
	moves, ok := movesVal.(*glua.LTable)
	if !ok {
		return nil, fmt.Errorf("game %q: moves table is required", name)
	}
	var moveErr error
	moves.ForEach(func(k, v glua.LValue) {
		fn, ok := v.(*glua.LFunction)
		if !ok {
			moveErr = fmt.Errorf("game %q: move %s is not a function", name, k.String())
			return
		}
		def.Moves[k.String()] = g.moveFn(fn)
	})
	if moveErr != nil {
		return nil, moveErr
	}

	if turn, ok := g.spec.RawGetString("turn").(*glua.LTable); ok {
		def.Turn = &game.Turn{
			MinMoves: intField(turn, "min_moves"),
			MaxMoves: intField(turn, "max_moves"),
		}
	}
	if endIf, ok := g.spec.RawGetString("end_if").(*glua.LFunction); ok {
		def.EndIf = g.endIfFn(endIf)
	}
	if view, ok := g.spec.RawGetString("player_view").(*glua.LFunction); ok {
		def.PlayerView = g.playerViewFn(view)
	}
	return def, nil
}

func (g *luaGame) setupFn(fn *glua.LFunction) func(sc *game.SetupContext) any {
	return func(sc *game.SetupContext) any {
		g.mu.Lock()
		defer g.mu.Unlock()
		ret, err := g.call(fn, 1, glua.LNumber(sc.NumPlayers))
		if err != nil {
			return nil
		}
		m, ok := toGo(ret).(map[string]any)
		if !ok {
			return nil
		}
		return m
	}
}

func (g *luaGame) moveFn(fn *glua.LFunction) game.Move {
	return func(mc *game.MoveContext) error {
		gm, ok := mc.G.(map[string]any)
		if !ok {
			return fmt.Errorf("lua game state must be a table")
		}
		g.mu.Lock()
		defer g.mu.Unlock()

		args := []glua.LValue{toLua(g.L, gm), g.ctxTable(mc.Ctx), glua.LString(mc.PlayerID)}
		for _, a := range mc.Args() {
			args = append(args, toLua(g.L, a))
		}
		ret, err := g.call(fn, 1, args...)
		if err != nil {
			// A raised Lua error is the script's invalid-move signal.
			return fmt.Errorf("%w: %v", game.ErrInvalidMove, err)
		}
		// The move mutates its G argument; a returned table replaces it.
		next := toGo(args[0])
		if t, ok := ret.(*glua.LTable); ok {
			next = toGo(t)
		}
		nm, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("lua move produced non-table state")
		}
		replaceMap(gm, nm)
		return nil
	}
}

func (g *luaGame) endIfFn(fn *glua.LFunction) func(gs any, ctx *state.Ctx) any {
	return func(gs any, ctx *state.Ctx) any {
		gm, ok := gs.(map[string]any)
		if !ok {
			return nil
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		ret, err := g.call(fn, 1, toLua(g.L, gm), g.ctxTable(ctx))
		if err != nil || ret == glua.LNil {
			return nil
		}
		return toGo(ret)
	}
}

func (g *luaGame) playerViewFn(fn *glua.LFunction) func(gs any, ctx *state.Ctx, playerID string) any {
	return func(gs any, ctx *state.Ctx, playerID string) any {
		gm, ok := gs.(map[string]any)
		if !ok {
			return gs
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		ret, err := g.call(fn, 1, toLua(g.L, gm), g.ctxTable(ctx), glua.LString(playerID))
		if err != nil || ret == glua.LNil {
			return gs
		}
		return toGo(ret)
	}
}

func (g *luaGame) call(fn *glua.LFunction, nret int, args ...glua.LValue) (glua.LValue, error) {
	if err := g.L.CallByParam(glua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		return glua.LNil, err
	}
	ret := g.L.Get(-1)
	g.L.Pop(nret)
	return ret, nil
}

// ctxTable exposes the engine context to scripts, snake_cased.
func (g *luaGame) ctxTable(ctx *state.Ctx) *glua.LTable {
	t := g.L.NewTable()
	t.RawSetString("num_players", glua.LNumber(ctx.NumPlayers))
	t.RawSetString("current_player", glua.LString(ctx.CurrentPlayer))
	t.RawSetString("phase", glua.LString(ctx.Phase))
	t.RawSetString("turn", glua.LNumber(ctx.Turn))
	t.RawSetString("num_moves", glua.LNumber(ctx.NumMoves))
	order := g.L.NewTable()
	for i, p := range ctx.PlayOrder {
		order.RawSetInt(i+1, glua.LString(p))
	}
	t.RawSetString("play_order", order)
	return t
}

// toLua converts a decoded JSON value into a Lua value.
func toLua(L *glua.LState, v any) glua.LValue {
	switch x := v.(type) {
	case nil:
		return glua.LNil
	case bool:
		return glua.LBool(x)
	case float64:
		return glua.LNumber(x)
	case int:
		return glua.LNumber(x)
	case string:
		return glua.LString(x)
	case []any:
		t := L.NewTable()
		for i, e := range x {
			t.RawSetInt(i+1, toLua(L, e))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, e := range x {
			t.RawSetString(k, toLua(L, e))
		}
		return t
	default:
		return glua.LString(fmt.Sprint(x))
	}
}

// toGo converts a Lua value into a JSON-shaped Go value. Tables with a dense
// 1..n integer index become slices, everything else becomes a map.
func toGo(v glua.LValue) any {
	switch x := v.(type) {
	case *glua.LNilType:
		return nil
	case glua.LBool:
		return bool(x)
	case glua.LNumber:
		return float64(x)
	case glua.LString:
		return string(x)
	case *glua.LTable:
		n := x.MaxN()
		if n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, toGo(x.RawGetInt(i)))
			}
			return out
		}
		out := map[string]any{}
		x.ForEach(func(k, e glua.LValue) {
			out[k.String()] = toGo(e)
		})
		return out
	default:
		return nil
	}
}

func replaceMap(dst, src map[string]any) {
	for k := range dst {
		delete(dst, k)
	}
	for k, v := range src {
		dst[k] = v
	}
}

func stringField(t *glua.LTable, key string) string {
	if s, ok := t.RawGetString(key).(glua.LString); ok {
		return string(s)
	}
	return ""
}

func intField(t *glua.LTable, key string) int {
	if n, ok := t.RawGetString(key).(glua.LNumber); ok {
		return int(n)
	}
	return 0
}
