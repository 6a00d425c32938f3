package ai

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnforge/internal/auth"
	"turnforge/internal/client"
	"turnforge/internal/game"
	"turnforge/internal/games/tictactoe"
	"turnforge/internal/master"
	"turnforge/internal/state"
	"turnforge/internal/storage/memory"
	"turnforge/internal/transport/local"
)

func connectClient(t *testing.T, network *local.Network, playerID string) *client.Client {
	t.Helper()
	c, err := client.New(tictactoe.Definition(), client.Options{
		MatchID:    "m1",
		PlayerID:   playerID,
		NumPlayers: 2,
	})
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background(), network.NewConn(c)))
	t.Cleanup(func() { _ = c.Disconnect() })
	require.Eventually(t, func() bool { return c.State() != nil }, 2*time.Second, 10*time.Millisecond)
	return c
}

func newNetwork(t *testing.T) *local.Network {
	t.Helper()
	network := local.NewNetwork()
	m, err := master.New(tictactoe.Definition(), memory.New(), auth.Plain{}, network, master.Options{
		AutoCreate: true,
		Seed:       func() int64 { return 42 },
	})
	require.NoError(t, err)
	network.Attach(m)
	return network
}

func TestNewRequiresEnumerate(t *testing.T) {
	def := tictactoe.Definition()
	def.Enumerate = nil
	c, err := client.New(def, client.Options{})
	require.NoError(t, err)
	if _, err := New("bot", c, nil); err == nil {
		t.Fatalf("agent accepted a game without move enumeration")
	}
}

func TestPlaySkipsWhenNotActive(t *testing.T) {
	network := newNetwork(t)
	_ = connectClient(t, network, "0")
	c1 := connectClient(t, network, "1")

	agent, err := New("bot", c1, &Random{Source: rand.NewSource(1)})
	require.NoError(t, err)

	moved, err := agent.Play()
	require.NoError(t, err)
	assert.False(t, moved, "player 1 is not active on the first turn")
}

func TestScriptedAgentsPlayToCompletion(t *testing.T) {
	network := newNetwork(t)
	c0 := connectClient(t, network, "0")
	c1 := connectClient(t, network, "1")

	script := func(cells ...int) []game.MoveRequest {
		out := make([]game.MoveRequest, len(cells))
		for i, cell := range cells {
			out[i] = game.MoveRequest{Move: "clickCell", Args: []any{cell}}
		}
		return out
	}
	bot0, err := New("x", c0, &Scripted{Moves: script(0, 1, 2)})
	require.NoError(t, err)
	bot1, err := New("o", c1, &Scripted{Moves: script(3, 4)})
	require.NoError(t, err)

	stop0 := bot0.Run()
	defer stop0()
	stop1 := bot1.Run()
	defer stop1()

	require.Eventually(t, func() bool {
		s := c0.State()
		return s != nil && s.Ctx.Gameover != nil
	}, 5*time.Second, 10*time.Millisecond, "the scripted game should finish")

	var res tictactoe.Result
	require.NoError(t, json.Unmarshal(c0.State().Ctx.Gameover, &res))
	assert.Equal(t, "0", res.Winner)
}

func TestRandomAgentsFinishTheMatch(t *testing.T) {
	network := newNetwork(t)
	c0 := connectClient(t, network, "0")
	c1 := connectClient(t, network, "1")

	bot0, err := New("x", c0, &Random{Source: rand.NewSource(7)})
	require.NoError(t, err)
	bot1, err := New("o", c1, &Random{Source: rand.NewSource(8)})
	require.NoError(t, err)

	stop0 := bot0.Run()
	defer stop0()
	stop1 := bot1.Run()
	defer stop1()

	require.Eventually(t, func() bool {
		s0, s1 := c0.State(), c1.State()
		return s0 != nil && s0.Ctx.Gameover != nil && s1 != nil && s1.Ctx.Gameover != nil
	}, 5*time.Second, 10*time.Millisecond, "random play always terminates in tic-tac-toe")
}

func TestScriptedRejectsIllegalMove(t *testing.T) {
	s := &Scripted{Moves: []game.MoveRequest{{Move: "clickCell", Args: []any{4}}}}
	options := []game.MoveRequest{{Move: "clickCell", Args: []any{0}}}

	_, err := s.CalculateMove(nil, &state.Ctx{}, "0", options)
	require.Error(t, err, "a scripted move that is not currently legal must fail")

	mv, err := s.CalculateMove(nil, &state.Ctx{}, "0", []game.MoveRequest{{Move: "clickCell", Args: []any{4}}})
	require.NoError(t, err)
	assert.Equal(t, "clickCell", mv.Move)

	// Script exhausted: the agent goes quiet instead of erroring.
	mv, err = s.CalculateMove(nil, &state.Ctx{}, "0", options)
	require.NoError(t, err)
	assert.Empty(t, mv.Move)
}
