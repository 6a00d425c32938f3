// Package ai runs autonomous players over the ordinary client API, so bots
// exercise exactly the sync, prediction and rejection paths a human client
// does.
package ai

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"

	"turnforge/internal/client"
	"turnforge/internal/game"
	"turnforge/internal/state"
)

// Brain selects one of the legal moves enumerated by the game definition.
type Brain interface {
	CalculateMove(g any, ctx *state.Ctx, playerID string, options []game.MoveRequest) (game.MoveRequest, error)
}

// Agent plays one seat of a match through a client.
type Agent struct {
	Name  string
	Brain Brain

	client *client.Client

	// mu serialises Play between the Run loop and direct callers.
	mu sync.Mutex
}

// New builds an agent over a connected client. The definition must provide an
// Enumerate hook.
func New(name string, c *client.Client, brain Brain) (*Agent, error) {
	if c.Game().Def.Enumerate == nil {
		return nil, fmt.Errorf("game %q does not enumerate moves, agents cannot play it", c.Game().Def.Name)
	}
	if brain == nil {
		brain = &Random{}
	}
	return &Agent{Name: name, Brain: brain, client: c}, nil
}

// Play makes one move if it is the agent's turn. Reports whether a move was
// submitted.
func (a *Agent) Play() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.client.State()
	if s == nil || s.Ctx.Gameover != nil {
		return false, nil
	}
	playerID := a.client.PlayerID()
	if !s.Ctx.PlayerIsActive(playerID) {
		return false, nil
	}

	g, err := a.client.Game().DecodeG(s.G)
	if err != nil {
		return false, fmt.Errorf("decode state: %w", err)
	}
	options := a.client.Game().Def.Enumerate(g, &s.Ctx, playerID)
	if len(options) == 0 {
		return false, nil
	}

	mv, err := a.Brain.CalculateMove(g, &s.Ctx, playerID, options)
	if err != nil {
		return false, err
	}
	if mv.Move == "" {
		return false, nil
	}
	if err := a.client.Move(mv.Move, mv.Args...); err != nil {
		return false, err
	}
	return true, nil
}

// Run subscribes the agent to state changes and plays whenever it becomes
// active. The returned function stops it.
//
// Moves run on a dedicated goroutine: subscription callbacks fire on the
// client's delivery path and only arm a trigger, so playing never blocks
// delivery and a notification arriving mid-move re-runs the agent afterwards.
func (a *Agent) Run() func() {
	trigger := make(chan struct{}, 1)
	done := make(chan struct{})
	arm := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}
	unsubscribe := a.client.Subscribe(arm)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-trigger:
				_, _ = a.Play()
			}
		}
	}()
	arm()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(done)
		})
	}
}

// Random picks uniformly among the legal moves. A nil Source plays
// non-deterministically.
type Random struct {
	Source rand.Source
}

// CalculateMove returns a uniformly random option.
func (r *Random) CalculateMove(g any, ctx *state.Ctx, playerID string, options []game.MoveRequest) (game.MoveRequest, error) {
	if len(options) == 0 {
		return game.MoveRequest{}, nil
	}
	if r.Source != nil {
		return options[rand.New(r.Source).Intn(len(options))], nil
	}
	return options[rand.Intn(len(options))], nil
}

// Scripted replays a fixed move sequence, for tests and demos.
type Scripted struct {
	Moves []game.MoveRequest
	next  int
}

// CalculateMove returns the next scripted move that is currently legal.
func (s *Scripted) CalculateMove(g any, ctx *state.Ctx, playerID string, options []game.MoveRequest) (game.MoveRequest, error) {
	if s.next >= len(s.Moves) {
		return game.MoveRequest{}, nil
	}
	want := s.Moves[s.next]
	for _, opt := range options {
		if opt.Move == want.Move && sameArgs(opt.Args, want.Args) {
			s.next++
			return want, nil
		}
	}
	return game.MoveRequest{}, fmt.Errorf("scripted move %q is not legal now", want.Move)
}

func sameArgs(a, b []any) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}
