// Package tictactoe is the sample game definition used by the demo commands
// and the engine's end-to-end tests: a 3x3 board, cells indexed 0-8, two
// players placing their IDs into empty cells.
package tictactoe

import (
	"turnforge/internal/game"
	"turnforge/internal/state"
)

// Board is the game payload: nil means an empty cell, otherwise the cell
// holds the ID of the player who claimed it.
type Board struct {
	Cells []*string `json:"cells"`
}

var winningLines = [][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Result is the terminal payload installed in ctx.gameover.
type Result struct {
	Winner string `json:"winner,omitempty"`
	Draw   bool   `json:"draw,omitempty"`
}

func isVictory(cells []*string) bool {
	for _, line := range winningLines {
		a, b, c := cells[line[0]], cells[line[1]], cells[line[2]]
		if a != nil && b != nil && c != nil && *a == *b && *b == *c {
			return true
		}
	}
	return false
}

func isDraw(cells []*string) bool {
	for _, c := range cells {
		if c == nil {
			return false
		}
	}
	return true
}

func clickCell(mc *game.MoveContext) error {
	board := mc.G.(*Board)
	id, ok := mc.Int(0)
	if !ok || id < 0 || id >= len(board.Cells) {
		return game.ErrInvalidMove
	}
	if board.Cells[id] != nil {
		return game.ErrInvalidMove
	}
	player := mc.PlayerID
	board.Cells[id] = &player
	return nil
}

// Definition returns the tic-tac-toe game definition.
func Definition() *game.Definition {
	return &game.Definition{
		Name:       "tic-tac-toe",
		MinPlayers: 2,
		MaxPlayers: 2,

		Setup: func(sc *game.SetupContext) any {
			return &Board{Cells: make([]*string, 9)}
		},

		Moves: map[string]game.Move{
			"clickCell": clickCell,
		},

		Turn: &game.Turn{MinMoves: 1, MaxMoves: 1},

		EndIf: func(g any, ctx *state.Ctx) any {
			board := g.(*Board)
			if isVictory(board.Cells) {
				return &Result{Winner: ctx.CurrentPlayer}
			}
			if isDraw(board.Cells) {
				return &Result{Draw: true}
			}
			return nil
		},

		Enumerate: func(g any, ctx *state.Ctx, playerID string) []game.MoveRequest {
			board := g.(*Board)
			var moves []game.MoveRequest
			for i, c := range board.Cells {
				if c == nil {
					moves = append(moves, game.MoveRequest{Move: "clickCell", Args: []any{i}})
				}
			}
			return moves
		},
	}
}
