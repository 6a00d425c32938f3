package main

import (
	"context"
	"database/sql"

	"github.com/heroiclabs/nakama-common/runtime"

	"turnforge/internal/games/tictactoe"
	"turnforge/internal/ports/nakama"
)

// InitModule is the entry point Nakama loads from the plugin. It registers
// the built-in game; deployments with their own games build a variant of
// this file.
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	return nakama.InitModule(tictactoe.Definition())(ctx, logger, db, nk, initializer)
}

// main is never called; Nakama loads this package as a Go plugin via
// InitModule. It exists so the package satisfies go build.
func main() {}
