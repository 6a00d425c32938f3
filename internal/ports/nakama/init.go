package nakama

import (
	"context"
	"database/sql"

	"github.com/heroiclabs/nakama-common/runtime"

	"turnforge/internal/auth"
	"turnforge/internal/game"
	"turnforge/internal/storage"
	"turnforge/internal/storage/memory"
)

// InitModule wires the match handler and RPCs into the Nakama runtime for
// one game definition. Matches live in an in-process store; Nakama already
// owns durable match listing through its label index.
func InitModule(def *game.Definition) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	return InitModuleWithStore(def, memory.New(), auth.Plain{})
}

// InitModuleWithStore is InitModule with explicit storage and credential
// collaborators.
func InitModuleWithStore(def *game.Definition, store storage.Store, authn auth.Authenticator) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
		if err := RegisterRPCs(initializer); err != nil {
			return err
		}
		if err := initializer.RegisterMatch(MatchName, NewMatch(def, store, authn)); err != nil {
			return err
		}
		logger.Info("turnforge module loaded, game %q registered.", def.Name)
		return nil
	}
}
