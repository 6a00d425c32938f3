// Package cli assembles the turnforge server commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"turnforge/internal/auth"
	"turnforge/internal/config"
	"turnforge/internal/game"
	luagame "turnforge/internal/game/lua"
	"turnforge/internal/games/tictactoe"
	"turnforge/internal/storage"
	"turnforge/internal/storage/memory"
	"turnforge/internal/storage/sqlite"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the turnforge root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "turnforge",
		Short:         "Authoritative turn-based game server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewCreateMatchCommand(opts))
	cmd.AddCommand(NewListMatchesCommand(opts))
	return cmd
}

// loadConfig reads the config file named by the global flag plus environment
// overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	return config.Load(opts.ConfigPath)
}

// openStore builds the configured match store.
func openStore(cfg *config.Config) (storage.Store, func() error, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return memory.New(), func() error { return nil }, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// buildAuth builds the configured credential scheme.
func buildAuth(cfg *config.Config) (auth.Authenticator, error) {
	switch cfg.Auth.Mode {
	case "", "plain":
		return auth.Plain{}, nil
	case "jwt":
		return auth.NewJWT([]byte(cfg.Auth.Secret))
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
}

// loadGames builds the definitions this server hosts: the built-in games plus
// any Lua scripts named in the config.
func loadGames(cfg *config.Config) (map[string]*game.Definition, error) {
	defs := map[string]*game.Definition{}
	ttt := tictactoe.Definition()
	defs[ttt.Name] = ttt

	for _, path := range cfg.LuaGames {
		def, err := luagame.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load lua game %s: %w", path, err)
		}
		if _, dup := defs[def.Name]; dup {
			return nil, fmt.Errorf("duplicate game name %q from %s", def.Name, path)
		}
		defs[def.Name] = def
	}
	return defs, nil
}
