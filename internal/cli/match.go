package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"turnforge/internal/lobby"
	"turnforge/internal/reducer"
	"turnforge/internal/storage"
)

// NewCreateMatchCommand creates the create-match command.
func NewCreateMatchCommand(rootOpts *RootOptions) *cobra.Command {
	var numPlayers int
	var unlisted bool

	cmd := &cobra.Command{
		Use:   "create-match <game>",
		Short: "Create a match in the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lb, cleanup, err := buildLobby(rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			matchID, err := lb.CreateMatch(cmd.Context(), args[0], lobby.CreateRequest{
				NumPlayers: numPlayers,
				Unlisted:   unlisted,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), matchID)
			return nil
		},
	}
	cmd.Flags().IntVarP(&numPlayers, "players", "n", 0, "number of players (default: game minimum)")
	cmd.Flags().BoolVar(&unlisted, "unlisted", false, "hide the match from listings")
	return cmd
}

// NewListMatchesCommand creates the list-matches command.
func NewListMatchesCommand(rootOpts *RootOptions) *cobra.Command {
	var gameover bool
	var inProgress bool

	cmd := &cobra.Command{
		Use:   "list-matches <game>",
		Short: "List matches of a game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lb, cleanup, err := buildLobby(rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			filter := storage.ListFilter{}
			if gameover != inProgress {
				over := gameover
				filter.IsGameover = &over
			}
			matches, err := lb.ListMatches(cmd.Context(), args[0], filter)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(matches)
		},
	}
	cmd.Flags().BoolVar(&gameover, "gameover", false, "only finished matches")
	cmd.Flags().BoolVar(&inProgress, "in-progress", false, "only running matches")
	return cmd
}

func buildLobby(rootOpts *RootOptions) (*lobby.Lobby, func(), error) {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	authn, err := buildAuth(cfg)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	defs, err := loadGames(cfg)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	reducers := map[string]*reducer.Reducer{}
	for name, def := range defs {
		r, err := reducer.New(def)
		if err != nil {
			_ = closeStore()
			return nil, nil, err
		}
		reducers[name] = r
	}
	return lobby.New(reducers, store, authn), func() { _ = closeStore() }, nil
}
