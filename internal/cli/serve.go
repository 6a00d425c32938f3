package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"turnforge/internal/lobby"
	"turnforge/internal/master"
	"turnforge/internal/reducer"
	"turnforge/internal/transport/ws"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the game server",
		Long: `Run the websocket game server.

Each hosted game gets a websocket endpoint at /games/{name}; the lobby REST
API is mounted under /lobby.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(rootOpts)
		},
	}
}

func serve(rootOpts *RootOptions) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	log := cfg.Logger()
	slog.SetDefault(log)

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	authn, err := buildAuth(cfg)
	if err != nil {
		return err
	}
	defs, err := loadGames(cfg)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	reducers := map[string]*reducer.Reducer{}
	for name, def := range defs {
		hub := ws.NewHub(cfg.Server.AllowedOrigins, log)
		m, err := master.New(def, store, authn, hub, master.Options{
			AutoCreate:        cfg.Match.AutoCreate,
			DefaultNumPlayers: cfg.Match.DefaultNumPlayers,
			ChatHistory:       cfg.Match.ChatHistory,
			Logger:            log,
		})
		if err != nil {
			return err
		}
		hub.Attach(m)
		reducers[name] = m.Reducer()
		mux.HandleFunc("/games/"+name, hub.ServeWS)
		log.Info("game mounted", "game", name, "path", "/games/"+name)
	}

	lb := lobby.New(reducers, store, authn)
	mux.Handle("/lobby/", http.StripPrefix("/lobby", lb.Handler(log)))

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
