package main

import (
	"fmt"
	"os"
	"path/filepath"

	"crewlink/pkg/config"
	"crewlink/pkg/conflict"
	"crewlink/pkg/coord"
	"crewlink/pkg/crew"
	"crewlink/pkg/gateway"
	"crewlink/pkg/state"
	"crewlink/pkg/store"

	"github.com/spf13/cobra"
)

// newServeCmd creates the "crewlink serve" subcommand. It runs the
// coordination daemon in the foreground until SIGTERM or SIGINT.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination daemon",
		Long: `Runs the crewlink coordination daemon in the foreground.
It opens the interaction store, loads the crew roster, and listens
on the Unix socket until SIGTERM or SIGINT.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runServe(cmd, cfg)
		},
	}
}

// runServe wires the full daemon stack and blocks until shutdown.
func runServe(cmd *cobra.Command, cfg *config.Config) error {
	w := cmd.OutOrStdout()

	if err := cfg.EnsureHome(); err != nil {
		return err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	tbl := state.NewTable(st.DB())

	rosterPath := cfg.RosterPath
	if rosterPath == "" {
		rosterPath = filepath.Join(cfg.Home, "crews.toml")
	}
	roster, err := crew.NewRoster(rosterPath)
	if err != nil {
		return fmt.Errorf("load crew roster (set roster_path or CREWLINK_ROSTER): %w", err)
	}

	hub := gateway.NewHub(cfg.BufferCap)
	engine := conflict.NewEngine(st, tbl, roster, hub)
	svc := coord.NewService(st, tbl, roster, engine, hub)
	srv := gateway.NewServer(gateway.Config{
		SocketPath:        cfg.SocketPath,
		BufferCap:         cfg.BufferCap,
		KeepAliveInterval: cfg.KeepAliveInterval,
		IdleTimeout:       cfg.IdleTimeout,
	}, svc, hub)

	pid := pidPath(cfg)
	if err := WritePIDFile(pid, os.Getpid()); err != nil {
		return err
	}

	ctx, cleanup := SetupSignalHandler(cmd.Context(), pid)
	defer cleanup()

	go roster.Watch(ctx)

	fmt.Fprintf(w, "crewlink daemon listening on %s (PID %d)\n", cfg.SocketPath, os.Getpid())
	return srv.Run(ctx)
}
