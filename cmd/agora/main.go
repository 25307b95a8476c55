// Command agora runs and inspects agora world-economy simulations.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talgya/agora/internal/catalog"
	"github.com/talgya/agora/internal/config"
	"github.com/talgya/agora/internal/persistence"
)

// app carries what every subcommand shares.
type app struct {
	configPath string
	cfg        *config.Config
	out        io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:   "agora",
		Short: "agora: a deterministic tick-based world economy",
		Long: "agora runs a population of agents on a location graph. Each tick every agent " +
			"harvests, crafts, trades, contracts or governs; the engine resolves actions in " +
			"agent order and reports inequality, network and institution metrics.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			a.cfg = cfg
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default: ./agora.yaml or ~/.agora/agora.yaml)")

	root.AddCommand(
		a.runCmd(),
		a.catalogCmd(),
		a.runsCmd(),
		a.snapshotCmd(),
	)
	return root
}

func (a *app) newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch a.cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if a.cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func (a *app) loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		path = a.cfg.Catalog.Path
	}
	return catalog.Load(path)
}

func (a *app) openDB() (*persistence.DB, error) {
	if a.cfg.Storage.DBPath == "" {
		return nil, fmt.Errorf("no database configured (storage.db_path)")
	}
	return persistence.Open(a.cfg.Storage.DBPath)
}
