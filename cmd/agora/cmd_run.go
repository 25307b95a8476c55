package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/api"
	"github.com/talgya/agora/internal/config"
	"github.com/talgya/agora/internal/engine"
	"github.com/talgya/agora/internal/persistence"
	"github.com/talgya/agora/internal/policy"
)

const progressEvery = 10

type runFlags struct {
	ticks  int
	agents int
	seed   int64
	source string
	resume string
	noAPI  bool
}

func (a *app) runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation",
		Long: "Run a simulation until --ticks ticks have passed or the process is interrupted. " +
			"Cancellation takes effect between ticks; a final snapshot is written on exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("ticks") {
				a.cfg.Run.Ticks = f.ticks
			}
			if cmd.Flags().Changed("agents") {
				a.cfg.Run.Agents = f.agents
			}
			if cmd.Flags().Changed("seed") {
				a.cfg.Run.Seed = f.seed
			}
			if cmd.Flags().Changed("source") {
				a.cfg.Decision.Source = f.source
			}
			if f.noAPI {
				a.cfg.API.Enabled = false
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return a.run(cmd.Context(), f.resume)
		},
	}
	cmd.Flags().IntVarP(&f.ticks, "ticks", "n", 0, "ticks to run (0 runs until interrupted)")
	cmd.Flags().IntVar(&f.agents, "agents", 0, "population size")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "run seed (0 picks one at random)")
	cmd.Flags().StringVar(&f.source, "source", "", "decision source: policy, queue or idle")
	cmd.Flags().StringVar(&f.resume, "resume", "", "resume from a snapshot file")
	cmd.Flags().BoolVar(&f.noAPI, "no-api", false, "do not serve the HTTP API")
	return cmd
}

// lazySource lets the policy be built from the run's own entropy streams,
// which exist only once the simulation does.
type lazySource struct{ src engine.Source }

func (l *lazySource) Decide(ctx context.Context, obs engine.Observation) (action.Action, error) {
	return l.src.Decide(ctx, obs)
}

func (a *app) run(ctx context.Context, resume string) error {
	logger := a.newLogger()
	cfg := a.cfg

	cat, err := a.loadCatalog("")
	if err != nil {
		return err
	}

	var queue *engine.QueueSource
	source := &lazySource{src: engine.IdleSource}
	if cfg.Decision.Source == config.SourceQueue {
		queue = engine.NewQueueSource()
		source.src = queue
	}

	ecfg := cfg.EngineConfig()
	var sim *engine.Simulation
	if resume != "" {
		st, err := persistence.ReadSnapshot(resume)
		if err != nil {
			return err
		}
		if sim, err = engine.FromState(ctx, ecfg, cat, source, logger, st); err != nil {
			return fmt.Errorf("resume %s: %w", resume, err)
		}
		logger.Info("run resumed", "run", sim.ID, "tick", sim.Tick(), "snapshot", resume)
	} else if sim, err = engine.New(ecfg, cat, source, logger); err != nil {
		return err
	}
	if cfg.Decision.Source == config.SourcePolicy {
		source.src = policy.New(cat, sim.Streams())
	}
	seed := sim.Config().Seed

	var db *persistence.DB
	if cfg.Storage.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
			return fmt.Errorf("data dir: %w", err)
		}
		if db, err = persistence.Open(cfg.Storage.DBPath); err != nil {
			return err
		}
		defer db.Close()
		if err := db.StartRun(sim.ID, seed, len(sim.Agents()), cfg.Run.Demo, sim.Tick()); err != nil {
			return err
		}
		if err := db.SaveMeta("catalog:"+sim.ID, catalogLabel(cfg.Catalog.Path)); err != nil {
			logger.Warn("save catalog name", "error", err)
		}
		sim.OnSummary(persistence.NewRecorder(db, logger).Record)
	}

	var snaps *persistence.Snapshotter
	if cfg.Storage.SnapshotDir != "" {
		snaps = persistence.NewSnapshotter(sim, cfg.Storage.SnapshotDir, cfg.Storage.SnapshotEvery, logger)
		sim.OnSummary(snaps.OnSummary)
	}

	sim.OnSummary(progressLogger(logger))

	fmt.Fprintf(a.out, "agora run %s: %s agents on %d locations, seed %d\n",
		sim.ID, humanize.Comma(int64(len(sim.Agents()))), len(sim.Locations()), seed)

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.API.Enabled {
		srv, err := api.New(sim, api.Options{
			Addr:        cfg.API.ListenAddr,
			AdminKey:    cfg.API.AdminKey,
			ActionKey:   cfg.API.ActionKey,
			RateLimit:   cfg.API.RateLimit,
			RateWindow:  cfg.API.RateWindow,
			CORSOrigins: cfg.API.CORSOrigins,
			Queue:       queue,
			DB:          db,
			Snapshots:   snaps,
		}, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "API: http://localhost%s/api/v1/status\n", cfg.API.ListenAddr)
		g.Go(func() error { return srv.Serve(gctx) })
	}
	g.Go(func() error {
		// A finished run stops the API too.
		defer stopRun()
		return sim.Run(gctx, cfg.Run.Ticks, cfg.Run.Interval)
	})
	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	if snaps != nil {
		if _, err := snaps.Save(); err != nil {
			logger.Error("final snapshot failed", "error", err)
		}
	}
	status := persistence.StatusFinished
	if runErr != nil || sim.Err() != nil {
		status = persistence.StatusFailed
	}
	if db != nil {
		if err := db.FinishRun(sim.ID, sim.Tick(), status); err != nil {
			logger.Error("finish run", "error", err)
		}
	}

	a.printSummary(sim.Last())
	if runErr != nil {
		return runErr
	}
	return sim.Err()
}

func progressLogger(logger *slog.Logger) func(engine.Summary) {
	return func(sum engine.Summary) {
		failed := len(sum.Failed())
		logger.Debug("tick", "tick", sum.Tick, "events", len(sum.Events), "failed", failed, "trades", len(sum.Trades))
		if sum.Tick%progressEvery != 0 {
			return
		}
		m := sum.Metrics
		logger.Info("progress",
			"tick", sum.Tick,
			"population", m.Population,
			"wealth", humanize.FormatFloat("#,###.#", m.Wealth.Total),
			"gini", fmt.Sprintf("%.3f", m.Wealth.Gini),
			"trade_edges", m.Network.Edges,
			"institutions", fmt.Sprintf("%.2f", m.Institutions.Score),
		)
	}
}

func (a *app) printSummary(sum engine.Summary) {
	m := sum.Metrics
	fmt.Fprintf(a.out, "\nstopped at tick %s\n", humanize.Comma(int64(sum.Tick)))
	fmt.Fprintf(a.out, "  population      %d\n", m.Population)
	fmt.Fprintf(a.out, "  total wealth    %s\n", humanize.FormatFloat("#,###.##", m.Wealth.Total))
	fmt.Fprintf(a.out, "  gini            %.3f\n", m.Wealth.Gini)
	fmt.Fprintf(a.out, "  mobility        %.3f\n", m.Wealth.Mobility)
	fmt.Fprintf(a.out, "  trade edges     %d\n", m.Network.Edges)
	fmt.Fprintf(a.out, "  specialization  %.3f\n", m.Specialization.Mean)
	fmt.Fprintf(a.out, "  institutions    %.2f\n", m.Institutions.Score)
}

// catalogLabel names a catalog source for display.
func catalogLabel(path string) string {
	if path == "" {
		return "builtin"
	}
	return path
}
