package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/agora/internal/persistence"
)

func (a *app) runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs, or show one run's metric history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if len(args) == 1 {
				return a.showRun(db, args[0], limit)
			}

			runs, err := db.Runs(limit)
			if err != nil {
				return fmt.Errorf("runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(a.out, "no runs recorded")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			defer tw.Flush()
			fmt.Fprintf(tw, "ID\tSEED\tAGENTS\tTICKS\tSTATUS\tSTARTED\n")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n",
					r.ID, r.Seed, r.Agents, humanize.Comma(int64(r.LastTick)), r.Status, humanize.Time(r.StartedAt))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to show")
	return cmd
}

// showRun prints a run's record and its last metric rows.
func (a *app) showRun(db *persistence.DB, id string, limit int) error {
	r, err := db.Run(id)
	if err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}
	trades, err := db.TradeCount(id)
	if err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}
	fmt.Fprintf(a.out, "run %s (%s)\n", r.ID, r.Status)
	fmt.Fprintf(a.out, "  seed %d, %d agents, started %s\n", r.Seed, r.Agents, humanize.Time(r.StartedAt))
	if r.FinishedAt != nil {
		fmt.Fprintf(a.out, "  finished %s after %s ticks\n", humanize.Time(*r.FinishedAt), humanize.Comma(int64(r.LastTick)))
	}
	fmt.Fprintf(a.out, "  %s trades settled\n\n", humanize.Comma(int64(trades)))

	var since uint64
	if limit > 0 && r.LastTick > uint64(limit) {
		since = r.LastTick - uint64(limit) + 1
	}
	rows, err := db.MetricsHistory(id, since)
	if err != nil {
		return fmt.Errorf("run %s metrics: %w", id, err)
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintf(tw, "TICK\tPOP\tWEALTH\tGINI\tMOBILITY\tMODULARITY\tSPECIALIZATION\tINSTITUTIONS\n")
	for _, m := range rows {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%.3f\t%.3f\t%.3f\t%.3f\t%.2f\n",
			m.Tick, m.Population, humanize.FormatFloat("#,###.#", m.TotalWealth),
			m.Gini, m.Mobility, m.Modularity, m.Specialization, m.Institutions)
	}
	return nil
}
