package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/albapepper/scoracle-sim/internal/app"
	"github.com/albapepper/scoracle-sim/internal/config"
	"github.com/albapepper/scoracle-sim/internal/league"
	"github.com/albapepper/scoracle-sim/internal/schedule"
	"github.com/albapepper/scoracle-sim/internal/simulate"
)

// simulateCmd runs the whole pipeline in memory against a mock clock: build
// cycles, place wagers on upcoming slots, let the slots elapse, publish and
// settle. No database is needed.
func simulateCmd() *cobra.Command {
	var (
		slots    int
		wagers   int
		users    int
		interval int
		seed     string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run schedule, outcomes and settlement end to end in memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			leagues, err := league.LoadFile(cfg.LeaguesFile)
			if err != nil {
				return err
			}

			clk := clock.NewMock()
			start := time.Now().Truncate(time.Minute)
			clk.Set(start)
			sched := schedule.Config{
				ReferenceEpochMillis: start.UnixMilli(),
				IntervalMinutes:      int32(interval),
				TimezoneLabel:        "UTC",
			}

			comps, err := app.NewMemory(cfg, &sched, leagues, clk, logger)
			if err != nil {
				return err
			}
			if err := comps.BuildMatches(ctx, logger); err != nil {
				return err
			}

			report, err := simulate.Run(ctx, simulate.Params{
				Components: comps,
				Schedule:   sched,
				Clock:      clk,
				Slots:      slots,
				Wagers:     wagers,
				Users:      users,
				Seed:       seed,
				Stake:      decimal.NewFromInt(10),
				Reconciler: comps.Reconciler(cfg, logger),
			}, logger)
			if err != nil {
				return err
			}
			logger.Info("Simulation finished", "summary", report.Summary())
			return printJSON(report)
		},
	}
	cmd.Flags().IntVar(&slots, "slots", 30, "Number of schedule slots to play")
	cmd.Flags().IntVar(&wagers, "wagers", 50, "Number of wagers to place")
	cmd.Flags().IntVar(&users, "users", 5, "Number of simulated users")
	cmd.Flags().IntVar(&interval, "interval", 10, "Slot length in minutes")
	cmd.Flags().StringVar(&seed, "seed", "simulate", "Seed for wager placement")
	return cmd
}
