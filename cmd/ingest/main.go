// Command ingest is the Scoracle Sim administration CLI.
//
// Usage:
//
//	scoracle-ingest schedule show
//	scoracle-ingest schedule set --epoch 2026-01-01T00:00:00Z --interval 10 --timezone Europe/London
//	scoracle-ingest fixtures generate
//	scoracle-ingest fixtures advance --league en
//	scoracle-ingest fixtures show --league en --cycle 2
//	scoracle-ingest matches current
//	scoracle-ingest matches upcoming --n 5
//	scoracle-ingest matches at 1234
//	scoracle-ingest outcomes publish
//	scoracle-ingest outcomes show league-en-week-1-match-0-arsenal-vs-chelsea
//	scoracle-ingest settle run
//	scoracle-ingest simulate --slots 30 --wagers 50
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/albapepper/scoracle-sim/internal/app"
	"github.com/albapepper/scoracle-sim/internal/config"
	"github.com/albapepper/scoracle-sim/internal/db"
	"github.com/albapepper/scoracle-sim/internal/league"
	"github.com/albapepper/scoracle-sim/internal/schedule"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "scoracle-ingest",
		Short: "Scoracle Sim administration CLI",
	}

	root.AddCommand(scheduleCmd())
	root.AddCommand(fixturesCmd())
	root.AddCommand(matchesCmd())
	root.AddCommand(outcomesCmd())
	root.AddCommand(settleCmd())
	root.AddCommand(simulateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// schedule command
// --------------------------------------------------------------------------

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect or change the schedule configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the active schedule configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDB(false, func(ctx context.Context, env *dbEnv) error {
				cfg, err := schedule.Load(ctx, env.comps.Schedule)
				if err != nil {
					return err
				}
				idx, err := schedule.IndexForTime(time.Now(), cfg)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"reference_epoch":  cfg.ReferenceEpoch().UTC().Format(time.RFC3339),
					"interval_minutes": cfg.IntervalMinutes,
					"timezone":         cfg.TimezoneLabel,
					"version":          cfg.Version,
					"updated_at":       cfg.UpdatedAt,
					"current_index":    idx,
				})
			})
		},
	})
	cmd.AddCommand(scheduleSetCmd())
	return cmd
}

func scheduleSetCmd() *cobra.Command {
	var (
		epoch    string
		interval int
		timezone string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Create or replace the schedule configuration",
		Long: "Replaces the schedule record under optimistic concurrency. Changing the epoch or\n" +
			"interval re-maps every index to a different time; outcomes already published stay.",
		RunE: func(cmd *cobra.Command, args []string) error {
			epochMs, err := parseEpoch(epoch)
			if err != nil {
				return err
			}
			return runDB(false, func(ctx context.Context, env *dbEnv) error {
				var expected int64
				current, err := env.comps.Schedule.Get(ctx)
				switch {
				case errors.Is(err, schedule.ErrConfigMissing):
				case err != nil:
					return err
				default:
					expected = current.Version
				}

				updated, err := env.comps.Schedule.Update(ctx, schedule.Config{
					ReferenceEpochMillis: epochMs,
					IntervalMinutes:      int32(interval),
					TimezoneLabel:        timezone,
				}, expected)
				if err != nil {
					return fmt.Errorf("update schedule: %w", err)
				}
				logger.Info("Schedule updated",
					"version", updated.Version, "interval_minutes", updated.IntervalMinutes,
					"epoch", updated.ReferenceEpoch().UTC().Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&epoch, "epoch", "", "Reference epoch (RFC3339 or unix milliseconds)")
	cmd.Flags().IntVar(&interval, "interval", 10, "Slot length in minutes")
	cmd.Flags().StringVar(&timezone, "timezone", "UTC", "Display timezone label")
	_ = cmd.MarkFlagRequired("epoch")
	return cmd
}

func parseEpoch(v string) (int64, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, fmt.Errorf("--epoch must be RFC3339 or unix milliseconds: %w", err)
	}
	return t.UnixMilli(), nil
}

// --------------------------------------------------------------------------
// fixtures command
// --------------------------------------------------------------------------

func fixturesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fixtures",
		Short: "Generate and inspect fixture cycles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Make sure every league has a published cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDB(false, func(ctx context.Context, env *dbEnv) error {
				start := time.Now()
				cycles, err := env.comps.Fixtures.EnsureCycles(ctx, env.comps.Leagues)
				for _, c := range cycles {
					logger.Info("Cycle ready", "league", c.LeagueCode, "cycle", c.CycleNumber,
						"weeks", len(c.Weeks), "attempts", c.Attempts)
				}
				logger.Info("Fixtures generate finished", "leagues", len(cycles),
					"duration", time.Since(start).Round(time.Millisecond))
				return err
			})
		},
	})
	cmd.AddCommand(fixturesAdvanceCmd())
	cmd.AddCommand(fixturesShowCmd())
	return cmd
}

func fixturesAdvanceCmd() *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Publish the next cycle for a league",
		Long: "Publishes latest+1. Running services pick it up on their next fixture refresh,\n" +
			"which re-maps schedule indices to new pairings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDB(false, func(ctx context.Context, env *dbEnv) error {
				lg, ok := league.ByCode(env.comps.Leagues)[code]
				if !ok {
					return fmt.Errorf("unknown league %q", code)
				}
				c, err := env.comps.Fixtures.Advance(ctx, lg)
				if err != nil {
					return err
				}
				logger.Info("Cycle advanced", "league", c.LeagueCode, "cycle", c.CycleNumber, "attempts", c.Attempts)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&code, "league", "", "League code")
	_ = cmd.MarkFlagRequired("league")
	return cmd
}

func fixturesShowCmd() *cobra.Command {
	var (
		code  string
		cycle int
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a published cycle (latest by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDB(false, func(ctx context.Context, env *dbEnv) error {
				store := env.comps.FixtureStore
				var (
					c   any
					ok  bool
					err error
				)
				if cycle > 0 {
					c, ok, err = store.Get(ctx, code, cycle)
				} else {
					c, ok, err = store.Latest(ctx, code)
				}
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no cycle published for league %q", code)
				}
				return printJSON(c)
			})
		},
	}
	cmd.Flags().StringVar(&code, "league", "", "League code")
	cmd.Flags().IntVar(&cycle, "cycle", 0, "Cycle number (0 = latest)")
	_ = cmd.MarkFlagRequired("league")
	return cmd
}

// --------------------------------------------------------------------------
// matches command
// --------------------------------------------------------------------------

func matchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matches",
		Short: "Resolve schedule indices to matches",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "at INDEX",
		Short: "Print the match at a schedule index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || idx < 0 {
				return fmt.Errorf("INDEX must be a non-negative integer")
			}
			return runDB(true, func(ctx context.Context, env *dbEnv) error {
				m, err := env.comps.Matches.Load().MatchAt(idx, env.sched)
				if err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "current",
		Short: "Print the match whose slot contains now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDB(true, func(ctx context.Context, env *dbEnv) error {
				m, err := env.comps.Matches.Load().Current(time.Now(), env.sched)
				if err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	})
	cmd.AddCommand(matchesUpcomingCmd())
	return cmd
}

func matchesUpcomingCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "Print the next n matches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDB(true, func(ctx context.Context, env *dbEnv) error {
				ms, err := env.comps.Matches.Load().Upcoming(time.Now(), env.sched, n)
				if err != nil {
					return err
				}
				return printJSON(ms)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 10, "Number of matches (max 100)")
	return cmd
}

// --------------------------------------------------------------------------
// outcomes command
// --------------------------------------------------------------------------

func outcomesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "Publish and inspect match outcomes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "publish",
		Short: "Publish outcomes for every elapsed slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDB(true, func(ctx context.Context, env *dbEnv) error {
				res, err := env.comps.Publisher.PublishUntil(ctx, time.Now(), env.sched)
				logger.Info("Outcomes publish finished", "summary", res.Summary())
				for _, e := range res.Errors {
					logger.Error("publish error", "error", e)
				}
				return err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show MATCH_ID",
		Short: "Print a published outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDB(false, func(ctx context.Context, env *dbEnv) error {
				rec, ok, err := env.comps.Outcomes.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no outcome published for %s", args[0])
				}
				return printJSON(rec)
			})
		},
	})
	return cmd
}

// --------------------------------------------------------------------------
// settle command
// --------------------------------------------------------------------------

func settleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Settle pending wagers",
	}
	var passes int
	run := &cobra.Command{
		Use:   "run",
		Short: "Run settlement passes until nothing is left or --passes is reached",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDB(false, func(ctx context.Context, env *dbEnv) error {
				reconciler := env.comps.Reconciler(env.cfg, logger)
				for i := 0; i < passes; i++ {
					res := reconciler.RunPass(ctx)
					for _, e := range res.Errors {
						logger.Error("settle error", "error", e)
					}
					if res.Fetched == 0 || res.Fetched == res.Skipped {
						break
					}
				}
				return nil
			})
		},
	}
	run.Flags().IntVar(&passes, "passes", 10, "Maximum number of passes")
	cmd.AddCommand(run)
	return cmd
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

type dbEnv struct {
	cfg   *config.Config
	comps *app.Components
	sched schedule.Config
}

// runDB handles config loading, DB connection, and context cancellation.
// withMatches also loads the schedule and builds the match pool.
func runDB(withMatches bool, fn func(ctx context.Context, env *dbEnv) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	leagues, err := league.LoadFile(cfg.LeaguesFile)
	if err != nil {
		return err
	}

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	comps, err := app.NewPostgres(cfg, pool, leagues, logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	env := &dbEnv{cfg: cfg, comps: comps}
	if withMatches {
		if env.sched, err = schedule.Load(ctx, comps.Schedule); err != nil {
			return err
		}
		if err := comps.BuildMatches(ctx, logger); err != nil {
			return err
		}
	}
	return fn(ctx, env)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
