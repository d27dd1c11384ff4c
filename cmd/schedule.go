package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the batch every day at schedule.at",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("schedule"); err != nil {
			return err
		}
		loc, err := time.LoadLocation(cfg.Schedule.Timezone)
		if err != nil {
			return eris.Wrap(err, "schedule: load timezone")
		}

		env, err := initBatch(ctx, batchFlags)
		if err != nil {
			return err
		}
		defer env.Close()

		return runDaily(ctx, cfg.Schedule.At, loc, time.Now, func(ctx context.Context) {
			if _, err := env.Orchestrator.Run(ctx, env.Source); err != nil {
				zap.L().Error("scheduled batch failed", zap.Error(err))
			}
		})
	},
}

func init() {
	scheduleCmd.Flags().IntVar(&batchFlags.Concurrency, "concurrency", 0, "max profiles open at once (default from config)")
	scheduleCmd.Flags().BoolVar(&batchFlags.NoRetry, "no-retry", false, "skip the second pass for blocked accounts")
	rootCmd.AddCommand(scheduleCmd)
}

// runDaily calls fn once per day at clock (HH:MM in loc) until ctx is
// cancelled. A run that overlaps the next trigger delays it to the following
// day.
func runDaily(ctx context.Context, clock string, loc *time.Location, now func() time.Time, fn func(context.Context)) error {
	for {
		next, err := nextRun(now(), clock, loc)
		if err != nil {
			return err
		}
		zap.L().Info("next batch scheduled", zap.Time("at", next))

		timer := time.NewTimer(next.Sub(now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			zap.L().Info("scheduler stopped")
			return nil
		case <-timer.C:
		}

		fn(ctx)
	}
}

// nextRun returns the first instant strictly after now at clock in loc.
func nextRun(now time.Time, clock string, loc *time.Location) (time.Time, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(clock, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, eris.Wrapf(err, "schedule: parse clock %q", clock)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, eris.Errorf("schedule: clock %q out of range", clock)
	}

	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next, nil
}
