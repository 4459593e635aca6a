package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"calshare/internal/models"
	"calshare/internal/syncer"

	"github.com/urfave/cli/v2"
)

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Reconcile the device calendar with the shared calendar.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Run the sync cycle once and exit."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be synced without making changes."},
			&cli.IntFlag{Name: "watch", Value: 300, Usage: "Run sync every N seconds. Overrides --once."},
			&cli.BoolFlag{Name: "cron", Usage: "Run sync on the configured cron schedule. Overrides --watch."},
			&cli.StringFlag{Name: "schedule", Usage: "Cron schedule to use with --cron instead of the configured one."},
			&cli.IntFlag{Name: "past-days", Usage: "Days before now included in the window."},
			&cli.IntFlag{Name: "future-days", Usage: "Days after now included in the window."},
		},
		Action: func(c *cli.Context) error {
			d, err := wire(c)
			if err != nil {
				return err
			}
			defer d.close()
			logger := d.logger

			if c.Bool("dry-run") {
				logger.Info("Performing a dry run. No changes will be made.")
			}
			s, err := d.syncer(c.Bool("dry-run"))
			if err != nil {
				return err
			}

			if c.IsSet("past-days") {
				d.cfg.Sync.PastDays = c.Int("past-days")
			}
			if c.IsSet("future-days") {
				d.cfg.Sync.FutureDays = c.Int("future-days")
			}
			past, future := d.cfg.Sync.Window()
			window := func(now time.Time) models.Window {
				return models.DefaultWindow(now, past, future)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			switch {
			case c.Bool("cron"):
				spec := d.cfg.Sync.Schedule
				if c.IsSet("schedule") {
					spec = c.String("schedule")
				}
				if err := syncer.ValidateSchedule(spec); err != nil {
					return fmt.Errorf("invalid schedule %q: %w", spec, err)
				}
				return s.OnSchedule(ctx, spec, d.sess, window)
			case c.IsSet("watch"):
				interval := time.Duration(c.Int("watch")) * time.Second
				logger.Info("Starting watcher.", "interval", interval)
				s.Every(ctx, interval, d.sess, window)
				return nil
			default: // --once is the default behavior if --watch is not set
				logger.Info("Running a single sync cycle.")
				report := s.Run(ctx, d.sess, window(time.Now()))
				printReport(report)
				if len(report.Errors) > 0 && report.Added == 0 && report.Updated == 0 {
					return fmt.Errorf("sync cycle failed with %d errors", len(report.Errors))
				}
				return nil
			}
		},
	}
}

func printReport(r *models.SyncReport) {
	fmt.Printf("Added: %d  Updated: %d  Errors: %d\n", r.Added, r.Updated, len(r.Errors))
	for _, e := range r.Errors {
		fmt.Println("  " + e.String())
	}
}
