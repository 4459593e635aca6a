package syncer

import (
	"context"
	"log/slog"
	"time"

	"calshare/internal/models"

	"github.com/robfig/cron/v3"
)

// WindowFunc returns the window for a pass starting at now.
type WindowFunc func(now time.Time) models.Window

// Every runs a pass immediately and then every interval until ctx is done.
func (s *Syncer) Every(ctx context.Context, interval time.Duration, sess models.Session, window WindowFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.Run(ctx, sess, window(s.clock()))
		select {
		case <-ctx.Done():
			s.logger.Info("Sync loop stopped.")
			return
		case <-ticker.C:
		}
	}
}

// OnSchedule runs a pass on every tick of the cron spec until ctx is done.
// A tick that fires while the previous pass is still running is skipped.
func (s *Syncer) OnSchedule(ctx context.Context, spec string, sess models.Session, window WindowFunc) error {
	logger := cronLogger{s.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(spec, func() { s.Run(ctx, sess, window(s.clock())) }); err != nil {
		return err
	}
	s.logger.Info("Sync scheduled.", "schedule", spec)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("Sync schedule stopped.")
	return nil
}

// ValidateSchedule reports whether spec is a valid five-field cron expression.
func ValidateSchedule(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("Scheduler: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("Scheduler: "+msg, append(keysAndValues, "error", err)...)
}
