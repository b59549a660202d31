package scan

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Run scans, sleeps for the configured interval, and repeats until ctx is
// cancelled. A failing or panicking cycle is logged and the loop carries on.
func (s *Scanner) Run(ctx context.Context) error {
	log.Info().Dur("interval", s.opts.Interval).Msg("Scan loop started")
	for {
		s.runCycleSafely(ctx)

		log.Debug().Dur("sleep", s.opts.Interval).Msg("Sleeping until next cycle")
		timer := time.NewTimer(s.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Scan loop stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunScheduled runs a cycle on every activation of a cron spec
// ("@every 10m", "*/15 * * * *") until ctx is cancelled. A cycle still running
// when the next activation fires causes that activation to be skipped.
func (s *Scanner) RunScheduled(ctx context.Context, spec string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{}), cron.Recover(cronLogger{})))
	if _, err := c.AddFunc(spec, func() { s.runCycleSafely(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	c.Start()
	log.Info().Str("schedule", spec).Msg("Scheduled scanning started")

	<-ctx.Done()
	// Wait for an in-flight cycle; it observes the same cancelled context.
	<-c.Stop().Done()
	log.Info().Msg("Scheduled scanning stopped")
	return ctx.Err()
}

// ValidateSchedule reports whether spec is a valid cron spec.
func ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

func (s *Scanner) runCycleSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Panic in scan cycle, continuing with next cycle")
		}
	}()

	report, err := s.RunCycle(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Info().Str("cycleId", report.ID).Msg("Scan cycle interrupted")
			return
		}
		log.Error().Err(err).Str("cycleId", report.ID).Msg("Scan cycle failed, will retry next cycle")
	}
}

// cronLogger routes cron's internal logging to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
