package main

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs maintenance jobs on cron schedules
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewScheduler creates a new scheduler instance.
// Schedules accept five standard fields, an optional leading seconds field
// and descriptors such as "@every 10m".
func NewScheduler(logger *zap.Logger) *Scheduler {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
			cron.WithLogger(cronLogger{logger}),
		),
		logger: logger,
	}
}

// Add registers job under name to run on spec
func (s *Scheduler) Add(name, spec string, job cron.Job) error {
	id, err := s.cron.AddJob(spec, job)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	s.logger.Info("Job scheduled", zap.String("job", name), zap.String("schedule", spec), zap.Int("entry", int(id)))
	return nil
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stopped before running jobs finished")
	}
}

// cronLogger forwards cron's logging into zap
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
