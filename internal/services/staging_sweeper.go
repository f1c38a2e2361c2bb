package services

import (
	"time"

	"go.uber.org/zap"
)

// StagingSweeper deletes staging artifacts abandoned by a crashed process.
// It implements cron.Job.
type StagingSweeper struct {
	cleaner StagingCleaner
	maxAge  time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewStagingSweeper creates a new staging sweeper
func NewStagingSweeper(cleaner StagingCleaner, maxAge time.Duration, logger *zap.Logger) *StagingSweeper {
	return &StagingSweeper{
		cleaner: cleaner,
		maxAge:  maxAge,
		logger:  logger,
		now:     time.Now,
	}
}

// Run sweeps once
func (s *StagingSweeper) Run() {
	removed, err := s.cleaner.Sweep(s.now(), s.maxAge)
	if err != nil {
		s.logger.Error("Staging sweep failed", zap.Int("removed", removed), zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("Removed stale staging files", zap.Int("removed", removed), zap.Duration("max_age", s.maxAge))
	}
}
