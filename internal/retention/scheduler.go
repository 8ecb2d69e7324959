package retention

import (
	"context"
	"time"

	"compliance-core/pkg/logger"
)

// Scheduler runs archival and cleanup across all tenants on fixed intervals
type Scheduler struct {
	service         *Service
	archiveInterval time.Duration
	cleanupInterval time.Duration
	runTimeout      time.Duration
	logger          logger.Logger
}

// NewScheduler creates a scheduler. A non-positive interval disables that task.
func NewScheduler(service *Service, archiveInterval, cleanupInterval time.Duration, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		service:         service,
		archiveInterval: archiveInterval,
		cleanupInterval: cleanupInterval,
		runTimeout:      30 * time.Minute,
		logger:          log,
	}
}

// Run blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	archiveC, stopArchive := tick(s.archiveInterval)
	defer stopArchive()
	cleanupC, stopCleanup := tick(s.cleanupInterval)
	defer stopCleanup()

	s.logger.Info("Retention scheduler started", map[string]interface{}{
		"archive_interval": s.archiveInterval.String(),
		"cleanup_interval": s.cleanupInterval.String(),
	})

	for {
		select {
		case <-archiveC:
			s.RunArchive(ctx)
		case <-cleanupC:
			s.RunCleanup(ctx)
		case <-ctx.Done():
			s.logger.Info("Retention scheduler stopped", nil)
			return ctx.Err()
		}
	}
}

// RunArchive performs one archive pass
func (s *Scheduler) RunArchive(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	job, err := s.service.ArchiveOldEntries(runCtx, "")
	if err != nil {
		s.logger.Error("Scheduled archive could not start", err, nil)
		return
	}
	s.logger.Debug("Scheduled archive finished", map[string]interface{}{"job_id": job.ID, "status": job.Status})
}

// RunCleanup performs one cleanup pass
func (s *Scheduler) RunCleanup(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	if _, err := s.service.CleanupExpired(runCtx, ""); err != nil {
		s.logger.Error("Scheduled cleanup failed", err, nil)
	}
}

// tick returns a ticker channel, or a nil channel that never fires when the
// interval is disabled
func tick(interval time.Duration) (<-chan time.Time, func()) {
	if interval <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(interval)
	return t.C, t.Stop
}
