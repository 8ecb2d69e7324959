package retention

import (
	"fmt"
	"time"

	"compliance-core/internal/config"
	"compliance-core/internal/models"
)

const day = 24 * time.Hour

// PolicyFromConfig builds a policy from configuration, falling back to the
// default for any non-positive value.
func PolicyFromConfig(cfg config.RetentionConfig) Policy {
	p := DefaultPolicy()
	if cfg.ActiveRetentionDays > 0 {
		p.ActiveRetentionDays = cfg.ActiveRetentionDays
	}
	if cfg.ArchiveRetentionDays > 0 {
		p.ArchiveRetentionDays = cfg.ArchiveRetentionDays
	}
	if cfg.ArchiveBatchSize > 0 {
		p.ArchiveBatchSize = cfg.ArchiveBatchSize
	}
	p.CompressArchive = cfg.CompressArchive
	return p
}

// Apply returns p with the update applied. Set numeric values must be positive.
func (u PolicyUpdate) Apply(p Policy) (Policy, error) {
	def := DefaultPolicy()

	for _, f := range []struct {
		name string
		opt  models.Optional[int]
	}{
		{"activeRetentionDays", u.ActiveRetentionDays},
		{"archiveRetentionDays", u.ArchiveRetentionDays},
		{"archiveBatchSize", u.ArchiveBatchSize},
	} {
		if v, ok := f.opt.Value(); ok && v <= 0 {
			return p, models.NewValidationError(models.CodeInvalidPolicy, fmt.Sprintf("%s must be positive", f.name))
		}
	}

	p.ActiveRetentionDays = u.ActiveRetentionDays.Apply(p.ActiveRetentionDays, def.ActiveRetentionDays)
	p.ArchiveRetentionDays = u.ArchiveRetentionDays.Apply(p.ArchiveRetentionDays, def.ArchiveRetentionDays)
	p.ArchiveBatchSize = u.ArchiveBatchSize.Apply(p.ArchiveBatchSize, def.ArchiveBatchSize)
	p.CompressArchive = u.CompressArchive.Apply(p.CompressArchive, def.CompressArchive)
	return p, nil
}

// ActiveCutoff is the boundary between the active and archived tiers
func (p Policy) ActiveCutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(p.ActiveRetentionDays) * day)
}

// ExpiryCutoff is the boundary between the archived and expired tiers
func (p Policy) ExpiryCutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(p.ActiveRetentionDays+p.ArchiveRetentionDays) * day)
}

// ArchiveWindow is the time range eligible for archival at now
func (p Policy) ArchiveWindow(now time.Time) (start, end time.Time) {
	end = p.ActiveCutoff(now)
	start = end.Add(-time.Duration(p.ArchiveRetentionDays) * day)
	return start, end
}

// BatchExpiry is when a batch created at createdAt leaves cold storage
func (p Policy) BatchExpiry(createdAt time.Time) time.Time {
	return createdAt.Add(time.Duration(p.ArchiveRetentionDays) * day)
}
