package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	domainErrors "github.com/cassiomorais/newsletters/internal/domain/errors"
	"github.com/cassiomorais/newsletters/internal/domain/spool"
	"github.com/cassiomorais/newsletters/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// SpoolConfig holds the spool tunables.
type SpoolConfig struct {
	ProgressExpiration time.Duration
	LockName           string
}

// SpoolService owns the mail spool: enqueueing, exclusive claims, completion
// and retention.
type SpoolService struct {
	repo    spool.Repository
	locker  Locker
	clock   Clock
	cfg     SpoolConfig
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewSpoolService creates a new SpoolService.
func NewSpoolService(
	repo spool.Repository,
	locker Locker,
	clock Clock,
	cfg SpoolConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *SpoolService {
	return &SpoolService{
		repo:    repo,
		locker:  locker,
		clock:   clock,
		cfg:     cfg,
		metrics: metrics,
		logger:  observability.Component(logger, "spool"),
	}
}

// Expiry returns the in-progress lease duration.
func (s *SpoolService) Expiry() time.Duration {
	return s.cfg.ProgressExpiration
}

func (s *SpoolService) expiredBefore(now time.Time) time.Time {
	return now.Add(-s.cfg.ProgressExpiration)
}

// Enqueue inserts one pending entry per recipient, all stamped with the same
// time. Empty input is a no-op.
func (s *SpoolService) Enqueue(ctx context.Context, issue spool.IssueRef, newsletterID string, recipients []spool.Recipient) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}

	now := s.clock.Now()
	entries := make([]*spool.Entry, 0, len(recipients))
	for _, r := range recipients {
		e, err := spool.NewEntry(issue, newsletterID, r, now)
		if err != nil {
			return 0, err
		}
		entries = append(entries, e)
	}

	n, err := s.repo.Insert(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("insert spool entries: %w", err)
	}

	s.metrics.SpoolEnqueued.Add(float64(n))
	s.logger.Debug().
		Str("issue_id", issue.EntityID.String()).
		Str("newsletter_id", newsletterID).
		Int("count", n).
		Msg("Spooled recipients")
	return n, nil
}

// Claim selects up to limit claimable entries oldest first and marks them in
// progress, all under the named spool lock. limit 0 means no cap. If another
// process holds the lock the result is empty and err is nil; callers retry on
// their next run. The status part of filter is ignored: only effectively
// pending entries are ever claimed.
func (s *SpoolService) Claim(ctx context.Context, limit int, filter spool.Filter) (entries []*spool.Entry, err error) {
	acquired, err := s.locker.Acquire(ctx, s.cfg.LockName)
	if err != nil {
		return nil, fmt.Errorf("acquire spool lock: %w", err)
	}
	if !acquired {
		s.metrics.SpoolLockContention.Inc()
		s.logger.Debug().Str("lock", s.cfg.LockName).Msg("Spool lock held elsewhere, nothing claimed")
		return nil, nil
	}
	defer func() {
		if relErr := s.locker.Release(context.WithoutCancel(ctx), s.cfg.LockName); relErr != nil {
			s.logger.Warn().Err(relErr).Str("lock", s.cfg.LockName).Msg("Failed to release spool lock")
		}
	}()

	now := s.clock.Now()
	filter.Statuses = nil
	entries, err = s.repo.FindClaimable(ctx, filter, s.expiredBefore(now), limit)
	if err != nil {
		return nil, fmt.Errorf("find claimable entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := s.repo.UpdateStatus(ctx, ids, spool.StatusInProgress, false, now); err != nil {
		return nil, fmt.Errorf("mark entries in progress: %w", err)
	}
	for _, e := range entries {
		e.Status = spool.StatusInProgress
		e.Error = false
		e.Timestamp = now
	}

	s.metrics.SpoolClaimed.Add(float64(len(entries)))
	return entries, nil
}

// Complete records the final outcome of claimed entries. It takes no lock:
// claimed id sets never overlap.
func (s *SpoolService) Complete(ctx context.Context, ids []int64, outcome spool.Status, hasError bool) error {
	if !outcome.IsTerminal() {
		return domainErrors.ErrInvalidOutcome
	}
	if len(ids) == 0 {
		return nil
	}

	if err := s.repo.UpdateStatus(ctx, ids, outcome, hasError, s.clock.Now()); err != nil {
		return fmt.Errorf("complete spool entries: %w", err)
	}

	s.metrics.SpoolCompleted.WithLabelValues(string(outcome), strconv.FormatBool(hasError)).Add(float64(len(ids)))
	return nil
}

// Count counts entries matching filter by effective status.
func (s *SpoolService) Count(ctx context.Context, filter spool.Filter) (int, error) {
	n, err := s.repo.Count(ctx, filter, s.expiredBefore(s.clock.Now()))
	if err != nil {
		return 0, fmt.Errorf("count spool entries: %w", err)
	}
	return n, nil
}

// CountErrors counts skipped entries that failed in the transport.
func (s *SpoolService) CountErrors(ctx context.Context, filter spool.Filter) (int, error) {
	n, err := s.repo.CountErrors(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count spool errors: %w", err)
	}
	return n, nil
}

// PurgeExpired deletes done and skipped entries older than retentionDays.
func (s *SpoolService) PurgeExpired(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 0 {
		return 0, domainErrors.NewValidationError("retention_days", "cannot be negative")
	}

	cutoff := s.clock.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	n, err := s.repo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge spool: %w", err)
	}

	if n > 0 {
		s.metrics.SpoolPurged.Add(float64(n))
		s.logger.Info().Int64("count", n).Int("retention_days", retentionDays).Msg("Purged spool entries")
	}
	return n, nil
}

// DeleteByIssue removes every entry of the issue, sent or not.
func (s *SpoolService) DeleteByIssue(ctx context.Context, issue spool.IssueRef) (int64, error) {
	n, err := s.repo.DeleteByIssue(ctx, issue)
	if err != nil {
		return 0, fmt.Errorf("delete spool entries: %w", err)
	}
	return n, nil
}
