package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/robfig/cron/v3"
)

// cleanupSpec runs hourly at minute 0 in the configured location.
const cleanupSpec = "0 * * * *"

// CleanupScheduler periodically purges tokens in terminal state: reset rows
// that are expired or used, and verification rows that expired unused (used
// verification rows stay as audit). The delete queries are idempotent, so
// overlapping runs across instances are harmless.
type CleanupScheduler struct {
	repo   RepositoryManager
	logger Logger
	cron   *cron.Cron
	now    func() time.Time
}

func NewCleanupScheduler(repo RepositoryManager) (*CleanupScheduler, error) {
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load cleanup timezone")
	}

	return &CleanupScheduler{
		repo:   repo,
		logger: defLogger{},
		cron:   cron.New(cron.WithLocation(loc)),
		now:    time.Now,
	}, nil
}

func (s *CleanupScheduler) WithLogger(logger Logger) *CleanupScheduler {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *CleanupScheduler) WithClock(now func() time.Time) *CleanupScheduler {
	if now != nil {
		s.now = now
	}
	return s
}

// Start registers the hourly job and launches the cron loop.
func (s *CleanupScheduler) Start() error {
	_, err := s.cron.AddFunc(cleanupSpec, func() {
		if err := s.Clean(context.Background()); err != nil {
			s.logger.Error("token cleanup failed", "error", err)
		}
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to schedule token cleanup")
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *CleanupScheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Clean runs one purge pass.
func (s *CleanupScheduler) Clean(ctx context.Context) error {
	now := s.now()

	resets, err := s.repo.ResetTokens().DeleteExpired(ctx, now)
	if err != nil {
		return wrapStoreError(err, "failed to purge reset tokens")
	}

	verifications, err := s.repo.VerificationTokens().DeleteExpiredUnused(ctx, now)
	if err != nil {
		return wrapStoreError(err, "failed to purge verification tokens")
	}

	if resets+verifications > 0 {
		s.logger.Info("token cleanup removed rows", "reset", resets, "verification", verifications)
	} else {
		s.logger.Debug("token cleanup found nothing to remove")
	}

	return nil
}
