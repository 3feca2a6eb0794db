package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// PasswordResetConfig drives the reset-token lifetime.
type PasswordResetConfig struct {
	ExpirationMinutes int
}

// PasswordResetService handles the forgot-password flow. RequestReset is
// externally silent for unknown emails; the caller always answers 204.
type PasswordResetService struct {
	repo   RepositoryManager
	users  *UserService
	mailer Mailer
	cfg    PasswordResetConfig
	logger Logger
	now    func() time.Time
}

func NewPasswordResetService(repo RepositoryManager, users *UserService, mailer Mailer, cfg PasswordResetConfig) *PasswordResetService {
	if cfg.ExpirationMinutes <= 0 {
		cfg.ExpirationMinutes = 30
	}
	return &PasswordResetService{
		repo:   repo,
		users:  users,
		mailer: mailer,
		cfg:    cfg,
		logger: defLogger{},
		now:    time.Now,
	}
}

func (s *PasswordResetService) WithLogger(logger Logger) *PasswordResetService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *PasswordResetService) WithClock(now func() time.Time) *PasswordResetService {
	if now != nil {
		s.now = now
	}
	return s
}

// RequestReset issues a reset token when the email matches an account
// (case-insensitively) and stays silent otherwise. Prior tokens for the user
// are invalidated by deletion.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	user, err := s.repo.Users().FindByEmailIgnoreCase(ctx, email)
	if err != nil {
		if isRecordNotFound(err) {
			return nil
		}
		return wrapStoreError(err, "failed to look up user for password reset")
	}

	plain, err := NewOpaqueToken(ResetTokenBytes)
	if err != nil {
		return err
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := s.repo.ResetTokens().DeleteByUserTx(ctx, tx, user.ID); err != nil {
			return wrapStoreError(err, "failed to invalidate previous reset tokens")
		}

		token := &PasswordResetToken{
			UserID:    user.ID,
			TokenHash: Fingerprint(plain),
			ExpiresAt: s.now().Add(time.Duration(s.cfg.ExpirationMinutes) * time.Minute),
			Used:      false,
		}
		if err := s.repo.ResetTokens().CreateTx(ctx, tx, token); err != nil {
			return wrapStoreError(err, "failed to persist reset token")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.mailer.Send(ctx, user.Email, "Reset your password", resetEmailHTML(plain, s.cfg.ExpirationMinutes)); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to deliver reset email").
			WithTextCode(CodeMailSendFailed)
	}

	s.logger.Info("password reset requested", "user_id", user.ID)
	return nil
}

// Reset applies a single-use token. Used-or-expired collapses into one code,
// matching the API contract: the caller cannot distinguish the two.
func (s *PasswordResetService) Reset(ctx context.Context, plain, newPassword string) error {
	fingerprint := Fingerprint(plain)

	return s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := s.repo.ResetTokens().FindByFingerprintTx(ctx, tx, fingerprint)
		if err != nil {
			if isRecordNotFound(err) {
				return ErrResetTokenInvalid
			}
			return wrapStoreError(err, "failed to look up reset token")
		}

		if token.Used || token.Expired(s.now()) {
			return ErrResetTokenExpired
		}

		if err := s.users.ForceChangePasswordTx(ctx, tx, token.UserID, newPassword); err != nil {
			return err
		}

		won, err := s.repo.ResetTokens().MarkUsedTx(ctx, tx, token.ID)
		if err != nil {
			return wrapStoreError(err, "failed to mark reset token used")
		}
		if !won {
			return ErrResetTokenExpired
		}

		s.logger.Info("password reset applied", "user_id", token.UserID)
		return nil
	})
}
