package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// EmailVerificationConfig drives TTL and redirect targets for the
// verification flow.
type EmailVerificationConfig struct {
	TTLHours           int
	BackendVerifyURL   string
	FrontendSuccessURL string
	FrontendErrorURL   string
}

// EmailVerificationService issues verification links, confirms them and
// enables the account on first successful confirmation.
type EmailVerificationService struct {
	repo   RepositoryManager
	mailer Mailer
	cfg    EmailVerificationConfig
	logger Logger
	now    func() time.Time
}

func NewEmailVerificationService(repo RepositoryManager, mailer Mailer, cfg EmailVerificationConfig) *EmailVerificationService {
	if cfg.TTLHours <= 0 {
		cfg.TTLHours = 24
	}
	return &EmailVerificationService{
		repo:   repo,
		mailer: mailer,
		cfg:    cfg,
		logger: defLogger{},
		now:    time.Now,
	}
}

func (s *EmailVerificationService) WithLogger(logger Logger) *EmailVerificationService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *EmailVerificationService) WithClock(now func() time.Time) *EmailVerificationService {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *EmailVerificationService) ttl() time.Duration {
	return time.Duration(s.cfg.TTLHours) * time.Hour
}

// Send issues (or reissues) a verification email. Prior unused tokens are
// superseded; used tokens stay as audit. The token is persisted before the
// SMTP call, so a failed send leaves a resendable token behind.
func (s *EmailVerificationService) Send(ctx context.Context, user *User) error {
	plain, err := NewOpaqueToken(VerificationTokenBytes)
	if err != nil {
		return err
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := s.repo.VerificationTokens().DeleteUnusedByUserTx(ctx, tx, user.ID); err != nil {
			return wrapStoreError(err, "failed to supersede verification tokens")
		}

		token := &EmailVerificationToken{
			UserID:    user.ID,
			TokenHash: Fingerprint(plain),
			ExpiresAt: s.now().Add(s.ttl()),
		}
		if err := s.repo.VerificationTokens().CreateTx(ctx, tx, token); err != nil {
			return wrapStoreError(err, "failed to persist verification token")
		}
		return nil
	})
	if err != nil {
		return err
	}

	link := s.buildVerifyLink(plain)
	if err := s.mailer.Send(ctx, user.Email, "Verify your email", verificationEmailHTML(link, s.cfg.TTLHours)); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to deliver verification email").
			WithTextCode(CodeMailSendFailed)
	}

	s.logger.Info("verification email sent", "user_id", user.ID)
	return nil
}

// Confirm is the API-mode confirmation: it raises coded errors instead of
// redirect URLs. The usedAt column is the linearization point; a concurrent
// confirm loses the conditional update and observes TOKEN_ALREADY_USED.
//
// Used is checked before expired: a consumed token stays TOKEN_ALREADY_USED
// forever, even once past expiry. The redirect flow orders the checks the
// other way and deletes on expiry; a used-and-expired token therefore reads
// TOKEN_ALREADY_USED here and TOKEN_EXPIRED there.
func (s *EmailVerificationService) Confirm(ctx context.Context, plain string) error {
	fingerprint := Fingerprint(plain)

	return s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := s.repo.VerificationTokens().FindByFingerprintTx(ctx, tx, fingerprint)
		if err != nil {
			if isRecordNotFound(err) {
				return ErrInvalidToken
			}
			return wrapStoreError(err, "failed to look up verification token")
		}

		if token.Used() {
			return ErrTokenAlreadyUsed
		}
		if token.Expired(s.now()) {
			return ErrTokenExpired
		}

		return s.consumeTx(ctx, tx, token)
	})
}

// ConfirmAndGetRedirectURL drives the GET /auth/verify-email flow: the
// outcome is encoded in the returned frontend URL, an error means
// infrastructure failure only.
func (s *EmailVerificationService) ConfirmAndGetRedirectURL(ctx context.Context, plain string) (string, error) {
	fingerprint := Fingerprint(plain)
	redirect := s.cfg.FrontendSuccessURL

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := s.repo.VerificationTokens().FindByFingerprintTx(ctx, tx, fingerprint)
		if err != nil {
			if isRecordNotFound(err) {
				redirect = s.cfg.FrontendErrorURL + "?reason=" + CodeInvalidToken
				return nil
			}
			return wrapStoreError(err, "failed to look up verification token")
		}

		if token.Expired(s.now()) {
			if err := s.repo.VerificationTokens().DeleteTx(ctx, tx, token.ID); err != nil {
				return wrapStoreError(err, "failed to delete expired verification token")
			}
			redirect = s.cfg.FrontendErrorURL + "?reason=" + CodeTokenExpired
			return nil
		}

		if token.Used() {
			redirect = s.cfg.FrontendErrorURL + "?reason=" + CodeTokenAlreadyUsed
			return nil
		}

		if err := s.consumeTx(ctx, tx, token); err != nil {
			if goerrors.Is(err, ErrTokenAlreadyUsed) {
				redirect = s.cfg.FrontendErrorURL + "?reason=" + CodeTokenAlreadyUsed
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return redirect, nil
}

// consumeTx performs the ISSUED -> USED transition: mark used, enable the
// account, supersede any remaining unused tokens.
func (s *EmailVerificationService) consumeTx(ctx context.Context, tx bun.Tx, token *EmailVerificationToken) error {
	won, err := s.repo.VerificationTokens().MarkUsedTx(ctx, tx, token.ID, s.now())
	if err != nil {
		return wrapStoreError(err, "failed to mark verification token used")
	}
	if !won {
		return ErrTokenAlreadyUsed
	}

	if err := s.repo.Users().EnableTx(ctx, tx, token.UserID); err != nil {
		return wrapStoreError(err, "failed to enable user")
	}

	if _, err := s.repo.VerificationTokens().DeleteUnusedByUserTx(ctx, tx, token.UserID); err != nil {
		return wrapStoreError(err, "failed to supersede verification tokens")
	}

	s.logger.Info("email verified", "user_id", token.UserID)
	return nil
}

// buildVerifyLink prefers the backend GET endpoint when configured and falls
// back to the frontend route, rewriting the success path /verified -> /verify.
func (s *EmailVerificationService) buildVerifyLink(plain string) string {
	if strings.TrimSpace(s.cfg.BackendVerifyURL) != "" {
		return strings.TrimSpace(s.cfg.BackendVerifyURL) + "?token=" + plain
	}
	base := strings.Replace(s.cfg.FrontendSuccessURL, "/verified", "/verify", 1)
	return base + "?token=" + plain
}
