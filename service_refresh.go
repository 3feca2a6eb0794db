package auth

import (
	"context"

	"github.com/uptrace/bun"
)

// RefreshConfig bounds concurrent sessions per user; <=0 disables the cap.
type RefreshConfig struct {
	MaxSessionsPerUser int
}

// UserRef is the minimal user projection handed back to the controller on
// refresh/logout-all.
type UserRef struct {
	ID       int64
	Username string
}

// RefreshService issues, validates and revokes opaque refresh tokens. Tokens
// do not rotate: the client keeps the same string across access renewals.
type RefreshService struct {
	repo   RepositoryManager
	cfg    RefreshConfig
	logger Logger
}

func NewRefreshService(repo RepositoryManager, cfg RefreshConfig) *RefreshService {
	return &RefreshService{
		repo:   repo,
		cfg:    cfg,
		logger: defLogger{},
	}
}

func (s *RefreshService) WithLogger(logger Logger) *RefreshService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Create persists a new session fingerprint and enforces the cap in the same
// transaction: the count may transiently exceed the max between insert and
// eviction, but never past commit. Eviction drops the oldest rows by
// created_at, id.
func (s *RefreshService) Create(ctx context.Context, user *User) (string, error) {
	plain, err := NewOpaqueToken(RefreshTokenBytes)
	if err != nil {
		return "", err
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token := &RefreshToken{
			UserID:    user.ID,
			TokenHash: Fingerprint(plain),
		}
		if err := s.repo.RefreshTokens().CreateTx(ctx, tx, token); err != nil {
			return wrapStoreError(err, "failed to persist refresh token")
		}

		if s.cfg.MaxSessionsPerUser <= 0 {
			return nil
		}

		count, err := s.repo.RefreshTokens().CountByUserTx(ctx, tx, user.ID)
		if err != nil {
			return wrapStoreError(err, "failed to count refresh tokens")
		}
		if count <= s.cfg.MaxSessionsPerUser {
			return nil
		}

		evicted, err := s.repo.RefreshTokens().DeleteOldestTx(ctx, tx, user.ID, count-s.cfg.MaxSessionsPerUser)
		if err != nil {
			return wrapStoreError(err, "failed to evict oldest refresh tokens")
		}
		if evicted > 0 {
			s.logger.Debug("session cap enforced", "user_id", user.ID, "evicted", evicted)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return plain, nil
}

// ValidateAndGetUserRef resolves a plaintext refresh token to its owner.
func (s *RefreshService) ValidateAndGetUserRef(ctx context.Context, plain string) (UserRef, error) {
	token, err := s.repo.RefreshTokens().FindByFingerprint(ctx, Fingerprint(plain))
	if err != nil {
		if isRecordNotFound(err) {
			return UserRef{}, ErrInvalidRefreshToken
		}
		return UserRef{}, wrapStoreError(err, "failed to look up refresh token")
	}

	if token.User == nil {
		return UserRef{}, ErrInvalidRefreshToken
	}

	return UserRef{ID: token.User.ID, Username: token.User.Username}, nil
}

// Revoke deletes the matching session if present. A miss is not an error.
func (s *RefreshService) Revoke(ctx context.Context, plain string) error {
	if _, err := s.repo.RefreshTokens().DeleteByFingerprint(ctx, Fingerprint(plain)); err != nil {
		return wrapStoreError(err, "failed to revoke refresh token")
	}
	return nil
}

// RevokeAllByUserID deletes every session of the user.
func (s *RefreshService) RevokeAllByUserID(ctx context.Context, userID int64) error {
	n, err := s.repo.RefreshTokens().DeleteAllByUser(ctx, userID)
	if err != nil {
		return wrapStoreError(err, "failed to revoke refresh tokens")
	}
	if n > 0 {
		s.logger.Info("revoked all sessions", "user_id", userID, "count", n)
	}
	return nil
}
