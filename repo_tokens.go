package auth

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// VerificationTokens persists email-verification tokens. Only fingerprints
// are stored; used rows are kept for audit, unused rows get superseded.
type VerificationTokens interface {
	CreateTx(ctx context.Context, tx bun.IDB, token *EmailVerificationToken) error
	FindByFingerprint(ctx context.Context, fingerprint string) (*EmailVerificationToken, error)
	FindByFingerprintTx(ctx context.Context, tx bun.IDB, fingerprint string) (*EmailVerificationToken, error)
	// MarkUsedTx flips used_at if and only if the row is still unused. The
	// returned bool reports whether this caller won the transition.
	MarkUsedTx(ctx context.Context, tx bun.IDB, id int64, at time.Time) (bool, error)
	DeleteTx(ctx context.Context, tx bun.IDB, id int64) error
	DeleteUnusedByUserTx(ctx context.Context, tx bun.IDB, userID int64) (int64, error)
	DeleteExpiredUnused(ctx context.Context, cutoff time.Time) (int64, error)
}

// ResetTokens persists password-reset tokens.
type ResetTokens interface {
	CreateTx(ctx context.Context, tx bun.IDB, token *PasswordResetToken) error
	FindByFingerprintTx(ctx context.Context, tx bun.IDB, fingerprint string) (*PasswordResetToken, error)
	MarkUsedTx(ctx context.Context, tx bun.IDB, id int64) (bool, error)
	DeleteByUserTx(ctx context.Context, tx bun.IDB, userID int64) (int64, error)
	// DeleteExpired removes terminal rows: past expiry or already used.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// RefreshTokens persists refresh-session tokens with a per-user cap.
type RefreshTokens interface {
	CreateTx(ctx context.Context, tx bun.IDB, token *RefreshToken) error
	FindByFingerprint(ctx context.Context, fingerprint string) (*RefreshToken, error)
	DeleteByFingerprint(ctx context.Context, fingerprint string) (int64, error)
	DeleteAllByUser(ctx context.Context, userID int64) (int64, error)
	CountByUserTx(ctx context.Context, tx bun.IDB, userID int64) (int, error)
	// DeleteOldestTx evicts the n oldest sessions for a user, ordered by
	// created_at then id so insertion order breaks timestamp ties.
	DeleteOldestTx(ctx context.Context, tx bun.IDB, userID int64, n int) (int64, error)
}

type verificationTokens struct {
	db *bun.DB
}

var _ VerificationTokens = (*verificationTokens)(nil)

func NewVerificationTokensRepository(db *bun.DB) VerificationTokens {
	return &verificationTokens{db: db}
}

func (r *verificationTokens) CreateTx(ctx context.Context, tx bun.IDB, token *EmailVerificationToken) error {
	_, err := tx.NewInsert().Model(token).Returning("id, created_at").Exec(ctx)
	return err
}

func (r *verificationTokens) FindByFingerprint(ctx context.Context, fingerprint string) (*EmailVerificationToken, error) {
	return r.FindByFingerprintTx(ctx, r.db, fingerprint)
}

func (r *verificationTokens) FindByFingerprintTx(ctx context.Context, tx bun.IDB, fingerprint string) (*EmailVerificationToken, error) {
	record := &EmailVerificationToken{}
	err := tx.NewSelect().Model(record).
		Relation("User").
		Where("?TableAlias.token_hash = ?", fingerprint).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *verificationTokens) MarkUsedTx(ctx context.Context, tx bun.IDB, id int64, at time.Time) (bool, error) {
	res, err := tx.NewUpdate().Model((*EmailVerificationToken)(nil)).
		Set("used_at = ?", at).
		Where("id = ? AND used_at IS NULL", id).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *verificationTokens) DeleteTx(ctx context.Context, tx bun.IDB, id int64) error {
	_, err := tx.NewDelete().Model((*EmailVerificationToken)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (r *verificationTokens) DeleteUnusedByUserTx(ctx context.Context, tx bun.IDB, userID int64) (int64, error) {
	res, err := tx.NewDelete().Model((*EmailVerificationToken)(nil)).
		Where("user_id = ? AND used_at IS NULL", userID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *verificationTokens) DeleteExpiredUnused(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.NewDelete().Model((*EmailVerificationToken)(nil)).
		Where("expires_at < ? AND used_at IS NULL", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type resetTokens struct {
	db *bun.DB
}

var _ ResetTokens = (*resetTokens)(nil)

func NewResetTokensRepository(db *bun.DB) ResetTokens {
	return &resetTokens{db: db}
}

func (r *resetTokens) CreateTx(ctx context.Context, tx bun.IDB, token *PasswordResetToken) error {
	_, err := tx.NewInsert().Model(token).Returning("id, created_at").Exec(ctx)
	return err
}

func (r *resetTokens) FindByFingerprintTx(ctx context.Context, tx bun.IDB, fingerprint string) (*PasswordResetToken, error) {
	record := &PasswordResetToken{}
	err := tx.NewSelect().Model(record).
		Relation("User").
		Where("?TableAlias.token_hash = ?", fingerprint).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *resetTokens) MarkUsedTx(ctx context.Context, tx bun.IDB, id int64) (bool, error) {
	res, err := tx.NewUpdate().Model((*PasswordResetToken)(nil)).
		Set("used = ?", true).
		Where("id = ? AND used = ?", id, false).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *resetTokens) DeleteByUserTx(ctx context.Context, tx bun.IDB, userID int64) (int64, error) {
	res, err := tx.NewDelete().Model((*PasswordResetToken)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *resetTokens) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.NewDelete().Model((*PasswordResetToken)(nil)).
		Where("expires_at < ? OR used = ?", cutoff, true).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type refreshTokens struct {
	db *bun.DB
}

var _ RefreshTokens = (*refreshTokens)(nil)

func NewRefreshTokensRepository(db *bun.DB) RefreshTokens {
	return &refreshTokens{db: db}
}

func (r *refreshTokens) CreateTx(ctx context.Context, tx bun.IDB, token *RefreshToken) error {
	_, err := tx.NewInsert().Model(token).Returning("id, created_at").Exec(ctx)
	return err
}

func (r *refreshTokens) FindByFingerprint(ctx context.Context, fingerprint string) (*RefreshToken, error) {
	record := &RefreshToken{}
	err := r.db.NewSelect().Model(record).
		Relation("User").
		Where("?TableAlias.token_hash = ?", fingerprint).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *refreshTokens) DeleteByFingerprint(ctx context.Context, fingerprint string) (int64, error) {
	res, err := r.db.NewDelete().Model((*RefreshToken)(nil)).
		Where("token_hash = ?", fingerprint).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *refreshTokens) DeleteAllByUser(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.NewDelete().Model((*RefreshToken)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *refreshTokens) CountByUserTx(ctx context.Context, tx bun.IDB, userID int64) (int, error) {
	return tx.NewSelect().Model((*RefreshToken)(nil)).
		Where("user_id = ?", userID).
		Count(ctx)
}

func (r *refreshTokens) DeleteOldestTx(ctx context.Context, tx bun.IDB, userID int64, n int) (int64, error) {
	if n <= 0 {
		return 0, nil
	}

	oldest := tx.NewSelect().Model((*RefreshToken)(nil)).
		Column("id").
		Where("user_id = ?", userID).
		OrderExpr("created_at ASC, id ASC").
		Limit(n)

	res, err := tx.NewDelete().Model((*RefreshToken)(nil)).
		Where("id IN (?)", oldest).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
