package auth

import (
	"time"

	"github.com/uptrace/bun"
)

// User is the identity record. Enabled stays false until a verification
// confirmation (or the admin seed) flips it.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID           int64     `bun:"id,pk,autoincrement" json:"id"`
	Username     string    `bun:"username,notnull,unique" json:"username"`
	Email        string    `bun:"email,notnull,unique" json:"email"`
	PasswordHash string    `bun:"password_hash,notnull" json:"-"`
	Enabled      bool      `bun:"enabled,notnull" json:"enabled"`
	CreatedAt    time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp" json:"createdAt"`
}

// EmailVerificationToken stores the fingerprint of an outstanding email
// verification link. Used rows are retained as audit; unused rows are
// superseded on resend.
type EmailVerificationToken struct {
	bun.BaseModel `bun:"table:email_verification_tokens,alias:evt"`

	ID        int64      `bun:"id,pk,autoincrement"`
	UserID    int64      `bun:"user_id,notnull"`
	User      *User      `bun:"rel:belongs-to,join:user_id=id"`
	TokenHash string     `bun:"token_hash,notnull,unique"`
	ExpiresAt time.Time  `bun:"expires_at,notnull"`
	UsedAt    *time.Time `bun:"used_at,nullzero"`
	CreatedAt time.Time  `bun:"created_at,notnull,nullzero,default:current_timestamp"`
}

// Used reports whether the token reached its terminal USED state.
func (t *EmailVerificationToken) Used() bool {
	return t.UsedAt != nil
}

// Expired reports whether the token is past its expiry at the given instant.
func (t *EmailVerificationToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// PasswordResetToken stores the fingerprint of a single-use reset token.
type PasswordResetToken struct {
	bun.BaseModel `bun:"table:password_reset_tokens,alias:prt"`

	ID        int64     `bun:"id,pk,autoincrement"`
	UserID    int64     `bun:"user_id,notnull"`
	User      *User     `bun:"rel:belongs-to,join:user_id=id"`
	TokenHash string    `bun:"token_hash,notnull,unique"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	Used      bool      `bun:"used,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
}

// Expired reports whether the token is past its expiry at the given instant.
func (t *PasswordResetToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// RefreshToken has no expiry column; its lifetime is bounded by the per-user
// session cap and explicit revocation.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rft"`

	ID        int64     `bun:"id,pk,autoincrement"`
	UserID    int64     `bun:"user_id,notnull"`
	User      *User     `bun:"rel:belongs-to,join:user_id=id"`
	TokenHash string    `bun:"token_hash,notnull,unique"`
	CreatedAt time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
}
