package auth_test

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/opsimulator/auth-service"
)

const testSchema = `
CREATE TABLE users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT NOT NULL UNIQUE,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    enabled       BOOLEAN NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX users_email_lower_uq ON users (lower(email));

CREATE TABLE email_verification_tokens (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    token_hash TEXT NOT NULL UNIQUE,
    expires_at TIMESTAMP NOT NULL,
    used_at    TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE password_reset_tokens (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    token_hash TEXT NOT NULL UNIQUE,
    expires_at TIMESTAMP NOT NULL,
    used       BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE refresh_tokens (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    token_hash TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// newTestDB opens a private in-memory database with the full schema. The
// single connection keeps the database alive for the test's lifetime.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	_, err = db.ExecContext(context.Background(), testSchema)
	require.NoError(t, err)

	return db
}

func newTestRepo(t *testing.T) auth.RepositoryManager {
	t.Helper()
	return auth.NewRepositoryManager(newTestDB(t))
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

// recorderMailer captures outbound mail instead of delivering it. FailWith
// makes every Send return that error.
type recorderMailer struct {
	mu       sync.Mutex
	Sent     []sentMail
	FailWith error
}

func (m *recorderMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.Sent = append(m.Sent, sentMail{To: to, Subject: subject, Body: htmlBody})
	return nil
}

func (m *recorderMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.Sent, "expected at least one email")
	return m.Sent[len(m.Sent)-1]
}

func (m *recorderMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

var (
	linkTokenRe = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)
	codeTokenRe = regexp.MustCompile(`<code>([A-Za-z0-9_-]+)</code>`)
)

// verificationToken pulls the plaintext token out of the last verification
// email's link.
func (m *recorderMailer) verificationToken(t *testing.T) string {
	t.Helper()
	match := linkTokenRe.FindStringSubmatch(m.last(t).Body)
	require.Len(t, match, 2, "verification email should carry a token link")
	return match[1]
}

// resetToken pulls the plaintext token out of the last reset email's code
// block.
func (m *recorderMailer) resetToken(t *testing.T) string {
	t.Helper()
	match := codeTokenRe.FindStringSubmatch(m.last(t).Body)
	require.Len(t, match, 2, "reset email should carry a token code")
	return match[1]
}

// testJWTSecret is 32 zero bytes, base64 encoded.
var testJWTSecret = base64.StdEncoding.EncodeToString(make([]byte, 32))

func newTestTokenService(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService(testJWTSecret, 3600, "opsimulator", nil)
	require.NoError(t, err)
	return ts
}

// createUser inserts a user directly through the repository, bypassing the
// registration flow.
func createUser(t *testing.T, repo auth.RepositoryManager, username, email, password string, enabled bool) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword(password)
	require.NoError(t, err)

	user := &auth.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Enabled:      enabled,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, repo.Users().Save(context.Background(), user))
	require.NotZero(t, user.ID)
	return user
}

var errSMTPDown = errors.New("smtp connection refused")
