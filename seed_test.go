package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/opsimulator/auth-service"
)

func TestSeedAdminCreatesEnabledUser(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cfg := auth.SeedAdminConfig{
		Username: "admin",
		Email:    "admin@example.com",
		Password: "admin-password-1",
	}
	require.NoError(t, auth.SeedAdmin(ctx, repo, cfg, nil))

	user, err := repo.Users().FindByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, user.Enabled, "seeded admin skips email verification")
	assert.NoError(t, auth.ComparePasswordAndHash("admin-password-1", user.PasswordHash))
}

func TestSeedAdminIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cfg := auth.SeedAdminConfig{Username: "admin", Email: "admin@example.com", Password: "admin-password-1"}
	require.NoError(t, auth.SeedAdmin(ctx, repo, cfg, nil))

	cfg.Password = "different-password-1"
	require.NoError(t, auth.SeedAdmin(ctx, repo, cfg, nil))

	user, err := repo.Users().FindByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.NoError(t, auth.ComparePasswordAndHash("admin-password-1", user.PasswordHash),
		"second run must not touch the existing admin")
}

func TestSeedAdminSkipsWhenUnconfigured(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, auth.SeedAdmin(ctx, repo, auth.SeedAdminConfig{}, nil))

	exists, err := repo.Users().ExistsByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSeedAdminGeneratesPassword(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cfg := auth.SeedAdminConfig{Username: "admin", Email: "admin@example.com"}
	require.NoError(t, auth.SeedAdmin(ctx, repo, cfg, nil))

	user, err := repo.Users().FindByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.NotEmpty(t, user.PasswordHash)
}
