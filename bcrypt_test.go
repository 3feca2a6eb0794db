package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/opsimulator/auth-service"
)

func TestHashPassword(t *testing.T) {
	hash, err := auth.HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", hash)

	assert.NoError(t, auth.ComparePasswordAndHash("s3cret-pass", hash))
	assert.ErrorIs(t, auth.ComparePasswordAndHash("wrong-pass", hash), auth.ErrMismatchedHashAndPassword)
}

func TestHashPasswordEmpty(t *testing.T) {
	_, err := auth.HashPassword("")
	assert.ErrorIs(t, err, auth.ErrNoEmptyString)
}

func TestHashPasswordNotDeterministic(t *testing.T) {
	a, err := auth.HashPassword("same-input")
	require.NoError(t, err)
	b, err := auth.HashPassword("same-input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "bcrypt salts every hash")
}

func TestRandomPasswordHash(t *testing.T) {
	h := auth.RandomPasswordHash()
	assert.NotEmpty(t, h)
	assert.Error(t, auth.ComparePasswordAndHash("anything", h))
}
