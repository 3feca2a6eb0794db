package auth_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/opsimulator/auth-service"
)

type testApp struct {
	app    *fiber.App
	repo   auth.RepositoryManager
	mailer *recorderMailer
	tokens *auth.TokenService
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	repo := newTestRepo(t)
	mailer := &recorderMailer{}
	tokens := newTestTokenService(t)

	users := auth.NewUserService(repo)
	verification := auth.NewEmailVerificationService(repo, mailer, auth.EmailVerificationConfig{
		TTLHours:           24,
		FrontendSuccessURL: "https://app.example.com/verified",
		FrontendErrorURL:   "https://app.example.com/verify-error",
	})
	resets := auth.NewPasswordResetService(repo, users, mailer, auth.PasswordResetConfig{ExpirationMinutes: 30})
	refresh := auth.NewRefreshService(repo, auth.RefreshConfig{MaxSessionsPerUser: 5})

	controller := auth.NewAuthController(repo, users, verification, resets, refresh, tokens)

	app := fiber.New(fiber.Config{ErrorHandler: auth.NewErrorHandler(nil)})
	auth.RegisterAuthRoutes(app, controller)

	return &testApp{app: app, repo: repo, mailer: mailer, tokens: tokens}
}

func (ta *testApp) request(t *testing.T, method, path string, body any, bearer string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bearer)
	}

	res, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	return res
}

func decodeJSON[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	defer res.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

type tokenPair struct {
	TokenType    string `json:"tokenType"`
	AccessToken  string `json:"accessToken"`
	ExpiresIn    int    `json:"expiresIn"`
	RefreshToken string `json:"refreshToken"`
}

func (ta *testApp) register(t *testing.T, username, email, password string) {
	t.Helper()
	res := ta.request(t, http.MethodPost, "/auth/register", fiber.Map{
		"username": username, "email": email, "password": password,
	}, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()
}

func (ta *testApp) registerAndVerify(t *testing.T, username, email, password string) {
	t.Helper()
	ta.register(t, username, email, password)

	res := ta.request(t, http.MethodGet, "/auth/verify-email?token="+ta.mailer.verificationToken(t), nil, "")
	require.Equal(t, http.StatusFound, res.StatusCode)
	res.Body.Close()
}

func (ta *testApp) login(t *testing.T, identifier, password string) tokenPair {
	t.Helper()
	res := ta.request(t, http.MethodPost, "/auth/login", fiber.Map{
		"usernameOrEmail": identifier, "password": password,
	}, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	return decodeJSON[tokenPair](t, res)
}

func TestRegisterVerifyLoginFlow(t *testing.T) {
	ta := newTestApp(t)

	res := ta.request(t, http.MethodPost, "/auth/register", fiber.Map{
		"username": "alice", "email": "alice@example.com", "password": "password-123",
	}, "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	created := decodeJSON[struct {
		ID        int64  `json:"id"`
		Username  string `json:"username"`
		Email     string `json:"email"`
		Enabled   bool   `json:"enabled"`
		CreatedAt string `json:"createdAt"`
	}](t, res)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "alice", created.Username)
	assert.False(t, created.Enabled)
	assert.NotEmpty(t, created.CreatedAt)

	// login before verification is rejected with a distinct code
	res = ta.request(t, http.MethodPost, "/auth/login", fiber.Map{
		"usernameOrEmail": "alice", "password": "password-123",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "EMAIL_NOT_VERIFIED", decodeCode(t, res.Body))
	res.Body.Close()

	// the verification link redirects to the success page
	token := ta.mailer.verificationToken(t)
	res = ta.request(t, http.MethodGet, "/auth/verify-email?token="+token, nil, "")
	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "https://app.example.com/verified", res.Header.Get(fiber.HeaderLocation))
	res.Body.Close()

	// a second click lands on the error page
	res = ta.request(t, http.MethodGet, "/auth/verify-email?token="+token, nil, "")
	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "https://app.example.com/verify-error?reason=TOKEN_ALREADY_USED", res.Header.Get(fiber.HeaderLocation))
	res.Body.Close()

	pair := ta.login(t, "alice", "password-123")
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, 3600, pair.ExpiresIn)
	assert.NotEmpty(t, pair.RefreshToken)

	claims, err := ta.tokens.Validate(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, created.ID, claims.UID)
}

func TestRegisterValidation(t *testing.T) {
	ta := newTestApp(t)

	tests := []struct {
		name string
		body fiber.Map
	}{
		{"short username", fiber.Map{"username": "ab", "email": "a@example.com", "password": "password-123"}},
		{"bad email", fiber.Map{"username": "alice", "email": "not-an-email", "password": "password-123"}},
		{"short password", fiber.Map{"username": "alice", "email": "a@example.com", "password": "short"}},
		{"missing fields", fiber.Map{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ta.request(t, http.MethodPost, "/auth/register", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
			assert.Equal(t, "VALIDATION_ERROR", decodeCode(t, res.Body))
			res.Body.Close()
		})
	}
}

func TestRegisterConflictCodes(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice", "alice@example.com", "password-123")

	res := ta.request(t, http.MethodPost, "/auth/register", fiber.Map{
		"username": "alice", "email": "other@example.com", "password": "password-123",
	}, "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "USERNAME_EXISTS", decodeCode(t, res.Body))
	res.Body.Close()

	res = ta.request(t, http.MethodPost, "/auth/register", fiber.Map{
		"username": "bob", "email": "alice@example.com", "password": "password-123",
	}, "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "EMAIL_EXISTS", decodeCode(t, res.Body))
	res.Body.Close()
}

func TestLoginInvalidCredentials(t *testing.T) {
	ta := newTestApp(t)
	ta.registerAndVerify(t, "alice", "alice@example.com", "password-123")

	res := ta.request(t, http.MethodPost, "/auth/login", fiber.Map{
		"usernameOrEmail": "alice", "password": "wrong-password",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeCode(t, res.Body))
	res.Body.Close()

	res = ta.request(t, http.MethodPost, "/auth/login", fiber.Map{
		"usernameOrEmail": "nobody", "password": "password-123",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeCode(t, res.Body))
	res.Body.Close()
}

func TestRefreshDoesNotRotate(t *testing.T) {
	ta := newTestApp(t)
	ta.registerAndVerify(t, "alice", "alice@example.com", "password-123")
	pair := ta.login(t, "alice", "password-123")

	res := ta.request(t, http.MethodPost, "/auth/refresh", fiber.Map{"refreshToken": pair.RefreshToken}, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	first := decodeJSON[tokenPair](t, res)
	assert.Equal(t, pair.RefreshToken, first.RefreshToken, "refresh token is echoed unchanged")

	res = ta.request(t, http.MethodPost, "/auth/refresh", fiber.Map{"refreshToken": pair.RefreshToken}, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	second := decodeJSON[tokenPair](t, res)
	assert.Equal(t, pair.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken, "each refresh mints a new access token")

	claims, err := ta.tokens.Validate(second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
}

func TestRefreshUnknownToken(t *testing.T) {
	ta := newTestApp(t)

	res := ta.request(t, http.MethodPost, "/auth/refresh", fiber.Map{"refreshToken": "bogus"}, "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "INVALID_REFRESH_TOKEN", decodeCode(t, res.Body))
	res.Body.Close()
}

func TestLogout(t *testing.T) {
	ta := newTestApp(t)
	ta.registerAndVerify(t, "alice", "alice@example.com", "password-123")
	pair := ta.login(t, "alice", "password-123")

	res := ta.request(t, http.MethodPost, "/auth/logout", fiber.Map{"refreshToken": pair.RefreshToken}, "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res.Body.Close()

	res = ta.request(t, http.MethodPost, "/auth/refresh", fiber.Map{"refreshToken": pair.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "INVALID_REFRESH_TOKEN", decodeCode(t, res.Body))
	res.Body.Close()

	// logging out an already revoked token still answers 204
	res = ta.request(t, http.MethodPost, "/auth/logout", fiber.Map{"refreshToken": pair.RefreshToken}, "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res.Body.Close()
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	ta := newTestApp(t)
	ta.registerAndVerify(t, "alice", "alice@example.com", "password-123")

	first := ta.login(t, "alice", "password-123")
	second := ta.login(t, "alice", "password-123")

	res := ta.request(t, http.MethodPost, "/auth/logout-all", fiber.Map{"refreshToken": first.RefreshToken}, "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res.Body.Close()

	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		res := ta.request(t, http.MethodPost, "/auth/refresh", fiber.Map{"refreshToken": token}, "")
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
		res.Body.Close()
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	ta := newTestApp(t)
	ta.registerAndVerify(t, "alice", "alice@example.com", "old-password-1")

	res := ta.request(t, http.MethodPost, "/auth/forgot-password", fiber.Map{"email": "alice@example.com"}, "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res.Body.Close()

	token := ta.mailer.resetToken(t)

	res = ta.request(t, http.MethodPost, "/auth/reset-password", fiber.Map{
		"token": token, "newPassword": "new-password-1",
	}, "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res.Body.Close()

	// old password is dead, new one works
	res = ta.request(t, http.MethodPost, "/auth/login", fiber.Map{
		"usernameOrEmail": "alice", "password": "old-password-1",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	res.Body.Close()
	ta.login(t, "alice", "new-password-1")

	// the token is single use
	res = ta.request(t, http.MethodPost, "/auth/reset-password", fiber.Map{
		"token": token, "newPassword": "another-password-1",
	}, "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "RESET_TOKEN_EXPIRED", decodeCode(t, res.Body))
	res.Body.Close()
}

func TestForgotPasswordPrivacy(t *testing.T) {
	ta := newTestApp(t)
	ta.registerAndVerify(t, "alice", "alice@example.com", "password-123")
	sentBefore := ta.mailer.count()

	// known and unknown emails are indistinguishable from outside
	for _, email := range []string{"alice@example.com", "nobody@example.com"} {
		res := ta.request(t, http.MethodPost, "/auth/forgot-password", fiber.Map{"email": email}, "")
		assert.Equal(t, http.StatusNoContent, res.StatusCode)
		res.Body.Close()
	}

	assert.Equal(t, sentBefore+1, ta.mailer.count(), "only the known account got mail")
}

func TestResetPasswordUnknownToken(t *testing.T) {
	ta := newTestApp(t)

	res := ta.request(t, http.MethodPost, "/auth/reset-password", fiber.Map{
		"token": "bogus", "newPassword": "new-password-1",
	}, "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "RESET_TOKEN_INVALID", decodeCode(t, res.Body))
	res.Body.Close()
}

func TestChangeOwnPassword(t *testing.T) {
	ta := newTestApp(t)
	ta.registerAndVerify(t, "alice", "alice@example.com", "old-password-1")
	pair := ta.login(t, "alice", "old-password-1")

	// no bearer token
	res := ta.request(t, http.MethodPut, "/auth/users/me/password", fiber.Map{
		"currentPassword": "old-password-1", "newPassword": "new-password-1",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", decodeCode(t, res.Body))
	res.Body.Close()

	// wrong current password
	res = ta.request(t, http.MethodPut, "/auth/users/me/password", fiber.Map{
		"currentPassword": "wrong-password", "newPassword": "new-password-1",
	}, pair.AccessToken)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "CURRENT_PASSWORD_INCORRECT", decodeCode(t, res.Body))
	res.Body.Close()

	res = ta.request(t, http.MethodPut, "/auth/users/me/password", fiber.Map{
		"currentPassword": "old-password-1", "newPassword": "new-password-1",
	}, pair.AccessToken)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res.Body.Close()

	// the change revoked every refresh session
	res = ta.request(t, http.MethodPost, "/auth/refresh", fiber.Map{"refreshToken": pair.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	res.Body.Close()

	ta.login(t, "alice", "new-password-1")
}

func TestRequestVerificationPrivacy(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice", "alice@example.com", "password-123")
	sentBefore := ta.mailer.count()

	// unknown email: silent 204
	res := ta.request(t, http.MethodPost, "/auth/verify-email/request", fiber.Map{"email": "nobody@example.com"}, "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res.Body.Close()
	assert.Equal(t, sentBefore, ta.mailer.count())

	// pending account: a fresh token is issued
	res = ta.request(t, http.MethodPost, "/auth/verify-email/request", fiber.Map{"email": "alice@example.com"}, "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res.Body.Close()
	assert.Equal(t, sentBefore+1, ta.mailer.count())

	// the reissued token verifies the account
	res = ta.request(t, http.MethodGet, "/auth/verify-email?token="+ta.mailer.verificationToken(t), nil, "")
	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "https://app.example.com/verified", res.Header.Get(fiber.HeaderLocation))
	res.Body.Close()

	// already verified account: silent 204, no mail
	res = ta.request(t, http.MethodPost, "/auth/verify-email/request", fiber.Map{"email": "alice@example.com"}, "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res.Body.Close()
	assert.Equal(t, sentBefore+1, ta.mailer.count())
}

func TestVerifyEmailUnknownTokenRedirect(t *testing.T) {
	ta := newTestApp(t)

	res := ta.request(t, http.MethodGet, "/auth/verify-email?token=bogus", nil, "")
	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "https://app.example.com/verify-error?reason=INVALID_TOKEN", res.Header.Get(fiber.HeaderLocation))
	res.Body.Close()
}

func TestProtectedRouteRejectsBadTokens(t *testing.T) {
	ta := newTestApp(t)

	for name, header := range map[string]string{
		"garbage token": "not-a-jwt",
		"wrong signer":  mustForeignToken(t),
	} {
		res := ta.request(t, http.MethodPut, "/auth/users/me/password", fiber.Map{
			"currentPassword": "x-password-1", "newPassword": "y-password-1",
		}, header)
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode, name)
		res.Body.Close()
	}
}

func mustForeignToken(t *testing.T) string {
	t.Helper()
	other, err := auth.NewTokenService("b3RoZXIta2V5LW90aGVyLWtleS1vdGhlci1rZXk=", 3600, "opsimulator", nil)
	require.NoError(t, err)
	raw, err := other.Generate("alice", 1)
	require.NoError(t, err)
	return raw
}
