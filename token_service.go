package auth

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// AccessClaims is the claim set carried by access tokens: the registered
// iss/sub/iat/exp plus the numeric user id.
type AccessClaims struct {
	jwt.RegisteredClaims
	UID int64 `json:"uid"`
}

// TokenService mints and validates compact HS256 access tokens over a shared
// secret.
type TokenService struct {
	signingKey        []byte
	expirationSeconds int
	issuer            string
	logger            Logger
}

// NewTokenService decodes the base64 shared secret once at startup.
func NewTokenService(secretB64 string, expirationSeconds int, issuer string, logger Logger) (*TokenService, error) {
	key, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "jwt secret is not valid base64")
	}
	if len(key) == 0 {
		return nil, goerrors.New("jwt secret must not be empty", goerrors.CategoryBadInput)
	}

	if expirationSeconds <= 0 {
		expirationSeconds = 3600
	}
	if issuer == "" {
		issuer = "opsimulator"
	}
	if logger == nil {
		logger = defLogger{}
	}

	return &TokenService{
		signingKey:        key,
		expirationSeconds: expirationSeconds,
		issuer:            issuer,
		logger:            logger,
	}, nil
}

// Generate mints a bearer token for the user: sub is the username, uid the
// numeric id, exp = iat + the configured lifetime. The jti keeps two tokens
// minted within the same second distinct.
func (ts *TokenService) Generate(username string, uid int64) (string, error) {
	now := time.Now()
	claims := &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ts.expirationSeconds) * time.Second)),
			ID:        uuid.NewString(),
		},
		UID: uid,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign access token")
	}

	return signed, nil
}

// ExpirationSeconds reports the configured access-token lifetime.
func (ts *TokenService) ExpirationSeconds() int {
	return ts.expirationSeconds
}

// Validate parses and checks signature, expiry and issuer, returning the
// structured claims.
func (ts *TokenService) Validate(raw string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, jwt.WithIssuer(ts.issuer))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "invalid access token")
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, goerrors.New("could not decode access token claims", goerrors.CategoryAuth)
	}

	return claims, nil
}
