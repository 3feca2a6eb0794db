package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ClaimsContextKey is where the bearer middleware stores validated claims.
const ClaimsContextKey = "auth_claims"

// RequireAccessToken guards a route behind a valid Bearer access token. On
// success the parsed claims are available via ClaimsFromContext.
func RequireAccessToken(tokens *TokenService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)

		const scheme = "Bearer "
		if !strings.HasPrefix(header, scheme) {
			return fiber.ErrUnauthorized
		}

		claims, err := tokens.Validate(strings.TrimSpace(strings.TrimPrefix(header, scheme)))
		if err != nil {
			return fiber.ErrUnauthorized
		}

		c.Locals(ClaimsContextKey, claims)
		return c.Next()
	}
}

// ClaimsFromContext retrieves the claims stored by RequireAccessToken.
func ClaimsFromContext(c *fiber.Ctx) (*AccessClaims, bool) {
	claims, ok := c.Locals(ClaimsContextKey).(*AccessClaims)
	return claims, ok
}
