// Package middleware provides the HTTP middleware chain: authentication, rate
// limiting, request logging, tracing and metrics.
package middleware

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"huddle/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenIssuer   = "huddle-api"
	TokenAudience = "huddle-client"
)

var (
	errMissingSubject = errors.New("missing subject")
	errInvalidSubject = errors.New("invalid subject")
)

// ParseUserToken validates an HMAC-signed token and returns the user id in its subject.
func ParseUserToken(secret, tokenString string) (uint, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(secret), nil
	},
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, err
	}
	if !token.Valid {
		return 0, jwt.ErrTokenInvalidClaims
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return 0, err
	}
	if sub == "" {
		return 0, errMissingSubject
	}

	userID, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || userID == 0 {
		return 0, errInvalidSubject
	}
	return uint(userID), nil
}

// SignUserToken mints a token for userID. Token issuance belongs to the account
// system; this exists for the seed and probe tools and for tests.
func SignUserToken(secret string, userID uint, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		Issuer:    TokenIssuer,
		Audience:  jwt.ClaimStrings{TokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AuthRequired enforces a Bearer token on protected routes.
func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authorization header required",
			})
		}
		token, ok := bearerToken(authHeader)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}
		return authenticate(c, secret, token)
	}
}

// WebSocketAuthRequired validates the token from the `token` query parameter,
// falling back to the Authorization header. Browsers cannot set headers on
// websocket upgrades.
func WebSocketAuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("token")
		if token == "" {
			authHeader := c.Get("Authorization")
			if authHeader == "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Token required",
				})
			}
			var ok bool
			token, ok = bearerToken(authHeader)
			if !ok {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid authorization header format",
				})
			}
		}
		return authenticate(c, secret, token)
	}
}

func authenticate(c *fiber.Ctx, secret, token string) error {
	userID, err := ParseUserToken(secret, token)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired token",
		})
	}

	c.Locals("userID", userID)
	c.SetUserContext(context.WithValue(c.UserContext(), observability.UserIDKey, userID))
	return c.Next()
}

func bearerToken(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
