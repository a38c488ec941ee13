package devserver

import (
	"errors"
	"strings"
	"time"

	"feedsync/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// viewerKey is the fiber local holding the authenticated username, "" when anonymous.
const viewerKey = "viewer"

// MintToken signs a development bearer token for username.
func MintToken(secret, username string, ttl time.Duration) (string, error) {
	if username == "" {
		return "", errors.New("username is required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": username,
		"iat": now.Unix(),
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// parseToken validates tokenString and returns its subject.
func parseToken(secret, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("invalid token structure - missing subject")
	}
	return sub, nil
}

// Viewer resolves the optional bearer token of a request. Anonymous requests pass
// through with an empty viewer; a malformed or invalid token is rejected.
func (s *Server) Viewer() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(viewerKey, "")

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Next()
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return respondWithError(c, models.NewUnauthorizedError("Invalid authorization header format"))
		}

		username, err := parseToken(s.config.JWTSecret, parts[1])
		if err != nil {
			return respondWithError(c, models.NewUnauthorizedError("Invalid or expired token"))
		}

		c.Locals(viewerKey, username)
		return c.Next()
	}
}

// AuthRequired rejects anonymous requests. It must run after Viewer.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if viewer(c) == "" {
			return respondWithError(c, models.NewUnauthorizedError("Authentication credentials were not provided"))
		}
		return c.Next()
	}
}

func viewer(c *fiber.Ctx) string {
	v, _ := c.Locals(viewerKey).(string)
	return v
}
