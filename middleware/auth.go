// middleware/auth.go
package middleware

import (
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// HostAuthMiddleware requires a valid host JWT. Session creation, start
// and the other host controls sit behind it; tokens are minted by the
// external identity provider that shares JWT_SECRET with us.
func HostAuthMiddleware(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return c.Status(401).JSON(fiber.Map{"error": "Missing authorization header"})
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return c.Status(401).JSON(fiber.Map{"error": "Invalid authorization header format"})
	}

	claims, err := parseToken(parts[1])
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	hostID, ok := claims["host_id"].(string)
	if !ok || hostID == "" {
		return c.Status(403).JSON(fiber.Map{"error": "Token does not carry host identity"})
	}

	c.Locals("hostId", hostID)
	c.Locals("username", claims["username"])

	return c.Next()
}

// WebSocketAuthMiddleware extracts identity for websocket upgrades.
// Players without a token join as guests; a token, when present, binds
// the connection to a stable player identity across reconnects.
func WebSocketAuthMiddleware(c *fiber.Ctx) error {
	var tokenString string

	authHeader := c.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
	}

	// Fall back to cookie if no header
	if tokenString == "" {
		tokenString = c.Cookies("token")
	}

	if tokenString == "" {
		c.Locals("playerId", "")
		c.Locals("username", "")
		c.Locals("isGuest", true)
		return c.Next()
	}

	claims, err := parseToken(tokenString)
	if err != nil {
		// Invalid token - treat as guest
		c.Locals("playerId", "")
		c.Locals("username", "")
		c.Locals("isGuest", true)
		return c.Next()
	}

	playerID, _ := claims["player_id"].(string)
	if playerID == "" {
		playerID, _ = claims["host_id"].(string)
	}
	username, _ := claims["username"].(string)

	c.Locals("playerId", playerID)
	c.Locals("username", username)
	c.Locals("isGuest", playerID == "")
	if hostID, ok := claims["host_id"].(string); ok {
		c.Locals("hostId", hostID)
	}

	return c.Next()
}

func parseToken(tokenString string) (jwt.MapClaims, error) {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "quizshow-secret-change-in-production"
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(401, "Invalid signing method")
		}
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fiber.NewError(401, "Invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fiber.NewError(401, "Invalid token claims")
	}

	exp, ok := claims["exp"].(float64)
	if !ok || time.Unix(int64(exp), 0).Before(time.Now()) {
		return nil, fiber.NewError(401, "Token expired")
	}

	return claims, nil
}

// GetHostID returns the authenticated host identity.
func GetHostID(c *fiber.Ctx) (string, error) {
	hostID := c.Locals("hostId")
	if hostID == nil {
		return "", fiber.NewError(401, "Host not authenticated")
	}

	if id, ok := hostID.(string); ok && id != "" {
		return id, nil
	}

	return "", fiber.NewError(401, "Invalid host ID format")
}
