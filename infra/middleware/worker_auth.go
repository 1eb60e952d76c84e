package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"engagement_worker/pkg/apperr"
	"engagement_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Locals keys set by JWTAuth.
const (
	LocalOperator = "operator"
	LocalClaims   = "claims"
)

// JWTAuth protects the admin API with HS256 bearer tokens. The "sub" claim
// names the operator and is attached to the request for audit logging.
func JWTAuth(secret string) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(time.Minute),
	)

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}
		if secret == "" {
			return apperr.ConfigError("JWT secret not configured")
		}

		tokenString := bearerToken(c.Get(fiber.HeaderAuthorization))
		if tokenString == "" {
			return apperr.Unauthorized("missing authorization")
		}

		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
			return []byte(secret), nil
		})
		if err != nil {
			logger.WithError(err).Warn("JWT validation failed")
			if errors.Is(err, jwt.ErrTokenExpired) {
				return apperr.New(apperr.CodeTokenExpired, "token expired", http.StatusUnauthorized)
			}
			return apperr.InvalidToken("invalid token")
		}

		operator, err := claims.GetSubject()
		if err != nil || operator == "" {
			return apperr.InvalidToken("missing subject in token")
		}

		c.Locals(LocalOperator, operator)
		c.Locals(LocalClaims, claims)
		return c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
