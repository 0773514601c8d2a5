package middleware

import (
	"fmt"
	"strings"

	pkgerrors "capajail/pkg/errors"
	"capajail/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const subjectContextKey = "auth_subject"

// BearerAuthConfig configures HS256 bearer-token checks.
type BearerAuthConfig struct {
	Secret string
	// Issuer, when set, must match the token's iss claim.
	Issuer string
}

// BearerAuthMiddleware rejects requests without a valid HS256 token. An empty
// secret disables the check.
func BearerAuthMiddleware(cfg BearerAuthConfig) gin.HandlerFunc {
	if cfg.Secret == "" {
		return func(c *gin.Context) { c.Next() }
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)
	key := []byte(cfg.Secret)

	return func(c *gin.Context) {
		raw := extractBearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "missing bearer token")
			return
		}
		claims := jwt.RegisteredClaims{}
		_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil {
			response.AbortWithError(c, pkgerrors.Wrapf(err, pkgerrors.Unauthorized, "invalid bearer token: %v", err))
			return
		}
		c.Set(subjectContextKey, claims.Subject)
		c.Next()
	}
}

// Subject returns the authenticated token subject, if any.
func Subject(c *gin.Context) string {
	return c.GetString(subjectContextKey)
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// SignHS256 issues a token for subject; used by tooling and tests.
func SignHS256(secret, subject, issuer string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret is empty")
	}
	claims := jwt.RegisteredClaims{Subject: subject, Issuer: issuer}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
