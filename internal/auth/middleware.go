package auth

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	userIDKey         contextKey = "authUserID"
	captureSessionKey contextKey = "authCaptureSession"
)

// accessTokenParam carries the token for clients that cannot set headers,
// such as a browser EventSource.
const accessTokenParam = "access_token"

// GetUserID retrieves the authenticated operator subject from context.
func GetUserID(ctx context.Context) (string, bool) {
	return stringValue(ctx, userIDKey)
}

// GetCaptureSession retrieves the session id a capture token was issued for.
func GetCaptureSession(ctx context.Context) (string, bool) {
	return stringValue(ctx, captureSessionKey)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(key).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// JWTMiddleware validates operator bearer tokens and injects user identity.
// Capture tokens are rejected even when signed with the same secret.
func JWTMiddleware(secret, audience string) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)
	audience = strings.TrimSpace(audience)

	return func(c *gin.Context) {
		tokenString, err := tokenFromRequest(c)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		if secret == "" {
			secret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
		}
		if secret == "" {
			unauthorized(c, "missing JWT secret")
			return
		}

		claims, err := parseClaims(tokenString, []byte(secret))
		if err != nil {
			unauthorized(c, "invalid token")
			return
		}

		if containsAudience(claims.Audience, CaptureAudience) {
			unauthorized(c, "capture token not accepted")
			return
		}

		if audience == "" {
			audience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
		}
		if audience != "" && !containsAudience(claims.Audience, audience) {
			unauthorized(c, "invalid audience")
			return
		}

		if claims.Subject == "" {
			unauthorized(c, "missing subject")
			return
		}

		ctx := context.WithValue(c.Request.Context(), userIDKey, claims.Subject)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(userIDKey), claims.Subject)

		c.Next()
	}
}

// CaptureMiddleware admits requests whose capture token was issued for the
// session named by the :id path parameter.
func CaptureMiddleware(tokens *CaptureTokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := tokenFromRequest(c)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}
		if !admitCapture(c, tokens, tokenString) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token not valid for this session"})
			return
		}
		c.Next()
	}
}

// SessionAccess admits either a capture token for the :id session or an
// operator token accepted by operator.
func SessionAccess(tokens *CaptureTokens, operator gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString, err := tokenFromRequest(c); err == nil && admitCapture(c, tokens, tokenString) {
			c.Next()
			return
		}
		operator(c)
	}
}

func admitCapture(c *gin.Context, tokens *CaptureTokens, tokenString string) bool {
	sessionID, err := tokens.Verify(tokenString)
	if err != nil || sessionID != c.Param("id") {
		return false
	}
	ctx := context.WithValue(c.Request.Context(), captureSessionKey, sessionID)
	c.Request = c.Request.WithContext(ctx)
	c.Set(string(captureSessionKey), sessionID)
	return true
}

func parseClaims(tokenString string, secret []byte, opts ...jwt.ParserOption) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func tokenFromRequest(c *gin.Context) (string, error) {
	if header := c.Request.Header.Get("Authorization"); header != "" {
		return extractBearerToken(header)
	}
	if token := strings.TrimSpace(c.Query(accessTokenParam)); token != "" {
		return token, nil
	}
	return "", errors.New("authorization header required")
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

func containsAudience(claims jwt.ClaimStrings, expected string) bool {
	for _, aud := range claims {
		if aud == expected {
			return true
		}
	}
	return false
}
