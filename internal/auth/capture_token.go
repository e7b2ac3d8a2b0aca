package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CaptureAudience marks tokens that authorize the capture device of a
// single session.
const CaptureAudience = "capture"

// CaptureTokens signs and verifies per-session capture tokens.
type CaptureTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCaptureTokens builds a token issuer sharing the operator HMAC secret.
func NewCaptureTokens(secret string, ttl time.Duration) *CaptureTokens {
	return &CaptureTokens{secret: []byte(strings.TrimSpace(secret)), ttl: ttl, now: time.Now}
}

// Issue signs a token whose subject is sessionID.
func (t *CaptureTokens) Issue(sessionID string) (string, time.Time, error) {
	if len(t.secret) == 0 {
		return "", time.Time{}, errors.New("missing JWT secret")
	}
	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		Audience:  jwt.ClaimStrings{CaptureAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify returns the session id of a valid, unexpired capture token.
func (t *CaptureTokens) Verify(tokenString string) (string, error) {
	if len(t.secret) == 0 {
		return "", errors.New("missing JWT secret")
	}
	claims, err := parseClaims(tokenString, t.secret,
		jwt.WithAudience(CaptureAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}
