package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func operatorToken(t *testing.T, subject string, audience ...string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  audience,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newRouter(middleware gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/sessions/:id", middleware, func(c *gin.Context) {
		user, _ := GetUserID(c.Request.Context())
		captured, _ := GetCaptureSession(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user": user, "capture": captured})
	})
	return router
}

func serve(router *gin.Engine, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestJWTMiddlewareAcceptsOperator(t *testing.T) {
	router := newRouter(JWTMiddleware(testSecret, ""))

	resp := serve(router, "/sessions/S1", operatorToken(t, "operator-7"))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"user":"operator-7"`)
}

func TestJWTMiddlewareRejections(t *testing.T) {
	tokens := NewCaptureTokens(testSecret, time.Minute)
	captureToken, _, err := tokens.Issue("S1")
	require.NoError(t, err)

	otherSecret, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"}).SignedString([]byte("other"))
	require.NoError(t, err)

	tests := map[string]struct {
		audience string
		token    string
	}{
		"missing token":   {token: ""},
		"capture token":   {token: captureToken},
		"wrong secret":    {token: otherSecret},
		"wrong audience":  {audience: "ops", token: operatorToken(t, "operator-7", "billing")},
		"missing subject": {token: operatorToken(t, "")},
		"malformed token": {token: "not-a-jwt"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			router := newRouter(JWTMiddleware(testSecret, tc.audience))
			resp := serve(router, "/sessions/S1", tc.token)
			assert.Equal(t, http.StatusUnauthorized, resp.Code)
		})
	}
}

func TestCaptureMiddlewareBindsTokenToSession(t *testing.T) {
	tokens := NewCaptureTokens(testSecret, time.Minute)
	token, expiresAt, err := tokens.Issue("S1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)

	router := newRouter(CaptureMiddleware(tokens))

	resp := serve(router, "/sessions/S1", token)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"capture":"S1"`)

	resp = serve(router, "/sessions/S2", token)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = serve(router, "/sessions/S1", operatorToken(t, "operator-7"))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = serve(router, "/sessions/S1", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestCaptureTokenExpires(t *testing.T) {
	tokens := NewCaptureTokens(testSecret, time.Minute)
	issuedAt := time.Now()
	tokens.now = func() time.Time { return issuedAt }
	token, _, err := tokens.Issue("S1")
	require.NoError(t, err)

	tokens.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestCaptureTokensRequireSecret(t *testing.T) {
	_, _, err := NewCaptureTokens("  ", time.Minute).Issue("S1")
	assert.Error(t, err)
}

func TestSessionAccessAcceptsEitherToken(t *testing.T) {
	tokens := NewCaptureTokens(testSecret, time.Minute)
	captureToken, _, err := tokens.Issue("S1")
	require.NoError(t, err)
	router := newRouter(SessionAccess(tokens, JWTMiddleware(testSecret, "")))

	resp := serve(router, "/sessions/S1", captureToken)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"capture":"S1"`)

	resp = serve(router, "/sessions/S1", operatorToken(t, "operator-7"))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"user":"operator-7"`)

	resp = serve(router, "/sessions/S2", captureToken)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestTokenFromQueryParameter(t *testing.T) {
	tokens := NewCaptureTokens(testSecret, time.Minute)
	captureToken, _, err := tokens.Issue("S1")
	require.NoError(t, err)
	router := newRouter(SessionAccess(tokens, JWTMiddleware(testSecret, "")))

	resp := serve(router, "/sessions/S1?access_token="+captureToken, "")
	assert.Equal(t, http.StatusOK, resp.Code)
}
