package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/bkimport/internal/pkg/jwt"
)

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	secret := []byte("test-secret")
	engine := gin.New()
	engine.GET("/me", JWTAuth(secret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextUserIDKey))
	})

	token, err := jwt.GenerateToken("user-1", secret, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	engine.ServeHTTP(resp, req)
	require.Equal(t, "user-1", resp.Body.String())

	for _, header := range []string{"", "Basic abc", "Bearer not-a-token"} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp := httptest.NewRecorder()
		engine.ServeHTTP(resp, req)
		require.NotEqual(t, "user-1", resp.Body.String(), header)
		require.Contains(t, resp.Body.String(), "code")
	}
}

func TestJWTAuthRejectsForeignSubject(t *testing.T) {
	gin.SetMode(gin.TestMode)
	secret := []byte("test-secret")
	engine := gin.New()
	engine.GET("/me", JWTAuth(secret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextUserIDKey))
	})

	for _, subject := range []string{"", "user-2"} {
		token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwt.Claims{
			UserID: "user-1",
			RegisteredClaims: jwtlib.RegisteredClaims{
				Issuer:    "bkimport",
				Subject:   subject,
				ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		signed, err := token.SignedString(secret)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		resp := httptest.NewRecorder()
		engine.ServeHTTP(resp, req)
		require.NotEqual(t, "user-1", resp.Body.String(), subject)
		require.Contains(t, resp.Body.String(), "token subject mismatch", subject)
	}
}
