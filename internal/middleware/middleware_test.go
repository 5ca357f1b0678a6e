package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"upgrade-service/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubVerifier map[string]*jwt.Claims

func (s stubVerifier) VerifyAccessToken(token string) (*jwt.Claims, error) {
	if c, ok := s[token]; ok {
		return c, nil
	}
	return nil, errors.New("unknown token")
}

func newAuth() *AuthMiddleware {
	return NewAuthMiddleware(stubVerifier{
		"customer": {IdentityID: 7, Roles: []string{jwt.RoleCustomer}},
		"system":   {IdentityID: 1, Roles: []string{jwt.RoleSystem}},
	})
}

func serve(r *gin.Engine, path, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuth()

	r := gin.New()
	r.GET("/me", auth.Auth(), func(c *gin.Context) {
		id, _ := GetIdentityID(c)
		c.JSON(http.StatusOK, gin.H{"id": id})
	})
	r.GET("/internal", append(auth.SystemOnly(), func(c *gin.Context) { c.Status(http.StatusNoContent) })...)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing token", "/me", "", http.StatusUnauthorized},
		{"not bearer", "/me", "Basic customer", http.StatusUnauthorized},
		{"unknown token", "/me", "Bearer forged", http.StatusUnauthorized},
		{"valid", "/me", "bearer customer", http.StatusOK},
		{"customer on internal", "/internal", "Bearer customer", http.StatusForbidden},
		{"system on internal", "/internal", "Bearer system", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, serve(r, tt.path, tt.header).Code)
		})
	}

	assert.JSONEq(t, `{"id":7}`, serve(r, "/me", "Bearer customer").Body.String())
}

func TestOptionalAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/", newAuth().OptionalAuth(), func(c *gin.Context) {
		_, ok := GetIdentityID(c)
		c.JSON(http.StatusOK, gin.H{"authenticated": ok})
	})

	assert.JSONEq(t, `{"authenticated":false}`, serve(r, "/", "").Body.String())
	assert.JSONEq(t, `{"authenticated":false}`, serve(r, "/", "Bearer forged").Body.String())
	assert.JSONEq(t, `{"authenticated":true}`, serve(r, "/", "Bearer customer").Body.String())
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.ErrorLevel)

	r := gin.New()
	r.Use(RecoveryMiddleware(zap.New(core)))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := serve(r, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	assert.Equal(t, "/boom", logs.All()[0].ContextMap()["path"])
}
