package app

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	upgradeHandler "upgrade-service/internal/handlers/upgrade"
	"upgrade-service/internal/middleware"
	"upgrade-service/internal/pkg/jwt"
	"upgrade-service/internal/service/upgrade/upgradetest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type stubVerifier map[string]*jwt.Claims

func (s stubVerifier) VerifyAccessToken(token string) (*jwt.Claims, error) {
	if c, ok := s[token]; ok {
		return c, nil
	}
	return nil, errors.New("unknown token")
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := upgradetest.New(t)
	h.ShortToPremium()

	r := gin.New()
	SetupRouter(r, &Handlers{
		UpgradeHandler: upgradeHandler.NewUpgradeHandler(h.Service, zaptest.NewLogger(t)),
		AuthMiddleware: middleware.NewAuthMiddleware(stubVerifier{
			"customer": {IdentityID: upgradetest.UserID, Roles: []string{jwt.RoleCustomer}},
			"system":   {IdentityID: 99, Roles: []string{jwt.RoleSystem}},
		}),
		Metrics: h.Metrics.Handler(),
	})
	return r
}

func serve(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{"from":"pending","to":"failed"}`))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSetupRouter(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"candidates", http.MethodGet, "/api/v1/upgrades", "customer", http.StatusOK},
		{"candidates anonymous", http.MethodGet, "/api/v1/upgrades", "", http.StatusUnauthorized},
		{"internal without token", http.MethodPost, "/api/v1/internal/payments/1/status", "", http.StatusUnauthorized},
		{"internal as customer", http.MethodPost, "/api/v1/internal/payments/1/status", "customer", http.StatusForbidden},
		{"internal as system", http.MethodPost, "/api/v1/internal/payments/1/status", "system", http.StatusOK},
		{"renewed as customer", http.MethodPost, "/api/v1/internal/subscriptions/1/renewed", "customer", http.StatusForbidden},
		{"finalize as customer", http.MethodPost, "/api/v1/internal/trials/1/finalize", "customer", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, serve(r, tt.method, tt.path, tt.token).Code)
		})
	}
}
