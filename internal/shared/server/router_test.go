package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"healthrecords-backend/internal/shared/auth"
	"healthrecords-backend/internal/shared/config"
	"healthrecords-backend/internal/users"
)

type stubVerifier map[string]auth.Claims

func (s stubVerifier) Verify(token string) (auth.Claims, error) {
	claims, ok := s[token]
	if !ok {
		return auth.Claims{}, errors.New("invalid")
	}
	return claims, nil
}

func testConfig() config.Config {
	return config.Config{
		Env:              "dev",
		RateLimitDefault: config.RateLimit{Rate: 100, Burst: 100},
		RateLimitPolling: config.RateLimit{Rate: 100, Burst: 100},
		RateLimitUpload:  config.RateLimit{Rate: 100, Burst: 100},
	}
}

func TestRouterPublicAndProtectedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := stubVerifier{"ada": {RegisteredClaims: jwt.RegisteredClaims{Issuer: "test", Subject: "ada"}}}
	r := NewRouter(RouterDeps{
		Config:   testConfig(),
		Verifier: verifier,
		Users:    users.NewHandler(users.NewService(users.NewMemoryRepo())),
	})

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"health is public", http.MethodGet, "/api/v1/health", "", http.StatusOK},
		{"metrics is public", http.MethodGet, "/metrics", "", http.StatusOK},
		{"me requires token", http.MethodGet, "/api/v1/me", "", http.StatusUnauthorized},
		{"ensure with token", http.MethodPost, "/api/v1/users/ensure", "ada", http.StatusOK},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, req)
			if resp.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, resp.Code, resp.Body.String())
			}
			if resp.Header().Get("X-Request-Id") == "" {
				t.Fatalf("expected request id header")
			}
		})
	}
}

func TestAddr(t *testing.T) {
	tests := map[string]string{"": ":8080", "9000": ":9000", ":7000": ":7000"}
	for in, want := range tests {
		if got := Addr(in); got != want {
			t.Fatalf("Addr(%q) = %q, want %q", in, got, want)
		}
	}
}
