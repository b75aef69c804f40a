package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"healthrecords-backend/internal/shared/auth"
	"healthrecords-backend/internal/shared/server/middleware"
	"healthrecords-backend/internal/shared/storage/object"
	"healthrecords-backend/internal/shared/storage/object/local"
	"healthrecords-backend/internal/users"
)

type stubVerifier map[string]auth.Claims

func (s stubVerifier) Verify(token string) (auth.Claims, error) {
	claims, ok := s[token]
	if !ok {
		return auth.Claims{}, errors.New("bad token")
	}
	return claims, nil
}

func newRouter(t *testing.T) (*gin.Engine, *users.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := local.New(local.Options{
		BaseDir:    t.TempDir(),
		BaseURL:    "http://api.test",
		SigningKey: "k",
		UploadTTL:  10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	userSvc := users.NewService(users.NewMemoryRepo())

	var ada auth.Claims
	ada.Issuer, ada.Subject = "test", "ada"
	var eve auth.Claims
	eve.Issuer, eve.Subject = "test", "eve"

	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(middleware.Auth(stubVerifier{"ada": ada, "eve": eve}))
	NewHandler(store, userSvc).RegisterRoutes(api)
	return r, userSvc
}

func TestGenerateUploadURL(t *testing.T) {
	router, userSvc := newRouter(t)
	user, err := userSvc.EnsureUser(context.Background(), "test|ada", "Ada")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/url", nil)
	req.Header.Set("Authorization", "Bearer ada")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body uploadURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UploadURL == "" || body.Method != http.MethodPut {
		t.Fatalf("unexpected response %+v", body)
	}
	if !object.OwnedBy(body.StorageID, user.ID) {
		t.Fatalf("storage id %q is not in the caller's namespace", body.StorageID)
	}
	if body.ExpiresInSeconds <= 0 || body.ExpiresInSeconds > 600 {
		t.Fatalf("unexpected expiry %d", body.ExpiresInSeconds)
	}
}

func TestGenerateUploadURLRequiresKnownUser(t *testing.T) {
	router, _ := newRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/url", nil)
	req.Header.Set("Authorization", "Bearer eve")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}
