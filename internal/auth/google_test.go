package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	sharedauth "healthrecords-backend/internal/shared/auth"
	"healthrecords-backend/internal/users"
)

type recordingSigner struct {
	claims sharedauth.Claims
}

func (r *recordingSigner) Sign(claims sharedauth.Claims) (string, error) {
	r.claims = claims
	return "signed-token", nil
}

type failingUsers struct{}

func (failingUsers) EnsureUser(context.Context, string, string) (users.User, error) {
	return users.User{}, errors.New("directory unavailable")
}

func newProvider(t *testing.T) *httptest.Server {
	t.Helper()
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600}`))
		case "/userinfo":
			_, _ = w.Write([]byte(`{"id":"12345","email":"ada@example.com","name":"Ada"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(provider.Close)
	return provider
}

func newTestService(provider *httptest.Server, signer TokenSigner, dir UserEnsurer) *GoogleService {
	s := NewGoogleService(GoogleOptions{
		ClientID:     "id",
		ClientSecret: "secret",
		RedirectURL:  "http://api/cb",
		UIRedirect:   "http://ui/callback",
		Issuer:       "healthrecords",
		Signer:       signer,
		Users:        dir,
	})
	if provider != nil {
		s.oauthConfig.Endpoint = oauth2.Endpoint{AuthURL: provider.URL + "/auth", TokenURL: provider.URL + "/token"}
		s.userInfoURL = provider.URL + "/userinfo"
	}
	return s
}

func newGoogleRouter(s *GoogleService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	s.RegisterRoutes(r.Group("/api/v1"))
	return r
}

func startLogin(t *testing.T, router http.Handler) string {
	t.Helper()
	start := httptest.NewRecorder()
	router.ServeHTTP(start, httptest.NewRequest(http.MethodGet, "/api/v1/auth/google/start", nil))
	if start.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", start.Code)
	}
	loc, err := url.Parse(start.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatalf("missing state in %s", loc)
	}
	return state
}

func TestStartRequiresConfiguration(t *testing.T) {
	tests := []struct {
		name string
		opts GoogleOptions
	}{
		{"no client", GoogleOptions{UIRedirect: "http://ui/callback", Signer: &recordingSigner{}, Users: failingUsers{}}},
		{"no user directory", GoogleOptions{ClientID: "id", ClientSecret: "s", RedirectURL: "http://api/cb", UIRedirect: "http://ui/callback", Signer: &recordingSigner{}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			newGoogleRouter(NewGoogleService(tt.opts)).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/auth/google/start", nil))
			if resp.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", resp.Code)
			}
		})
	}
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	s := newTestService(nil, &recordingSigner{}, users.NewService(users.NewMemoryRepo()))
	resp := httptest.NewRecorder()
	newGoogleRouter(s).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/auth/google/callback?state=nope&code=c", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestLoginRegistersUserAndIssuesToken(t *testing.T) {
	provider := newProvider(t)
	signer := &recordingSigner{}
	dir := users.NewService(users.NewMemoryRepo())
	router := newGoogleRouter(newTestService(provider, signer, dir))

	state := startLogin(t, router)
	cb := httptest.NewRecorder()
	router.ServeHTTP(cb, httptest.NewRequest(http.MethodGet, "/api/v1/auth/google/callback?state="+state+"&code=abc", nil))
	if cb.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d: %s", cb.Code, cb.Body.String())
	}
	if got := cb.Header().Get("Location"); !strings.HasPrefix(got, "http://ui/callback?") || !strings.Contains(got, "token=signed-token") {
		t.Fatalf("unexpected redirect %q", got)
	}
	if signer.claims.Subject != "google:12345" || signer.claims.Issuer != "healthrecords" {
		t.Fatalf("unexpected claims %+v", signer.claims)
	}

	u, err := dir.Resolve(context.Background(), "healthrecords|google:12345")
	if err != nil {
		t.Fatalf("expected the signed-in user to be registered: %v", err)
	}
	if u.DisplayName != "Ada" {
		t.Fatalf("expected display name from profile, got %q", u.DisplayName)
	}

	replay := httptest.NewRecorder()
	router.ServeHTTP(replay, httptest.NewRequest(http.MethodGet, "/api/v1/auth/google/callback?state="+state+"&code=abc", nil))
	if replay.Code != http.StatusBadRequest {
		t.Fatalf("state must be single use, got %d", replay.Code)
	}
}

func TestLoginFailsWhenDirectoryUnavailable(t *testing.T) {
	provider := newProvider(t)
	signer := &recordingSigner{}
	router := newGoogleRouter(newTestService(provider, signer, failingUsers{}))

	state := startLogin(t, router)
	cb := httptest.NewRecorder()
	router.ServeHTTP(cb, httptest.NewRequest(http.MethodGet, "/api/v1/auth/google/callback?state="+state+"&code=abc", nil))
	if cb.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", cb.Code)
	}
	if signer.claims.Subject != "" {
		t.Fatalf("no token may be issued without a directory entry")
	}
}

func TestStateStoreExpiry(t *testing.T) {
	s := newStateStore()
	s.put("old", time.Now().Add(-time.Second))
	if s.consume("old") {
		t.Fatalf("expired state accepted")
	}
	s.put("fresh", time.Now().Add(time.Minute))
	if !s.consume("fresh") || s.consume("fresh") {
		t.Fatalf("fresh state must be accepted exactly once")
	}
}
