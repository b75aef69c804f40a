package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	sharedauth "healthrecords-backend/internal/shared/auth"
	"healthrecords-backend/internal/shared/server/respond"
	"healthrecords-backend/internal/shared/telemetry"
	"healthrecords-backend/internal/users"
)

const defaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

var (
	errProfile  = errors.New("google profile unavailable")
	errExchange = errors.New("code exchange failed")
)

// TokenSigner issues session tokens for signed-in users.
type TokenSigner interface {
	Sign(claims sharedauth.Claims) (string, error)
}

// UserEnsurer registers the signed-in account in the user directory.
type UserEnsurer interface {
	EnsureUser(ctx context.Context, identity, displayName string) (users.User, error)
}

// GoogleOptions configures GoogleService.
type GoogleOptions struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// UIRedirect receives the session token as the "token" query parameter.
	UIRedirect string
	// Issuer must match the issuer the signer stamps so the directory entry
	// and later bearer tokens resolve to the same identity.
	Issuer string
	Signer TokenSigner
	Users  UserEnsurer
}

// GoogleService signs users in with Google. The callback registers the account
// in the user directory under "<issuer>|google:<sub>" and hands the UI a
// locally signed token for that identity.
type GoogleService struct {
	oauthConfig *oauth2.Config
	opts        GoogleOptions
	states      *stateStore
	stateTTL    time.Duration
	userInfoURL string
}

// NewGoogleService builds a GoogleService.
func NewGoogleService(opts GoogleOptions) *GoogleService {
	return &GoogleService{
		oauthConfig: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		opts:        opts,
		states:      newStateStore(),
		stateTTL:    5 * time.Minute,
		userInfoURL: defaultUserInfoURL,
	}
}

// RegisterRoutes attaches Google auth routes.
func (s *GoogleService) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/auth/google/start", s.start)
	rg.GET("/auth/google/callback", s.callback)
}

func (s *GoogleService) configured() bool {
	c := s.oauthConfig
	return c.ClientID != "" && c.ClientSecret != "" && c.RedirectURL != "" &&
		s.opts.Signer != nil && s.opts.Users != nil && s.opts.UIRedirect != ""
}

func (s *GoogleService) start(c *gin.Context) {
	if !s.configured() {
		respond.Error(c, http.StatusInternalServerError, "auth_not_configured", "Google auth not configured", nil)
		return
	}
	state := uuid.NewString()
	s.states.put(state, time.Now().Add(s.stateTTL))
	c.Redirect(http.StatusFound, s.oauthConfig.AuthCodeURL(state))
}

func (s *GoogleService) callback(c *gin.Context) {
	state, code := c.Query("state"), c.Query("code")
	if state == "" || code == "" {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "missing state or code", nil)
		return
	}
	if !s.states.consume(state) {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "invalid or expired state", nil)
		return
	}

	token, user, err := s.login(c.Request.Context(), code)
	switch {
	case errors.Is(err, errExchange):
		respond.Error(c, http.StatusBadRequest, "invalid_request", "failed to exchange code", nil)
		return
	case errors.Is(err, errProfile):
		respond.Error(c, http.StatusBadGateway, "auth_failed", "failed to fetch user profile", nil)
		return
	case err != nil:
		telemetry.Error("auth.google.login_failed", map[string]any{"error": err.Error()})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to complete sign-in", nil)
		return
	}

	telemetry.Info("auth.google.login", map[string]any{"user_id": user.ID})
	target, err := withToken(s.opts.UIRedirect, token)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to redirect", nil)
		return
	}
	c.Redirect(http.StatusFound, target)
}

// login exchanges code, ensures the directory entry and signs a session token.
func (s *GoogleService) login(ctx context.Context, code string) (string, users.User, error) {
	oauthToken, err := s.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return "", users.User{}, fmt.Errorf("%w: %v", errExchange, err)
	}
	profile, err := s.fetchProfile(ctx, oauthToken)
	if err != nil {
		return "", users.User{}, fmt.Errorf("%w: %v", errProfile, err)
	}

	claims := sharedauth.Claims{
		Email:   profile.Email,
		Name:    profile.Name,
		Picture: profile.Picture,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:  s.opts.Issuer,
			Subject: "google:" + profile.Sub,
		},
	}
	user, err := s.opts.Users.EnsureUser(ctx, claims.Identity(), profile.Name)
	if err != nil {
		return "", users.User{}, fmt.Errorf("ensure user: %w", err)
	}
	token, err := s.opts.Signer.Sign(claims)
	if err != nil {
		return "", users.User{}, fmt.Errorf("sign token: %w", err)
	}
	return token, user, nil
}

type googleProfile struct {
	Sub     string `json:"sub"`
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (s *GoogleService) fetchProfile(ctx context.Context, token *oauth2.Token) (googleProfile, error) {
	resp, err := s.oauthConfig.Client(ctx, token).Get(s.userInfoURL)
	if err != nil {
		return googleProfile{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return googleProfile{}, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	var p googleProfile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return googleProfile{}, err
	}
	// The v2 endpoint reports the subject as "id".
	if p.Sub == "" {
		p.Sub = p.ID
	}
	if strings.TrimSpace(p.Sub) == "" {
		return googleProfile{}, errors.New("profile without subject")
	}
	return p, nil
}

// stateStore holds single-use OAuth state values until they expire.
type stateStore struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func newStateStore() *stateStore {
	return &stateStore{items: make(map[string]time.Time)}
}

func (s *stateStore) put(state string, exp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, e := range s.items {
		if now.After(e) {
			delete(s.items, k)
		}
	}
	s.items[state] = exp
}

func (s *stateStore) consume(state string) bool {
	s.mu.Lock()
	exp, ok := s.items[state]
	delete(s.items, state)
	s.mu.Unlock()
	return ok && !time.Now().After(exp)
}

func withToken(rawURL, token string) (string, error) {
	if rawURL == "" {
		return "", errors.New("redirect url required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
