package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const devSecret = "dev-secret"

var (
	errMissingSecret = errors.New("jwt secret not configured")
	ErrInvalidToken  = errors.New("invalid token")
)

// Claims represents the identity contained in a JWT.
type Claims struct {
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the stable external identity of the token subject: issuer and
// subject joined by "|", so equal subjects from different issuers never collide.
func (c Claims) Identity() string {
	if c.Subject == "" {
		return ""
	}
	return c.Issuer + "|" + c.Subject
}

// Options configures token signing and verification.
type Options struct {
	Secret  string
	Issuer  string
	JWKSURL string
	TTL     time.Duration
	Env     string
}

// Service signs locally issued HS256 tokens and verifies both those and
// RS256/ES256 tokens from an external identity provider published as a JWKS.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	jwks   keyfunc.Keyfunc
	parser *jwt.Parser
	now    func() time.Time
}

// NewService builds a Service. A JWKS URL enables external token verification;
// the key set is fetched and refreshed in the background until ctx ends.
func NewService(ctx context.Context, opts Options) (*Service, error) {
	secret := strings.TrimSpace(opts.Secret)
	if secret == "" {
		env := strings.ToLower(strings.TrimSpace(opts.Env))
		if env == "production" || env == "prod" {
			if strings.TrimSpace(opts.JWKSURL) == "" {
				return nil, fmt.Errorf("%w: JWT_SECRET required in production", errMissingSecret)
			}
		} else {
			secret = devSecret
		}
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &Service{
		secret: []byte(secret),
		issuer: opts.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}
	if url := strings.TrimSpace(opts.JWKSURL); url != "" {
		k, err := keyfunc.NewDefaultCtx(ctx, []string{url})
		if err != nil {
			return nil, fmt.Errorf("jwks %s: %w", url, err)
		}
		s.jwks = k
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "RS256", "ES256"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	return s, nil
}

// Sign issues an HS256 token for the given claims.
func (s *Service) Sign(claims Claims) (string, error) {
	if len(s.secret) == 0 {
		return "", errMissingSecret
	}
	if claims.Subject == "" {
		return "", errors.New("sub is required")
	}
	now := s.now().UTC()
	if claims.Issuer == "" {
		claims.Issuer = s.issuer
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses a token and returns its claims.
func (s *Service) Verify(token string) (Claims, error) {
	var claims Claims
	parsed, err := s.parser.ParseWithClaims(token, &claims, s.keyFor)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) keyFor(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); ok {
		if len(s.secret) == 0 {
			return nil, errMissingSecret
		}
		return s.secret, nil
	}
	if s.jwks == nil {
		return nil, fmt.Errorf("no key set for alg %s", t.Method.Alg())
	}
	return s.jwks.Keyfunc(t)
}
