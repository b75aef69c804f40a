package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), Options{Secret: "test-secret", Issuer: "healthrecords", Env: "dev"})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestSignAndVerify(t *testing.T) {
	svc := newTestService(t)
	token, err := svc.Sign(Claims{
		Name:             "Ada",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "google:123"},
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Identity() != "healthrecords|google:123" {
		t.Fatalf("unexpected identity %q", claims.Identity())
	}
	if claims.Name != "Ada" {
		t.Fatalf("unexpected name %q", claims.Name)
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	svc := newTestService(t)
	expired, err := svc.Sign(Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	other, err := NewService(context.Background(), Options{Secret: "other-secret", Env: "dev"})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	foreign, err := other.Sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Verify(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
	if _, err := svc.Verify("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage")
	}
}

func TestSignRequiresSubject(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Sign(Claims{}); err == nil {
		t.Fatalf("expected error for missing subject")
	}
}

func TestProductionRequiresSecretOrJWKS(t *testing.T) {
	if _, err := NewService(context.Background(), Options{Env: "production"}); !errors.Is(err, errMissingSecret) {
		t.Fatalf("expected errMissingSecret, got %v", err)
	}
}

func TestIdentityEmptyWithoutSubject(t *testing.T) {
	if (Claims{}).Identity() != "" {
		t.Fatalf("expected empty identity")
	}
}
