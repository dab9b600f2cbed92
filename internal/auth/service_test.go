package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestAuthService(t *testing.T) *Service {
	t.Helper()

	jwtConfig := &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}
	return NewService(jwtConfig)
}

func TestValidateToken_RoundTrip(t *testing.T) {
	svc := newTestAuthService(t)

	token, err := GenerateToken(svc.jwtConfig, "u-42")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "u-42" {
		t.Fatalf("expected user u-42, got %q", claims.UserID)
	}
}

func TestValidateToken_RejectsWrongSecret(t *testing.T) {
	svc := newTestAuthService(t)

	token, err := GenerateToken(&JWTConfig{Secret: []byte("other"), Issuer: "test", Audience: "test"}, "u-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("expected error for token signed with another secret")
	}
}

func TestValidateToken_RejectsWrongAudience(t *testing.T) {
	svc := newTestAuthService(t)

	token, err := GenerateToken(&JWTConfig{Secret: svc.jwtConfig.Secret, Issuer: "test", Audience: "else"}, "u-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("expected audience error")
	}
}

func TestValidateToken_RejectsExpired(t *testing.T) {
	svc := newTestAuthService(t)

	cfg := *svc.jwtConfig
	cfg.TTL = time.Nanosecond
	token, err := GenerateToken(&cfg, "u-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestCheckUser(t *testing.T) {
	svc := newTestAuthService(t)
	token, err := GenerateToken(svc.jwtConfig, "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if err := svc.CheckUser(token, "alice"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := svc.CheckUser(token, "bob"); !errors.Is(err, ErrUserMismatch) {
		t.Fatalf("expected ErrUserMismatch, got %v", err)
	}
	if err := svc.CheckUser("", "bob"); err != nil {
		t.Fatalf("absent token should pass, got %v", err)
	}
	if err := svc.CheckUser("garbage", "alice"); err == nil {
		t.Fatal("expected malformed token to fail")
	}
}

func TestDisabledServiceAcceptsAll(t *testing.T) {
	var svc *Service
	if svc.Enabled() {
		t.Fatal("nil service must be disabled")
	}
	if err := svc.CheckUser("anything", "alice"); err != nil {
		t.Fatalf("disabled service rejected: %v", err)
	}
}
