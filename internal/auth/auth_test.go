package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/escrowhouse/auction-engine/configs"
	"github.com/escrowhouse/auction-engine/pkg/errors"
	json "github.com/goccy/go-json"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()

	cfg := &configs.Config{}
	cfg.Auth.SecretKey = "test-secret"

	v, err := NewValidator(cfg)
	if err != nil {
		t.Fatalf("newValidator: %v", err)
	}
	return v
}

// sessionCookie builds an Auth.js style session token: claims encrypted
// as a JWE with the key derived from the shared secret.
func sessionCookie(t *testing.T, v *Validator, claims map[string]any) *http.Cookie {
	t.Helper()

	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	key, err := v.encryptionKey()
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	encrypted, err := jwe.Encrypt(payload,
		jwe.WithKey(jwa.DIRECT(), key),
		jwe.WithContentEncryption(jwa.A256CBC_HS512()))
	if err != nil {
		t.Fatalf("encrypt session: %v", err)
	}
	return &http.Cookie{Name: v.cookieName, Value: string(encrypted)}
}

func TestNewValidatorRequiresSecret(t *testing.T) {
	_, err := NewValidator(&configs.Config{})
	if err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestPrincipalFromRequest(t *testing.T) {
	v := newTestValidator(t)

	req := httptest.NewRequest(http.MethodGet, "/ws/auction", nil)
	req.AddCookie(sessionCookie(t, v, map[string]any{
		"sub":   "user1",
		"email": "user1@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}))

	principal, err := v.PrincipalFromRequest(req)
	if err != nil {
		t.Fatalf("principalFromRequest: %v", err)
	}
	if principal.ID != "user1" || principal.Email != "user1@example.com" {
		t.Fatalf("unexpected principal: %+v", principal)
	}
}

func TestPrincipalFromRequestMissingCookie(t *testing.T) {
	v := newTestValidator(t)

	req := httptest.NewRequest(http.MethodGet, "/ws/auction", nil)
	_, err := v.PrincipalFromRequest(req)
	if !errors.Is(err, errors.ErrInvalidToken) {
		t.Fatalf("expected invalid-token error, got %v", err)
	}
}

func TestPrincipalFromRequestExpiredSession(t *testing.T) {
	v := newTestValidator(t)

	req := httptest.NewRequest(http.MethodGet, "/ws/auction", nil)
	req.AddCookie(sessionCookie(t, v, map[string]any{
		"sub":   "user1",
		"email": "user1@example.com",
		"exp":   time.Now().Add(-time.Hour).Unix(),
	}))

	if _, err := v.PrincipalFromRequest(req); err == nil {
		t.Fatal("expected expired session to be rejected")
	}
}

func TestPrincipalFromRequestWrongSecret(t *testing.T) {
	v := newTestValidator(t)
	otherCfg := &configs.Config{}
	otherCfg.Auth.SecretKey = "other-secret"
	other, err := NewValidator(otherCfg)
	if err != nil {
		t.Fatalf("newValidator: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/ws/auction", nil)
	req.AddCookie(sessionCookie(t, other, map[string]any{
		"sub":   "user1",
		"email": "user1@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}))

	if _, err := v.PrincipalFromRequest(req); err == nil {
		t.Fatal("expected session sealed with another secret to be rejected")
	}
}

func TestPrincipalFromRequestMissingSubject(t *testing.T) {
	v := newTestValidator(t)

	req := httptest.NewRequest(http.MethodGet, "/ws/auction", nil)
	req.AddCookie(sessionCookie(t, v, map[string]any{
		"email": "user1@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}))

	if _, err := v.PrincipalFromRequest(req); err == nil {
		t.Fatal("expected token without subject to be rejected")
	}
}
