package session

import (
	"context"
	"errors"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func newTestManager(t *testing.T) AccessTokenManager {
	t.Helper()

	secret := paseto.NewV4AsymmetricSecretKey()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = secret.ExportHex()

	mgr, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	return mgr
}

func TestPasetoV4_IssueAndVerify(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)

	now := time.Now().UTC()
	tok, exp, err := mgr.Issue(42, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected exp after now")
	}

	claims, err := mgr.Verify(tok, now.Add(1*time.Second))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != 42 {
		t.Fatalf("UserID=%d want=42", claims.UserID)
	}
	if !claims.ExpiresAt.After(now) {
		t.Fatalf("ExpiresAt=%v not in the future", claims.ExpiresAt)
	}
}

func TestPasetoV4_ExpiredIsDistinctFromMalformed(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)

	now := time.Now().UTC()
	tok, _, err := mgr.Issue(7, now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := mgr.Verify(tok, now)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Verify expired: err=%v want ErrTokenExpired", err)
	}
	if claims.UserID != 7 {
		t.Fatalf("expired verify should still resolve claims, got uid=%d", claims.UserID)
	}

	if _, err := mgr.Verify("not-a-valid-token", now); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("Verify garbage: err=%v want ErrMalformedToken", err)
	}
}

func TestPasetoV4_RejectsForeignIssuer(t *testing.T) {
	t.Parallel()

	secret := paseto.NewV4AsymmetricSecretKey()
	cfg := DefaultConfig()
	cfg.Issuer = "someone-else"
	cfg.PasetoV4SecretKeyHex = secret.ExportHex()
	other, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}

	now := time.Now().UTC()
	tok, _, err := other.Issue(9, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cfg.Issuer = "fitlink"
	mgr, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}

	if _, err := mgr.Verify(tok, now); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("Verify foreign issuer: err=%v want ErrMalformedToken", err)
	}
}

func TestInMemoryAuthzStore(t *testing.T) {
	t.Parallel()

	st := NewInMemoryAuthzStore()
	ctx := context.Background()

	ok, err := st.Authorized(ctx, 1)
	if err != nil || ok {
		t.Fatalf("absent user: ok=%v err=%v, want false nil", ok, err)
	}

	st.SetAuthorized(1, true)
	if ok, _ := st.Authorized(ctx, 1); !ok {
		t.Fatalf("authorized user reported false")
	}

	st.SetAuthorized(1, false)
	if ok, _ := st.Authorized(ctx, 1); ok {
		t.Fatalf("revoked user reported true")
	}
}
