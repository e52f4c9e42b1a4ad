package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/duetapp/duet-backend/internal/kvstore"
	"github.com/duetapp/duet-backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func newTestIssuer(now *time.Time) *Issuer {
	return NewIssuer(kvstore.NewMemoryStore(), testSecret, 15*time.Minute, 24*time.Hour,
		WithClock(func() time.Time { return *now }))
}

func TestAccessTokenClaims(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(&now)

	signed, err := issuer.AccessToken(models.UserRecord{ID: "u1", Email: "a@b.com"})
	if err != nil {
		t.Fatalf("access token: %v", err)
	}

	parsed, err := jwt.Parse(signed, func(tok *jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil || !parsed.Valid {
		t.Fatalf("parse: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["sub"] != "u1" || claims["email"] != "a@b.com" {
		t.Fatalf("unexpected claims: %v", claims)
	}
}

func TestRefreshSingleUse(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(&now)

	raw, err := issuer.IssueRefresh(ctx, "u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	userID, err := issuer.Redeem(ctx, raw)
	if err != nil || userID != "u1" {
		t.Fatalf("redeem: got %q, %v", userID, err)
	}

	if _, err := issuer.Redeem(ctx, raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on second redeem, got %v", err)
	}
}

func TestRedeemExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(&now)

	raw, err := issuer.IssueRefresh(ctx, "u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	now = now.Add(24*time.Hour + time.Second)
	if _, err := issuer.Redeem(ctx, raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(&now)

	// Revoking an unknown token is a no-op so logout is idempotent.
	if err := issuer.Revoke(ctx, "never-issued"); err != nil {
		t.Fatalf("revoke unknown: %v", err)
	}

	raw, err := issuer.IssueRefresh(ctx, "u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := issuer.Revoke(ctx, raw); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := issuer.Redeem(ctx, raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after revoke, got %v", err)
	}
}
