// Package token issues JWT access tokens and single-use opaque refresh
// tokens. Refresh tokens are stored as sha256 hashes in the auth.refresh_tokens
// table; a raw token is shown to the client exactly once.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/duetapp/duet-backend/internal/kvstore"
	"github.com/duetapp/duet-backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const refreshKey = "auth.refresh_tokens"

var ErrInvalidToken = errors.New("invalid or expired refresh token")

type refreshRecord struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// Issuer mints access tokens and manages the refresh-token table.
type Issuer struct {
	storage    kvstore.Store
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	mu sync.Mutex
}

type Option func(*Issuer)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(storage kvstore.Store, secret string, accessTTL, refreshTTL time.Duration, opts ...Option) *Issuer {
	i := &Issuer{
		storage:    storage,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// AccessToken returns a signed HS256 JWT for the user.
func (i *Issuer) AccessToken(user models.UserRecord) (string, error) {
	nowTS := i.now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"iat":   nowTS.Unix(),
		"exp":   nowTS.Add(i.accessTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// IssueRefresh creates and stores a new refresh token for userID, returning
// the raw token.
func (i *Issuer) IssueRefresh(ctx context.Context, userID string) (string, error) {
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	raw := base64.URLEncoding.EncodeToString(rawBytes)

	i.mu.Lock()
	defer i.mu.Unlock()

	table, err := i.load(ctx)
	if err != nil {
		return "", err
	}
	nowTS := i.now().UTC()
	table[hashToken(raw)] = refreshRecord{
		UserID:    userID,
		ExpiresAt: nowTS.Add(i.refreshTTL),
		CreatedAt: nowTS,
	}
	if err := i.save(ctx, table); err != nil {
		return "", err
	}
	return raw, nil
}

// Redeem consumes a raw refresh token and returns the user id it belongs to.
// Tokens are single use: a redeemed token is revoked before the caller sees
// the user id, and expired tokens are revoked on sight.
func (i *Issuer) Redeem(ctx context.Context, raw string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	table, err := i.load(ctx)
	if err != nil {
		return "", err
	}

	hash := hashToken(raw)
	record, ok := table[hash]
	if !ok || record.Revoked {
		return "", ErrInvalidToken
	}

	record.Revoked = true
	table[hash] = record
	if err := i.save(ctx, table); err != nil {
		return "", err
	}

	if i.now().After(record.ExpiresAt) {
		return "", ErrInvalidToken
	}
	return record.UserID, nil
}

// Revoke marks the raw token revoked. Unknown tokens are a no-op so logout
// is idempotent.
func (i *Issuer) Revoke(ctx context.Context, raw string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	table, err := i.load(ctx)
	if err != nil {
		return err
	}

	hash := hashToken(raw)
	record, ok := table[hash]
	if !ok {
		return nil
	}
	record.Revoked = true
	table[hash] = record
	return i.save(ctx, table)
}

func (i *Issuer) load(ctx context.Context) (map[string]refreshRecord, error) {
	raw, ok, err := i.storage.Get(ctx, refreshKey)
	if err != nil {
		return nil, err
	}
	table := make(map[string]refreshRecord)
	if !ok {
		return table, nil
	}
	if err := json.Unmarshal([]byte(raw), &table); err != nil {
		return nil, fmt.Errorf("decode refresh table: %w", err)
	}
	return table, nil
}

func (i *Issuer) save(ctx context.Context, table map[string]refreshRecord) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("encode refresh table: %w", err)
	}
	return i.storage.Set(ctx, refreshKey, string(raw))
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h)
}
