// Package otp implements the one-time-code lifecycle: issue a 6-digit code
// with a 5-minute TTL, then verify it exactly once. The pending table lives
// as one JSON document under the auth.otps storage key. Expiry is evaluated
// lazily at verification time; there is no background sweep on the hot path.
package otp

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/duetapp/duet-backend/internal/kvstore"
	"github.com/duetapp/duet-backend/internal/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	pendingKey = "auth.otps"

	// TTL is the code lifetime from issuance.
	TTL = 5 * time.Minute
)

var (
	ErrNotFound = errors.New("no pending code for identifier")
	ErrExpired  = errors.New("code expired")
	ErrMismatch = errors.New("code does not match")
)

// Issued is the result of issuing a code. The plaintext code exists only
// here; storage keeps a bcrypt hash.
type Issued struct {
	Code      string
	ExpiresAt time.Time
}

// Service issues and verifies one-time codes. Verification holds a
// per-identifier lock across the read-check-delete cycle so two concurrent
// verify calls cannot both consume the same code.
type Service struct {
	storage  kvstore.Store
	now      func() time.Time
	generate func() (string, error)
	cost     int

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// tableMu serializes read-modify-write cycles of the shared pending
	// document across identifiers.
	tableMu sync.Mutex
}

type Option func(*Service)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithGenerator overrides code generation, for deterministic tests.
func WithGenerator(generate func() (string, error)) Option {
	return func(s *Service) { s.generate = generate }
}

// WithBcryptCost overrides the hash cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func New(storage kvstore.Store, opts ...Option) *Service {
	s := &Service{
		storage:  storage,
		now:      time.Now,
		generate: GenerateCode,
		cost:     bcrypt.DefaultCost,
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateCode returns a uniformly random 6-digit code in [100000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Issue creates a pending code for identifier, overwriting any prior entry.
// Overwriting is the at-most-one-live-code policy: a previously issued,
// unexpired code stops verifying the moment a new one is issued.
func (s *Service) Issue(ctx context.Context, identifier string) (Issued, error) {
	lock := s.lockFor(identifier)
	lock.Lock()
	defer lock.Unlock()

	code, err := s.generate()
	if err != nil {
		return Issued{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return Issued{}, fmt.Errorf("hash code: %w", err)
	}

	nowTS := s.now().UTC()
	entry := models.OTPEntry{
		CodeHash:  string(hash),
		ExpiresAt: nowTS.Add(TTL),
		IssuedAt:  nowTS,
	}

	s.tableMu.Lock()
	defer s.tableMu.Unlock()

	pending, err := s.load(ctx)
	if err != nil {
		return Issued{}, err
	}
	pending[identifier] = entry
	if err := s.save(ctx, pending); err != nil {
		return Issued{}, err
	}

	return Issued{Code: code, ExpiresAt: entry.ExpiresAt}, nil
}

// Verify checks and consumes the pending code for identifier.
//
//   - no entry: ErrNotFound (never issued, or already consumed)
//   - past TTL: ErrExpired, and the stale entry is deleted
//   - wrong code: ErrMismatch, entry kept so the caller may retry until expiry
//   - match: entry consumed, nil
func (s *Service) Verify(ctx context.Context, identifier, code string) error {
	lock := s.lockFor(identifier)
	lock.Lock()
	defer lock.Unlock()

	s.tableMu.Lock()
	defer s.tableMu.Unlock()

	pending, err := s.load(ctx)
	if err != nil {
		return err
	}

	entry, ok := pending[identifier]
	if !ok {
		return ErrNotFound
	}

	if entry.ExpiredAt(s.now().UTC()) {
		delete(pending, identifier)
		if err := s.save(ctx, pending); err != nil {
			return err
		}
		return ErrExpired
	}

	if bcrypt.CompareHashAndPassword([]byte(entry.CodeHash), []byte(code)) != nil {
		return ErrMismatch
	}

	// Single use: consume before the caller sees success.
	delete(pending, identifier)
	return s.save(ctx, pending)
}

// SweepExpired removes entries past their TTL and returns how many were
// dropped. Correctness never depends on this; lazy expiry in Verify already
// rejects stale codes. The sweep only keeps the pending table from
// accumulating entries that are never verified again.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()

	pending, err := s.load(ctx)
	if err != nil {
		return 0, err
	}

	nowTS := s.now().UTC()
	removed := 0
	for identifier, entry := range pending {
		if entry.ExpiredAt(nowTS) {
			delete(pending, identifier)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save(ctx, pending)
}

// StartSweeper runs SweepExpired on the given interval until done is closed.
func (s *Service) StartSweeper(interval time.Duration, done chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed, err := s.SweepExpired(context.Background())
				if err != nil {
					slog.Error("otp sweep failed", "error", err)
				} else if removed > 0 {
					slog.Info("otp sweep completed", "removed", removed)
				}
			case <-done:
				return
			}
		}
	}()
}

func (s *Service) lockFor(identifier string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[identifier]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[identifier] = lock
	}
	return lock
}

func (s *Service) load(ctx context.Context) (map[string]models.OTPEntry, error) {
	raw, ok, err := s.storage.Get(ctx, pendingKey)
	if err != nil {
		return nil, err
	}
	pending := make(map[string]models.OTPEntry)
	if !ok {
		return pending, nil
	}
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return nil, fmt.Errorf("decode pending table: %w", err)
	}
	return pending, nil
}

func (s *Service) save(ctx context.Context, pending map[string]models.OTPEntry) error {
	raw, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("encode pending table: %w", err)
	}
	return s.storage.Set(ctx, pendingKey, string(raw))
}
