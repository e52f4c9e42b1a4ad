// Package store implements the credential store: a durable mapping of
// generated user ids to user records, with secondary lookup by email/phone
// identifier. Records live as one JSON document under the auth.users storage
// key and are written through synchronously on every mutation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/duetapp/duet-backend/internal/kvstore"
	"github.com/duetapp/duet-backend/internal/models"
	"github.com/google/uuid"
)

const usersKey = "auth.users"

var ErrNotFound = errors.New("user not found")

// CredentialStore owns the user table. A single mutex serializes
// read-modify-write cycles of the backing document so concurrent upserts
// cannot drop each other's writes.
type CredentialStore struct {
	storage kvstore.Store
	now     func() time.Time
	newID   func() string
	mu      sync.Mutex
}

type Option func(*CredentialStore)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *CredentialStore) { s.now = now }
}

// WithIDGenerator overrides id generation, for deterministic tests.
func WithIDGenerator(newID func() string) Option {
	return func(s *CredentialStore) { s.newID = newID }
}

func New(storage kvstore.Store, opts ...Option) *CredentialStore {
	s := &CredentialStore{
		storage: storage,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateID produces an opaque random identifier. Uniqueness is
// probabilistic and not verified against existing records.
func (s *CredentialStore) GenerateID() string {
	return s.newID()
}

// Get returns the record for id, or ErrNotFound.
func (s *CredentialStore) Get(ctx context.Context, id string) (models.UserRecord, error) {
	users, err := s.load(ctx)
	if err != nil {
		return models.UserRecord{}, err
	}
	user, ok := users[id]
	if !ok {
		return models.UserRecord{}, ErrNotFound
	}
	return user, nil
}

// FindByIdentifier scans all records for a matching email or phone. A linear
// scan is acceptable at this scale; ids are visited in sorted order so "first
// match wins" is deterministic.
func (s *CredentialStore) FindByIdentifier(ctx context.Context, identifier string) (models.UserRecord, error) {
	users, err := s.load(ctx)
	if err != nil {
		return models.UserRecord{}, err
	}

	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if users[id].MatchesIdentifier(identifier) {
			return users[id], nil
		}
	}
	return models.UserRecord{}, ErrNotFound
}

// Upsert inserts the record if its id is unseen, otherwise overwrites the
// stored record while preserving CreatedAt. UpdatedAt is refreshed either
// way and the table is written through synchronously.
func (s *CredentialStore) Upsert(ctx context.Context, record models.UserRecord) (models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load(ctx)
	if err != nil {
		return models.UserRecord{}, err
	}

	nowTS := s.now().UTC()
	if existing, ok := users[record.ID]; ok {
		record.CreatedAt = existing.CreatedAt
	} else if record.CreatedAt.IsZero() {
		record.CreatedAt = nowTS
	}
	record.UpdatedAt = nowTS

	users[record.ID] = record
	if err := s.save(ctx, users); err != nil {
		return models.UserRecord{}, err
	}
	return record, nil
}

// UpdateProfile applies a typed partial update to the record for id. Unknown
// ids fail with ErrNotFound and create nothing.
func (s *CredentialStore) UpdateProfile(ctx context.Context, id string, update models.ProfileUpdate) (models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load(ctx)
	if err != nil {
		return models.UserRecord{}, err
	}

	user, ok := users[id]
	if !ok {
		return models.UserRecord{}, ErrNotFound
	}

	user.Apply(update)
	user.UpdatedAt = s.now().UTC()

	users[id] = user
	if err := s.save(ctx, users); err != nil {
		return models.UserRecord{}, err
	}
	return user, nil
}

func (s *CredentialStore) load(ctx context.Context) (map[string]models.UserRecord, error) {
	raw, ok, err := s.storage.Get(ctx, usersKey)
	if err != nil {
		return nil, err
	}
	users := make(map[string]models.UserRecord)
	if !ok {
		return users, nil
	}
	if err := json.Unmarshal([]byte(raw), &users); err != nil {
		return nil, fmt.Errorf("decode user table: %w", err)
	}
	return users, nil
}

func (s *CredentialStore) save(ctx context.Context, users map[string]models.UserRecord) error {
	raw, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("encode user table: %w", err)
	}
	return s.storage.Set(ctx, usersKey, string(raw))
}
