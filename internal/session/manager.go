// Package session tracks the app's single active session: who is logged in,
// whether an auth operation is in flight, and how far onboarding has
// progressed. One Manager is constructed per process and passed by reference;
// there is no package-level instance, so tests run isolated managers freely.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/duetapp/duet-backend/internal/identity"
	"github.com/duetapp/duet-backend/internal/models"
	"github.com/duetapp/duet-backend/internal/services"
)

// ErrNotAuthenticated is returned by operations that require a logged-in user.
var ErrNotAuthenticated = errors.New("not authenticated")

// Step is the onboarding progress marker.
type Step int

const (
	StepNotStarted Step = 0
	StepBasicInfo  Step = 1
	StepPhoto      Step = 2
	StepLocation   Step = 3
	StepComplete   Step = 4
)

// Snapshot is the observable session state handed to subscribers and polled
// by the UI. User is a copy; mutating it does not affect the session.
type Snapshot struct {
	User            *models.UserRecord
	IsAuthenticated bool
	IsLoading       bool
	OnboardingStep  Step
}

// Observer receives a snapshot after every committed state change.
type Observer func(Snapshot)

// Manager is the session state machine. States: logged out, authenticating
// (IsLoading), logged in at onboarding step 0..4.
//
// IsLoading is a best-effort overlap guard for the UI, not a mutual-exclusion
// contract: the manager neither queues nor rejects concurrent calls, it only
// exposes the flag so triggering controls can disable themselves.
type Manager struct {
	auth *services.AuthService

	mu           sync.Mutex
	user         *models.UserRecord
	loading      bool
	step         Step
	refreshToken string

	observers    map[int]Observer
	nextObserver int
}

func NewManager(auth *services.AuthService) *Manager {
	return &Manager{
		auth:      auth,
		observers: make(map[int]Observer),
	}
}

// Snapshot returns a copy of the current session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe registers an observer and returns its unsubscribe func.
// Observers are invoked synchronously after each committed change, outside
// the manager lock, so they may call back into the manager.
func (m *Manager) Subscribe(fn Observer) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextObserver
	m.nextObserver++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

// SendOTP issues a code for the identifier. No session state changes beyond
// the loading flag toggling around the call.
func (m *Manager) SendOTP(ctx context.Context, identifier string) (*services.OTPIssued, error) {
	defer m.beginLoading()()
	return m.auth.SendOTP(ctx, identifier)
}

// VerifyOTP consumes the pending code and, on success, transitions to logged
// in with step 4 for returning users who finished onboarding, step 0
// otherwise.
func (m *Manager) VerifyOTP(ctx context.Context, identifier, code string) (*services.AuthResult, error) {
	defer m.beginLoading()()

	result, err := m.auth.VerifyOTP(ctx, identifier, code)
	if err != nil {
		return nil, err
	}
	m.commitLogin(result)
	return result, nil
}

// Login authenticates through an OAuth provider and transitions like
// VerifyOTP on success.
func (m *Manager) Login(ctx context.Context, provider string, creds identity.Credentials) (*services.AuthResult, error) {
	defer m.beginLoading()()

	result, err := m.auth.Login(ctx, provider, creds)
	if err != nil {
		return nil, err
	}
	m.commitLogin(result)
	return result, nil
}

// Restore rebuilds the session from a refresh token, e.g. after a process
// restart.
func (m *Manager) Restore(ctx context.Context, refreshToken string) (*services.AuthResult, error) {
	defer m.beginLoading()()

	result, err := m.auth.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	m.commitLogin(result)
	return result, nil
}

// UpdateProfile persists a partial profile update and shallow-merges the
// result into the in-memory user mirror. It never advances the onboarding
// step; that is the caller's explicit move.
func (m *Manager) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (models.UserRecord, error) {
	userID, err := m.currentUserID()
	if err != nil {
		return models.UserRecord{}, err
	}
	defer m.beginLoading()()

	user, err := m.auth.UpdateProfile(ctx, userID, update)
	if err != nil {
		return models.UserRecord{}, err
	}
	m.commitUser(user)
	return user, nil
}

// CompleteProfile marks onboarding finished and moves the session to step 4.
func (m *Manager) CompleteProfile(ctx context.Context) (models.UserRecord, error) {
	userID, err := m.currentUserID()
	if err != nil {
		return models.UserRecord{}, err
	}
	defer m.beginLoading()()

	user, err := m.auth.CompleteProfile(ctx, userID)
	if err != nil {
		return models.UserRecord{}, err
	}

	m.mu.Lock()
	u := user
	m.user = &u
	m.step = StepComplete
	m.mu.Unlock()
	m.notify()
	return user, nil
}

// SetOnboardingStep records caller-driven onboarding progress. Steps outside
// 0..4 fail validation; a step at or below the current one is ignored, so
// progress is monotonic non-decreasing until logout resets it.
func (m *Manager) SetOnboardingStep(step Step) error {
	if step < StepNotStarted || step > StepComplete {
		return fmt.Errorf("%w: onboarding step must be between 0 and 4", services.ErrValidation)
	}

	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	if step <= m.step {
		m.mu.Unlock()
		return nil
	}
	m.step = step
	m.mu.Unlock()

	m.notify()
	return nil
}

// Logout revokes the refresh token and clears the session. The state reset
// happens regardless of revocation outcome.
func (m *Manager) Logout(ctx context.Context) error {
	defer m.beginLoading()()

	m.mu.Lock()
	refreshToken := m.refreshToken
	m.user = nil
	m.step = StepNotStarted
	m.refreshToken = ""
	m.mu.Unlock()
	m.notify()

	if refreshToken == "" {
		return nil
	}
	return m.auth.Logout(ctx, refreshToken)
}

// beginLoading raises the loading flag and returns the func that clears it.
// Callers defer the release so the flag drops on every exit path, errors
// included.
func (m *Manager) beginLoading() func() {
	m.mu.Lock()
	m.loading = true
	m.mu.Unlock()
	m.notify()

	return func() {
		m.mu.Lock()
		m.loading = false
		m.mu.Unlock()
		m.notify()
	}
}

func (m *Manager) commitLogin(result *services.AuthResult) {
	m.mu.Lock()
	u := result.User
	m.user = &u
	m.refreshToken = result.RefreshToken
	if u.OnboardingComplete {
		m.step = StepComplete
	} else {
		m.step = StepNotStarted
	}
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) commitUser(user models.UserRecord) {
	m.mu.Lock()
	u := user
	m.user = &u
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) currentUserID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return "", ErrNotAuthenticated
	}
	return m.user.ID, nil
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		IsAuthenticated: m.user != nil,
		IsLoading:       m.loading,
		OnboardingStep:  m.step,
	}
	if m.user != nil {
		u := *m.user
		snap.User = &u
	}
	return snap
}

func (m *Manager) notify() {
	m.mu.Lock()
	snap := m.snapshotLocked()
	observers := make([]Observer, 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}
