package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/duetapp/duet-backend/internal/identity"
	"github.com/duetapp/duet-backend/internal/models"
	"github.com/duetapp/duet-backend/internal/otp"
	"github.com/duetapp/duet-backend/internal/store"
	"github.com/duetapp/duet-backend/internal/token"
)

var (
	// ErrValidation covers malformed identifiers, out-of-range onboarding
	// steps, and profile data rejected by moderation.
	ErrValidation = errors.New("validation failed")
)

const maxInterests = 5

var (
	emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// AuthService composes the OTP lifecycle, the credential store, the identity
// providers, and the token issuer into the auth operations the session layer
// and the HTTP surface call.
type AuthService struct {
	store      *store.CredentialStore
	otp        *otp.Service
	tokens     *token.Issuer
	providers  map[string]identity.Provider
	moderation *ModerationService
}

// AuthResult is the outcome of a successful verify/login/refresh.
type AuthResult struct {
	User         models.UserRecord
	IsNewUser    bool
	AccessToken  string
	RefreshToken string
}

// OTPIssued reports a pending code to the caller. Code is plumbed back only
// so dev builds can surface it in the UI; production handlers must not
// expose it.
type OTPIssued struct {
	ExpiresAt time.Time
	Code      string
}

func NewAuthService(
	credStore *store.CredentialStore,
	otpService *otp.Service,
	tokens *token.Issuer,
	providers []identity.Provider,
	moderation *ModerationService,
) *AuthService {
	byName := make(map[string]identity.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &AuthService{
		store:      credStore,
		otp:        otpService,
		tokens:     tokens,
		providers:  byName,
		moderation: moderation,
	}
}

// SendOTP issues a one-time code for the identifier. Delivery is a collaborator
// concern; the core only records the pending entry.
func (s *AuthService) SendOTP(ctx context.Context, identifier string) (*OTPIssued, error) {
	identifier = strings.TrimSpace(identifier)
	if err := validateIdentifier(identifier); err != nil {
		return nil, err
	}

	issued, err := s.otp.Issue(ctx, identifier)
	if err != nil {
		return nil, err
	}

	slog.Info("otp issued", "identifier", identifier, "expires_at", issued.ExpiresAt)
	return &OTPIssued{ExpiresAt: issued.ExpiresAt, Code: issued.Code}, nil
}

// VerifyOTP consumes the pending code, then resolves or creates the user
// record for the identifier and issues a token pair.
func (s *AuthService) VerifyOTP(ctx context.Context, identifier, code string) (*AuthResult, error) {
	identifier = strings.TrimSpace(identifier)
	if err := validateIdentifier(identifier); err != nil {
		return nil, err
	}

	if err := s.otp.Verify(ctx, identifier, code); err != nil {
		return nil, err
	}

	user, err := s.store.FindByIdentifier(ctx, identifier)
	isNew := false
	if errors.Is(err, store.ErrNotFound) {
		user = models.UserRecord{ID: s.store.GenerateID()}
		if emailPattern.MatchString(identifier) {
			user.Email = identifier
		} else {
			user.Phone = identifier
		}
		isNew = true
	} else if err != nil {
		return nil, err
	}

	user, err = s.store.Upsert(ctx, user)
	if err != nil {
		return nil, err
	}

	slog.Info("otp verified", "user_id", user.ID, "new_user", isNew)
	return s.finishLogin(ctx, user, isNew)
}

// Login authenticates through an OAuth provider and resolves or creates the
// user record by the asserted email.
func (s *AuthService) Login(ctx context.Context, providerName string, creds identity.Credentials) (*AuthResult, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return nil, identity.ErrUnknownProvider
	}

	asserted, err := provider.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}

	user, err := s.store.FindByIdentifier(ctx, asserted.Email)
	isNew := false
	if errors.Is(err, store.ErrNotFound) {
		user = models.UserRecord{
			ID:       s.store.GenerateID(),
			Email:    asserted.Email,
			Name:     asserted.Name,
			PhotoURL: asserted.PhotoURL,
			Provider: provider.Name(),
		}
		isNew = true
	} else if err != nil {
		return nil, err
	} else if user.Provider == "" {
		// Link the provider to a record originally created via OTP.
		user.Provider = provider.Name()
	}

	user, err = s.store.Upsert(ctx, user)
	if err != nil {
		return nil, err
	}

	slog.Info("oauth login", "provider", provider.Name(), "user_id", user.ID, "new_user", isNew)
	return s.finishLogin(ctx, user, isNew)
}

// Refresh redeems a refresh token and issues a fresh pair for its user.
func (s *AuthService) Refresh(ctx context.Context, rawToken string) (*AuthResult, error) {
	userID, err := s.tokens.Redeem(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	user, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.finishLogin(ctx, user, false)
}

// Logout revokes the refresh token. Idempotent.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	return s.tokens.Revoke(ctx, rawToken)
}

// GetUser returns the record for id.
func (s *AuthService) GetUser(ctx context.Context, id string) (models.UserRecord, error) {
	return s.store.Get(ctx, id)
}

// UpdateProfile validates and applies a typed partial update. Unknown ids
// fail with store.ErrNotFound and create nothing.
func (s *AuthService) UpdateProfile(ctx context.Context, id string, update models.ProfileUpdate) (models.UserRecord, error) {
	if err := s.validateProfile(update); err != nil {
		return models.UserRecord{}, err
	}
	return s.store.UpdateProfile(ctx, id, update)
}

// CompleteProfile marks onboarding finished on the durable record.
func (s *AuthService) CompleteProfile(ctx context.Context, id string) (models.UserRecord, error) {
	user, err := s.store.Get(ctx, id)
	if err != nil {
		return models.UserRecord{}, err
	}
	user.OnboardingComplete = true
	return s.store.Upsert(ctx, user)
}

func (s *AuthService) finishLogin(ctx context.Context, user models.UserRecord, isNew bool) (*AuthResult, error) {
	access, err := s.tokens.AccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefresh(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		User:         user,
		IsNewUser:    isNew,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

func (s *AuthService) validateProfile(update models.ProfileUpdate) error {
	if update.Interests != nil && len(*update.Interests) > maxInterests {
		return fmt.Errorf("%w: at most %d interests", ErrValidation, maxInterests)
	}
	if s.moderation == nil {
		return nil
	}
	for _, text := range []*string{update.Name, update.Bio} {
		if text == nil {
			continue
		}
		if ok, reason := s.moderation.FilterContent(*text); !ok {
			return fmt.Errorf("%w: %s", ErrValidation, s.moderation.GetRejectionMessage(reason))
		}
	}
	return nil
}

func validateIdentifier(identifier string) error {
	if identifier == "" {
		return fmt.Errorf("%w: identifier is required", ErrValidation)
	}
	if !emailPattern.MatchString(identifier) && !phonePattern.MatchString(identifier) {
		return fmt.Errorf("%w: identifier must be an email address or phone number", ErrValidation)
	}
	return nil
}
