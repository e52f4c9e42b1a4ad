// Package identity defines the seam to external OAuth identity providers.
package identity

import (
	"context"
	"errors"
)

var (
	ErrUnknownProvider = errors.New("unknown identity provider")
	ErrMissingEmail    = errors.New("provider credentials missing email")
)

// Credentials is what the mobile client forwards from the provider SDK.
type Credentials struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`
	IDToken  string `json:"id_token,omitempty"`
}

// Identity is a provider-asserted identity.
type Identity struct {
	Email    string
	Name     string
	PhotoURL string
}

// Provider authenticates provider credentials into an identity.
type Provider interface {
	Name() string
	Authenticate(ctx context.Context, creds Credentials) (Identity, error)
}

// stubProvider trusts the forwarded credentials without verifying the
// provider token. It stands in for a server-side verifier (Google token
// endpoint, Apple JWKS) behind the same interface; swapping in a real
// implementation changes nothing upstream. Not suitable beyond this mock
// boundary.
type stubProvider struct {
	name string
}

// NewStub returns a trusting provider with the given name ("google", "apple").
func NewStub(name string) Provider {
	return &stubProvider{name: name}
}

func (p *stubProvider) Name() string {
	return p.name
}

func (p *stubProvider) Authenticate(_ context.Context, creds Credentials) (Identity, error) {
	if creds.Email == "" {
		return Identity{}, ErrMissingEmail
	}
	return Identity{
		Email:    creds.Email,
		Name:     creds.Name,
		PhotoURL: creds.PhotoURL,
	}, nil
}
