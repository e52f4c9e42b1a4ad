package models

import (
	"time"
)

// UserRecord is the durable user row kept under the auth.users storage key.
// Exactly one of Email or Phone is populated at creation and acts as the
// lookup identifier; profile fields fill in incrementally during onboarding.
type UserRecord struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email,omitempty"`
	Phone              string    `json:"phone,omitempty"`
	Name               string    `json:"name,omitempty"`
	DateOfBirth        string    `json:"date_of_birth,omitempty"`
	Age                int       `json:"age,omitempty"`
	Country            string    `json:"country,omitempty"`
	PhotoURL           string    `json:"photo_url,omitempty"`
	Bio                string    `json:"bio,omitempty"`
	Interests          []string  `json:"interests,omitempty"`
	Provider           string    `json:"provider,omitempty"`
	OnboardingComplete bool      `json:"onboarding_complete"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Identifier returns the record's lookup channel: email when present, phone otherwise.
func (u UserRecord) Identifier() string {
	if u.Email != "" {
		return u.Email
	}
	return u.Phone
}

// MatchesIdentifier reports whether the record is addressable by the given
// email or phone string.
func (u UserRecord) MatchesIdentifier(identifier string) bool {
	return identifier != "" && (u.Email == identifier || u.Phone == identifier)
}

// ProfileUpdate is a typed partial update for UserRecord. Nil fields are left
// untouched; Interests is replaced wholesale when set, matching how the app
// always submits the full tag list.
type ProfileUpdate struct {
	Name        *string   `json:"name,omitempty"`
	DateOfBirth *string   `json:"date_of_birth,omitempty"`
	Age         *int      `json:"age,omitempty"`
	Country     *string   `json:"country,omitempty"`
	PhotoURL    *string   `json:"photo_url,omitempty"`
	Bio         *string   `json:"bio,omitempty"`
	Interests   *[]string `json:"interests,omitempty"`
}

// Apply shallow-merges the update into the record.
func (u *UserRecord) Apply(p ProfileUpdate) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.DateOfBirth != nil {
		u.DateOfBirth = *p.DateOfBirth
	}
	if p.Age != nil {
		u.Age = *p.Age
	}
	if p.Country != nil {
		u.Country = *p.Country
	}
	if p.PhotoURL != nil {
		u.PhotoURL = *p.PhotoURL
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.Interests != nil {
		u.Interests = *p.Interests
	}
}
