package models

import "time"

// OTPEntry is a pending one-time code, keyed by identifier under the
// auth.otps storage key. At most one live entry exists per identifier; a new
// issue overwrites any prior entry. The plaintext code is never stored, only
// its bcrypt hash.
type OTPEntry struct {
	CodeHash  string    `json:"code_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	IssuedAt  time.Time `json:"issued_at"`
}

// ExpiredAt reports whether the entry is past its TTL at the given instant.
func (e OTPEntry) ExpiredAt(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
