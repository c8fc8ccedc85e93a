// Package models defines types shared across internal packages.
package models

import "time"

// Principal is an authenticated user as seen by the auth core. Email is
// only known when the principal was resolved from a session assertion.
type Principal struct {
	UserID string `json:"id"`
	Email  string `json:"email,omitempty"`
}

// Credential is a long-lived opaque API credential. Only the SHA-256
// digest of the raw secret is stored; the raw value is handed out once.
type Credential struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Label      string     `json:"label"`
	Hash       string     `json:"hash"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// OAuthClient is a dynamically registered OAuth client. Clients live in
// process memory only.
type OAuthClient struct {
	ClientID     string    `json:"client_id"`
	ClientName   string    `json:"client_name,omitempty"`
	SecretHash   string    `json:"-"`
	RedirectURIs []string  `json:"redirect_uris"`
	IssuedAt     time.Time `json:"client_id_issued_at"`
}

// AuthCode is a pending single-use authorization code.
type AuthCode struct {
	Code          string
	UserID        string
	ClientID      string
	RedirectURI   string
	CodeChallenge string
	ExpiresAt     time.Time
}

// Expired reports whether the code is past its expiry at the given time.
func (ac *AuthCode) Expired(now time.Time) bool {
	return now.After(ac.ExpiresAt)
}
