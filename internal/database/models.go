package database

import "time"

// Setting is a small key/value row for host-local state that is not worth a
// dedicated table (password hash, setup-token signing key).
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Credential is a registered passkey public key. SignCount is the
// authenticator's signature counter; a verified use that does not advance it
// indicates a cloned authenticator and is rejected by the auth gate.
type Credential struct {
	ID              string    `gorm:"primaryKey;size:256" json:"id"`
	Label           string    `json:"label"`
	PublicKey       []byte    `gorm:"not null" json:"-"`
	AttestationType string    `json:"-"`
	Transport       string    `json:"-"`
	SignCount       uint32    `gorm:"default:0" json:"-"`
	AAGUID          []byte    `json:"-"`
	UserAgent       string    `json:"user_agent"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	LastUsedAt      time.Time `json:"last_used_at"`
}

// SetupToken is a one-time enrollment link that lets a new credential be
// bound to the account without an existing session. It is deleted when a
// registration completes through it.
type SetupToken struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	DisplayName  string    `json:"display_name"`
	CredentialID *string   `json:"credential_id,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// AuthSession is the server-side record behind an opaque session cookie.
// Every state-mutating request must also present the stored CSRF token.
type AuthSession struct {
	Token        string    `gorm:"primaryKey;size:128" json:"-"`
	CredentialID string    `gorm:"index" json:"credential_id"`
	CSRFToken    string    `gorm:"not null" json:"-"`
	ExpiresAt    time.Time `gorm:"index" json:"expires_at"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}
