package model

import "time"

// APIKey represents a long-lived named bearer credential owned by a user.
// The raw secret is never stored; only a SHA-256 hash and a short prefix
// for identification are persisted.
type APIKey struct {
	ID         int64      `json:"id" db:"id"`
	UserID     int64      `json:"user_id" db:"user_id"`
	Name       string     `json:"name" db:"name"`
	KeyHash    string     `json:"-" db:"key_hash"`            // SHA-256 hash, never expose
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"` // "sk-" + first chars for identification
	Revoked    bool       `json:"revoked" db:"revoked"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// KeyState is the derived lifecycle state of an API key. Only Revoked is
// persisted; Active and Expired are computed from the timestamps.
type KeyState string

const (
	KeyActive  KeyState = "active"
	KeyExpired KeyState = "expired"
	KeyRevoked KeyState = "revoked"
)

// State derives the lifecycle state of the key at the given instant.
// Revocation wins over expiry: a revoked key stays revoked even after
// its expiry time passes.
func (k *APIKey) State(now time.Time) KeyState {
	if k.Revoked {
		return KeyRevoked
	}
	if !now.Before(k.ExpiresAt) {
		return KeyExpired
	}
	return KeyActive
}
