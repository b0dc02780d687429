package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/model"
)

const (
	// MinExpiryDays and MaxExpiryDays bound the requested key lifetime.
	// The upper bound is roughly 74 years.
	MinExpiryDays = 1
	MaxExpiryDays = 27000

	// MaxKeyNameLen caps the human-readable key label.
	MaxKeyNameLen = 100

	keyPrefixLen = 10
)

// KeyService manages the lifecycle of long-lived API keys: minting,
// listing, expiry adjustment, and revocation.
type KeyService struct {
	store             *config.Store
	defaultExpiryDays int
}

// NewKeyService creates a KeyService. defaultExpiryDays is applied when a
// key is created without an explicit lifetime.
func NewKeyService(store *config.Store, defaultExpiryDays int) *KeyService {
	if defaultExpiryDays < MinExpiryDays || defaultExpiryDays > MaxExpiryDays {
		defaultExpiryDays = 90
	}
	return &KeyService{store: store, defaultExpiryDays: defaultExpiryDays}
}

// DefaultExpiryDays reports the lifetime applied when a caller does not
// name one. Substituting the default is the caller's job: CreateKey itself
// rejects every out-of-range value, including 0.
func (s *KeyService) DefaultExpiryDays() int {
	return s.defaultExpiryDays
}

// CreateKey mints a new API key for the user. The full secret is returned
// exactly once; only its SHA-256 hash and a short display prefix are stored.
// expiresInDays outside [1, 27000] is rejected with ErrInvalidRange; an
// explicit 0 fails rather than selecting the default. Returns
// ErrNameConflict if the user already has a non-revoked key with the same
// name.
func (s *KeyService) CreateKey(ctx context.Context, userID int64, name string, expiresInDays int) (*model.APIKey, string, error) {
	if err := validateKeyName(name); err != nil {
		return nil, "", err
	}
	if expiresInDays < MinExpiryDays || expiresInDays > MaxExpiryDays {
		return nil, "", ErrInvalidRange
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, "", fmt.Errorf("generate key secret: %w", err)
	}

	key := &model.APIKey{
		UserID:    userID,
		Name:      name,
		KeyHash:   config.HashSecret(secret),
		KeyPrefix: secret[:keyPrefixLen],
		ExpiresAt: time.Now().UTC().AddDate(0, 0, expiresInDays),
	}

	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		if errors.Is(err, config.ErrConflict) {
			return nil, "", ErrNameConflict
		}
		return nil, "", err
	}
	return key, secret, nil
}

// ListKeys returns the user's API keys, newest first, with the total count
// for pagination. Revoked and expired keys are included.
func (s *KeyService) ListKeys(ctx context.Context, userID int64, skip, limit int) ([]model.APIKey, int64, error) {
	return s.store.ListAPIKeysByUser(ctx, userID, skip, limit)
}

// GetKey returns one of the user's keys by ID. Returns ErrNotFound when the
// key does not exist or belongs to another user.
func (s *KeyService) GetKey(ctx context.Context, userID, keyID int64) (*model.APIKey, error) {
	key, err := s.store.GetAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if key.UserID != userID {
		return nil, ErrNotFound
	}
	return key, nil
}

// UpdateKeyExpiry replaces the key's expiry with now + expiresInDays.
// Extending or shortening past lifetimes is allowed as long as the key is
// not revoked; revoked keys report ErrAlreadyRevoked.
func (s *KeyService) UpdateKeyExpiry(ctx context.Context, userID, keyID int64, expiresInDays int) (*model.APIKey, error) {
	if expiresInDays < MinExpiryDays || expiresInDays > MaxExpiryDays {
		return nil, ErrInvalidRange
	}

	key, err := s.GetKey(ctx, userID, keyID)
	if err != nil {
		return nil, err
	}
	if key.Revoked {
		return nil, ErrAlreadyRevoked
	}

	expiresAt := time.Now().UTC().AddDate(0, 0, expiresInDays)
	if err := s.store.UpdateAPIKeyExpiry(ctx, keyID, expiresAt); err != nil {
		return nil, err
	}
	key.ExpiresAt = expiresAt
	return key, nil
}

// RevokeKey permanently disables the key. Revocation is one-way and
// idempotent: revoking an already-revoked key succeeds without change.
func (s *KeyService) RevokeKey(ctx context.Context, userID, keyID int64) error {
	if _, err := s.GetKey(ctx, userID, keyID); err != nil {
		return err
	}
	return s.store.RevokeAPIKey(ctx, keyID)
}

// generateSecret returns a fresh key secret: the "sk-" marker followed by
// 32 bytes of CSPRNG output in unpadded URL-safe base64 (43 characters).
func generateSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return KeySecretPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

func validateKeyName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > MaxKeyNameLen {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, MaxKeyNameLen)
	}
	return nil
}
