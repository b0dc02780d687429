package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCreateKeyExpiryBounds(t *testing.T) {
	store := newTestStore(t)
	keys := NewKeyService(store, 90)
	ctx := context.Background()
	userID := newTestUser(t, store, "alice@example.com")

	tests := []struct {
		name    string
		days    int
		wantErr error
	}{
		{"below minimum", -1, ErrInvalidRange},
		{"zero", 0, ErrInvalidRange},
		{"minimum", 1, nil},
		{"maximum", 27000, nil},
		{"above maximum", 27001, ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, _, err := keys.CreateKey(ctx, userID, "key-"+tt.name, tt.days)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateKey(%d days) = %v, want %v", tt.days, err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			wantExpiry := time.Now().UTC().AddDate(0, 0, tt.days)
			if diff := key.ExpiresAt.Sub(wantExpiry); diff < -time.Minute || diff > time.Minute {
				t.Errorf("expires_at = %v, want about %v", key.ExpiresAt, wantExpiry)
			}
		})
	}
}

func TestDefaultExpiryDays(t *testing.T) {
	store := newTestStore(t)

	if got := NewKeyService(store, 45).DefaultExpiryDays(); got != 45 {
		t.Errorf("DefaultExpiryDays() = %d, want 45", got)
	}

	// Out-of-range configured defaults fall back to 90.
	for _, bad := range []int{0, -1, 27001} {
		if got := NewKeyService(store, bad).DefaultExpiryDays(); got != 90 {
			t.Errorf("DefaultExpiryDays() with configured %d = %d, want 90", bad, got)
		}
	}
}

// The default lifetime applies only when no lifetime is named; an explicit
// zero is an error, never a silent fallback.
func TestCreateKeyExplicitZeroRejected(t *testing.T) {
	store := newTestStore(t)
	keys := NewKeyService(store, 45)
	ctx := context.Background()
	userID := newTestUser(t, store, "alice@example.com")

	if _, _, err := keys.CreateKey(ctx, userID, "zero-days", 0); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("CreateKey(0 days) = %v, want ErrInvalidRange", err)
	}

	key, _, err := keys.CreateKey(ctx, userID, "defaulted", keys.DefaultExpiryDays())
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	wantExpiry := time.Now().UTC().AddDate(0, 0, 45)
	if diff := key.ExpiresAt.Sub(wantExpiry); diff < -time.Minute || diff > time.Minute {
		t.Errorf("expires_at = %v, want about %v", key.ExpiresAt, wantExpiry)
	}
}

func TestCreateKeyNameValidation(t *testing.T) {
	store := newTestStore(t)
	keys := NewKeyService(store, 90)
	ctx := context.Background()
	userID := newTestUser(t, store, "alice@example.com")

	if _, _, err := keys.CreateKey(ctx, userID, "", 30); !errors.Is(err, ErrInvalidName) {
		t.Errorf("empty name: got %v, want ErrInvalidName", err)
	}

	long := make([]byte, MaxKeyNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, _, err := keys.CreateKey(ctx, userID, string(long), 30); !errors.Is(err, ErrInvalidName) {
		t.Errorf("overlong name: got %v, want ErrInvalidName", err)
	}

	if _, _, err := keys.CreateKey(ctx, userID, string(long[:MaxKeyNameLen]), 30); err != nil {
		t.Errorf("max-length name: %v", err)
	}
}

func TestCreateKeyNameConflict(t *testing.T) {
	store := newTestStore(t)
	keys := NewKeyService(store, 90)
	ctx := context.Background()
	alice := newTestUser(t, store, "alice@example.com")
	bob := newTestUser(t, store, "bob@example.com")

	if _, _, err := keys.CreateKey(ctx, alice, "ci-bot", 30); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if _, _, err := keys.CreateKey(ctx, alice, "ci-bot", 30); !errors.Is(err, ErrNameConflict) {
		t.Fatalf("duplicate name: got %v, want ErrNameConflict", err)
	}

	// Scope is per user: bob can use the same name.
	if _, _, err := keys.CreateKey(ctx, bob, "ci-bot", 30); err != nil {
		t.Errorf("same name for other user: %v", err)
	}

	// Names are case-sensitive.
	if _, _, err := keys.CreateKey(ctx, alice, "CI-Bot", 30); err != nil {
		t.Errorf("case-variant name: %v", err)
	}
}

func TestCreateKeyNameFreedByRevocation(t *testing.T) {
	store := newTestStore(t)
	keys := NewKeyService(store, 90)
	ctx := context.Background()
	userID := newTestUser(t, store, "alice@example.com")

	key, _, err := keys.CreateKey(ctx, userID, "ci-bot", 30)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if err := keys.RevokeKey(ctx, userID, key.ID); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}

	// Revocation releases the name for a replacement key.
	if _, _, err := keys.CreateKey(ctx, userID, "ci-bot", 30); err != nil {
		t.Errorf("reuse of revoked name: %v", err)
	}
}

func TestCreateKeyConcurrentSameName(t *testing.T) {
	store := newTestStore(t)
	keys := NewKeyService(store, 90)
	ctx := context.Background()
	userID := newTestUser(t, store, "alice@example.com")

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = keys.CreateKey(ctx, userID, "racy", 30)
		}(i)
	}
	wg.Wait()

	var created, conflicts int
	for i, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrNameConflict):
			conflicts++
		default:
			t.Fatalf("goroutine %d: unexpected error %v", i, err)
		}
	}
	if created != 1 {
		t.Errorf("created = %d, want exactly 1", created)
	}
	if conflicts != n-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, n-1)
	}
}

func TestCreateKeySecretsUnique(t *testing.T) {
	store := newTestStore(t)
	keys := NewKeyService(store, 90)
	ctx := context.Background()
	userID := newTestUser(t, store, "alice@example.com")

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		_, secret, err := keys.CreateKey(ctx, userID, "key-"+string(rune('a'+i)), 30)
		if err != nil {
			t.Fatalf("CreateKey %d: %v", i, err)
		}
		if seen[secret] {
			t.Fatalf("duplicate secret generated: %q", secret)
		}
		seen[secret] = true
	}
}

func TestListKeysPagination(t *testing.T) {
	store := newTestStore(t)
	keys := NewKeyService(store, 90)
	ctx := context.Background()
	userID := newTestUser(t, store, "alice@example.com")

	for i := 0; i < 5; i++ {
		if _, _, err := keys.CreateKey(ctx, userID, "key-"+string(rune('a'+i)), 30); err != nil {
			t.Fatalf("CreateKey %d: %v", i, err)
		}
	}

	page, total, err := keys.ListKeys(ctx, userID, 0, 2)
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 {
		t.Errorf("page size = %d, want 2", len(page))
	}

	rest, _, err := keys.ListKeys(ctx, userID, 4, 10)
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(rest) != 1 {
		t.Errorf("tail page size = %d, want 1", len(rest))
	}
}

func TestUpdateKeyExpiry(t *testing.T) {
	store := newTestStore(t)
	keys := NewKeyService(store, 90)
	ctx := context.Background()
	userID := newTestUser(t, store, "alice@example.com")

	key, _, err := keys.CreateKey(ctx, userID, "ci-bot", 30)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	updated, err := keys.UpdateKeyExpiry(ctx, userID, key.ID, 365)
	if err != nil {
		t.Fatalf("UpdateKeyExpiry: %v", err)
	}
	if !updated.ExpiresAt.After(key.ExpiresAt) {
		t.Errorf("expiry not extended: %v -> %v", key.ExpiresAt, updated.ExpiresAt)
	}

	if _, err := keys.UpdateKeyExpiry(ctx, userID, key.ID, 0); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("zero days: got %v, want ErrInvalidRange", err)
	}
	if _, err := keys.UpdateKeyExpiry(ctx, userID, key.ID, 27001); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("27001 days: got %v, want ErrInvalidRange", err)
	}

	if err := keys.RevokeKey(ctx, userID, key.ID); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}
	if _, err := keys.UpdateKeyExpiry(ctx, userID, key.ID, 30); !errors.Is(err, ErrAlreadyRevoked) {
		t.Errorf("revoked key: got %v, want ErrAlreadyRevoked", err)
	}
}

func TestRevokeKeyIdempotent(t *testing.T) {
	store := newTestStore(t)
	keys := NewKeyService(store, 90)
	ctx := context.Background()
	userID := newTestUser(t, store, "alice@example.com")

	key, _, err := keys.CreateKey(ctx, userID, "ci-bot", 30)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := keys.RevokeKey(ctx, userID, key.ID); err != nil {
			t.Fatalf("RevokeKey attempt %d: %v", i, err)
		}
	}

	got, err := keys.GetKey(ctx, userID, key.ID)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if !got.Revoked {
		t.Error("key not revoked")
	}
}

func TestKeyOwnershipScoping(t *testing.T) {
	store := newTestStore(t)
	keys := NewKeyService(store, 90)
	ctx := context.Background()
	alice := newTestUser(t, store, "alice@example.com")
	bob := newTestUser(t, store, "bob@example.com")

	key, _, err := keys.CreateKey(ctx, alice, "ci-bot", 30)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	// Another user cannot see, extend, or revoke the key.
	if _, err := keys.GetKey(ctx, bob, key.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetKey as bob: got %v, want ErrNotFound", err)
	}
	if _, err := keys.UpdateKeyExpiry(ctx, bob, key.ID, 30); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateKeyExpiry as bob: got %v, want ErrNotFound", err)
	}
	if err := keys.RevokeKey(ctx, bob, key.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("RevokeKey as bob: got %v, want ErrNotFound", err)
	}
}
