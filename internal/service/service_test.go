package service

import (
	"context"
	"testing"

	"github.com/keygate/keygate/internal/config"
)

// newTestStore returns an in-memory store that is torn down with the test.
func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	store, err := config.NewStore(config.DriverSQLite, "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// newTestUser registers a user and returns its ID.
func newTestUser(t *testing.T, store *config.Store, email string) int64 {
	t.Helper()
	auth := NewAuthService(store, "test-secret", testSessionTTL)
	id, err := auth.Register(context.Background(), email, "Sup3rSecret")
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return id
}
