package model

import (
	"testing"
	"time"
)

func TestAPIKeyState(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		revoked bool
		expires time.Time
		want    KeyState
	}{
		{"active", false, now.Add(24 * time.Hour), KeyActive},
		{"expired", false, now.Add(-time.Hour), KeyExpired},
		{"expires exactly now", false, now, KeyExpired},
		{"revoked", true, now.Add(24 * time.Hour), KeyRevoked},
		{"revoked wins over expired", true, now.Add(-time.Hour), KeyRevoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := &APIKey{Revoked: tt.revoked, ExpiresAt: tt.expires}
			if got := k.State(now); got != tt.want {
				t.Errorf("State() = %q, want %q", got, tt.want)
			}
		})
	}
}
