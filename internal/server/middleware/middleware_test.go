package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/service"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if respID == "" {
		t.Error("expected X-Request-ID in response header")
	}
	// UUID v7 format check: 36 chars with dashes
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if respID != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, respID)
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	id := GetRequestID(context.Background())
	if id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// Authenticate middleware tests
// ---------------------------------------------------------------------------

func newAuthFixture(t *testing.T) (*config.Store, *service.AuthService, *service.KeyService, int64) {
	t.Helper()
	store, err := config.NewStore(config.DriverSQLite, "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	auth := service.NewAuthService(store, "test-secret", time.Hour)
	keys := service.NewKeyService(store, 90)
	userID, err := auth.Register(context.Background(), "alice@example.com", "Sup3rSecret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return store, auth, keys, userID
}

func authHandler(t *testing.T, auth *service.AuthService, wantUser int64) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		if p == nil {
			t.Error("no principal in context")
		} else if p.UserID != wantUser {
			t.Errorf("principal user = %d, want %d", p.UserID, wantUser)
		}
		w.WriteHeader(http.StatusOK)
	})
	return Authenticate(auth, logger)(inner)
}

func TestAuthenticateSessionToken(t *testing.T) {
	_, auth, _, userID := newAuthFixture(t)

	token, _, err := auth.IssueSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/auth/tokens", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	authHandler(t, auth, userID).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestAuthenticateAPIKey(t *testing.T) {
	_, auth, keys, userID := newAuthFixture(t)

	_, secret, err := keys.CreateKey(context.Background(), userID, "ci-bot", 30)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/auth/tokens", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	rr := httptest.NewRecorder()
	authHandler(t, auth, userID).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	_, auth, keys, userID := newAuthFixture(t)
	ctx := context.Background()

	key, revokedSecret, err := keys.CreateKey(ctx, userID, "revoked", 30)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if err := keys.RevokeKey(ctx, userID, key.ID); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := Authenticate(auth, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler reached with bad credentials")
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"garbage token", "Bearer not-a-token"},
		{"unknown key", "Bearer sk-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"revoked key", "Bearer " + revokedSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/auth/tokens", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rr.Code)
			}
		})
	}
}

// All credential failures share one response body so the status cannot be
// used to probe for key existence.
func TestAuthenticateUniformRejectionBody(t *testing.T) {
	_, auth, keys, userID := newAuthFixture(t)
	ctx := context.Background()

	key, revokedSecret, err := keys.CreateKey(ctx, userID, "revoked", 30)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if err := keys.RevokeKey(ctx, userID, key.ID); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := Authenticate(auth, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	bodyFor := func(bearer string) string {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+bearer)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Body.String()
	}

	unknown := bodyFor("sk-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	revoked := bodyFor(revokedSecret)
	if unknown != revoked {
		t.Errorf("rejection bodies differ:\nunknown: %s\nrevoked: %s", unknown, revoked)
	}
}

// ---------------------------------------------------------------------------
// RateLimit middleware tests
// ---------------------------------------------------------------------------

func TestRateLimitRejectsWithJSONEnvelope(t *testing.T) {
	handler := RateLimit(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/v1/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:55555"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	if rr := send(); rr.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rr.Code)
	}

	rr := send()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode 429 body: %v", err)
	}
	if resp.Error.Code != http.StatusTooManyRequests || resp.Error.Message == "" {
		t.Errorf("error envelope = %+v", resp.Error)
	}
}

// ---------------------------------------------------------------------------
// GetPrincipal tests
// ---------------------------------------------------------------------------

func TestGetPrincipalWithValue(t *testing.T) {
	expected := &service.Principal{UserID: 42, Kind: service.KindSession}
	ctx := context.WithValue(context.Background(), AuthPrincipalKey, expected)

	got := GetPrincipal(ctx)
	if got == nil {
		t.Fatal("expected non-nil principal")
	}
	if got.UserID != 42 {
		t.Errorf("expected UserID 42, got %d", got.UserID)
	}
}

func TestGetPrincipalWithoutValue(t *testing.T) {
	got := GetPrincipal(context.Background())
	if got != nil {
		t.Error("expected nil principal from bare context")
	}
}
