package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/model"
)

// CredentialKind tags the two bearer credential families. The kind is
// resolved once at the start of validation and all later logic branches on
// the tag.
type CredentialKind string

const (
	KindSession CredentialKind = "session"
	KindAPIKey  CredentialKind = "api_key"
)

// KeySecretPrefix is the literal prefix of every API key secret. It lets
// the validator determine the credential kind without a store lookup.
const KeySecretPrefix = "sk-"

// KindOf returns the credential kind of a raw bearer value.
func KindOf(bearer string) CredentialKind {
	if strings.HasPrefix(bearer, KeySecretPrefix) {
		return KindAPIKey
	}
	return KindSession
}

// Principal is the resolved identity behind a validated bearer credential.
// KeyID is zero for session credentials.
type Principal struct {
	UserID int64
	Kind   CredentialKind
	KeyID  int64
}

// AuthService issues session tokens, authenticates passwords, and resolves
// inbound bearer values to principals.
type AuthService struct {
	store      *config.Store
	jwtSecret  []byte
	sessionTTL time.Duration
}

// NewAuthService creates an AuthService. sessionTTL bounds the lifetime of
// issued session tokens.
func NewAuthService(store *config.Store, jwtSecret string, sessionTTL time.Duration) *AuthService {
	return &AuthService{
		store:      store,
		jwtSecret:  []byte(jwtSecret),
		sessionTTL: sessionTTL,
	}
}

// Register creates a new user account with a bcrypt password hash.
// Returns ErrNameConflict if the email is already registered.
func (s *AuthService) Register(ctx context.Context, email, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	user := &model.User{Email: email, PasswordHash: string(hash), IsActive: true}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, config.ErrConflict) {
			return 0, ErrNameConflict
		}
		return 0, err
	}
	return user.ID, nil
}

// Login verifies an email/password pair and issues a session token.
// Returns ErrInvalidCredentials on any mismatch, without distinguishing an
// unknown email from a wrong password.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, time.Time, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return "", time.Time{}, ErrInvalidCredentials
		}
		return "", time.Time{}, err
	}

	if !user.IsActive {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	token, expiresAt, err := s.IssueSession(ctx, user.ID)
	if err != nil {
		return "", time.Time{}, err
	}

	// Best effort; a failed timestamp write must not fail the login.
	_ = s.store.UpdateUserLastLogin(ctx, user.ID)

	return token, expiresAt, nil
}

// IssueSession mints a signed session token for the given user. Sessions
// are stateless: validity is purely time-bound and signature-bound, and no
// record is stored server-side.
func (s *AuthService) IssueSession(ctx context.Context, userID int64) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.sessionTTL)

	claims := sessionClaims{
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "keygate",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateBearer resolves a raw bearer value to a principal. The credential
// kind is dispatched once on the secret prefix: API keys are looked up by
// hash in the store, session tokens are verified locally with no store
// round-trip.
func (s *AuthService) ValidateBearer(ctx context.Context, bearer string) (*Principal, error) {
	switch KindOf(bearer) {
	case KindAPIKey:
		return s.validateAPIKey(ctx, bearer)
	default:
		return s.validateSession(bearer)
	}
}

func (s *AuthService) validateAPIKey(ctx context.Context, secret string) (*Principal, error) {
	hash := config.HashSecret(secret)

	key, err := s.store.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}

	// Revocation is checked before expiry so a key that is both reports
	// the terminal persisted state.
	if key.Revoked {
		return nil, ErrCredentialRevoked
	}
	if !time.Now().UTC().Before(key.ExpiresAt) {
		return nil, ErrCredentialExpired
	}

	// A missing or deactivated owner makes the credential invalid; any
	// other store failure is surfaced as-is so it reaches the 500 path.
	user, err := s.store.GetUser(ctx, key.UserID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrCredentialNotFound
	}

	// Update last used timestamp (fire and forget).
	go s.store.UpdateAPIKeyLastUsed(context.Background(), key.ID)

	return &Principal{UserID: key.UserID, Kind: KindAPIKey, KeyID: key.ID}, nil
}

func (s *AuthService) validateSession(tokenStr string) (*Principal, error) {
	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrCredentialExpired
		}
		return nil, ErrCredentialMalformed
	}
	if !token.Valid || claims.Type != "access" {
		return nil, ErrCredentialMalformed
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrCredentialMalformed
	}

	return &Principal{UserID: userID, Kind: KindSession}, nil
}

type sessionClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}
