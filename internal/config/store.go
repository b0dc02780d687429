package config

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/keygate/keygate/internal/model"
)

// Supported store backends.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is the persistent record store for users, API keys, projects, and
// grants. It is backed by SQLite (embedded, the default) or Postgres.
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore opens the record store. For the sqlite driver, dsn is a data
// directory (empty string for in-memory); for postgres it is a connection
// URL.
func NewStore(driver, dsn string) (*Store, error) {
	var db *sqlx.DB
	var err error

	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
		if dsn == "" {
			dsn = ":memory:?_journal_mode=WAL"
		} else {
			if err := os.MkdirAll(dsn, 0755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn = filepath.Join(dsn, "keygate.db") + "?_journal_mode=WAL&_busy_timeout=5000"
		}
		db, err = sqlx.Connect("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	case DriverPostgres:
		db, err = sqlx.Connect("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", driver)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind converts "?" placeholders to the backend's bind variable syntax
// ($1, $2, ... on Postgres; unchanged on SQLite).
func (s *Store) rebind(q string) string {
	return s.db.Rebind(q)
}

// namedInsert executes a named INSERT and returns the new row's id.
// Postgres has no LastInsertId, so the query gains a RETURNING clause there.
func (s *Store) namedInsert(ctx context.Context, q string, arg interface{}) (int64, error) {
	if s.driver == DriverPostgres {
		rows, err := s.db.NamedQueryContext(ctx, q+" RETURNING id", arg)
		if err != nil {
			return 0, err
		}
		defer rows.Close()
		var id int64
		if !rows.Next() {
			return 0, sql.ErrNoRows
		}
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		return id, rows.Err()
	}

	result, err := s.db.NamedExecContext(ctx, q, arg)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// isUniqueViolation reports whether err is a uniqueness constraint failure
// from either backend.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint failed")
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user. The password_hash must already be set.
// Returns ErrConflict if the email is already registered. The ID, CreatedAt,
// and UpdatedAt fields on user are populated after a successful insert.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	const q = `INSERT INTO users (email, password_hash, is_active, is_superuser, created_at, updated_at)
		VALUES (:email, :password_hash, :is_active, :is_superuser, :created_at, :updated_at)`

	id, err := s.namedInsert(ctx, q, user)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	user.ID = id
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, s.rebind("SELECT * FROM users WHERE id = ?"), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// GetUserByEmail returns a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, s.rebind("SELECT * FROM users WHERE email = ?"), email); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &user, nil
}

// ListUsers returns all user accounts.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// HasAnyUser reports whether at least one user account exists. Used for
// first-run detection at startup.
func (s *Store) HasAnyUser(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users"); err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// UpdateUserLastLogin sets the last_login_at timestamp for a user.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?"), now, now, id)
	if err != nil {
		return fmt.Errorf("update user last login: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user last login rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key record. The key_hash must already be
// set (use HashSecret). Name uniqueness per owner is enforced by a partial
// unique index over non-revoked keys; a violation returns ErrConflict.
// The ID and CreatedAt fields are populated after a successful insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO api_keys
		(user_id, name, key_hash, key_prefix, revoked, expires_at, created_at)
		VALUES
		(:user_id, :name, :key_hash, :key_prefix, :revoked, :expires_at, :created_at)`

	id, err := s.namedInsert(ctx, q, key)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	key.ID = id
	return nil
}

// GetAPIKey returns an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, s.rebind("SELECT * FROM api_keys WHERE id = ?"), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, s.rebind("SELECT * FROM api_keys WHERE key_hash = ?"), hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &key, nil
}

// ListAPIKeysByUser returns a page of the user's API keys (newest first),
// including revoked and expired ones, along with the total count.
func (s *Store) ListAPIKeysByUser(ctx context.Context, userID int64, skip, limit int) ([]model.APIKey, int64, error) {
	var total int64
	if err := s.db.GetContext(ctx, &total,
		s.rebind("SELECT COUNT(*) FROM api_keys WHERE user_id = ?"), userID); err != nil {
		return nil, 0, fmt.Errorf("count api keys: %w", err)
	}

	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys,
		s.rebind("SELECT * FROM api_keys WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"),
		userID, limit, skip); err != nil {
		return nil, 0, fmt.Errorf("list api keys: %w", err)
	}
	return keys, total, nil
}

// UpdateAPIKeyExpiry sets a new expiry timestamp for an API key.
func (s *Store) UpdateAPIKeyExpiry(ctx context.Context, id int64, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE api_keys SET expires_at = ? WHERE id = ?"), expiresAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("update api key expiry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key expiry rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAPIKey marks an API key as revoked. The transition is one-way and
// idempotent: revoking an already-revoked key succeeds silently.
func (s *Store) RevokeAPIKey(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE api_keys SET revoked = ? WHERE id = ?"), true, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAPIKeyLastUsed sets the last_used_at timestamp for an API key.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE api_keys SET last_used_at = ? WHERE id = ?"), now, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key last used rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// KeyStats holds aggregate API key counts for the observational sweep.
type KeyStats struct {
	Total   int64
	Active  int64
	Expired int64
	Revoked int64
}

// APIKeyStats returns aggregate counts of keys by derived lifecycle state
// at the given instant. Expired counts only non-revoked keys whose expiry
// has passed.
func (s *Store) APIKeyStats(ctx context.Context, now time.Time) (KeyStats, error) {
	var stats KeyStats
	now = now.UTC()

	row := s.db.QueryRowxContext(ctx, s.rebind(`SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN NOT revoked AND expires_at > ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN NOT revoked AND expires_at <= ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN revoked THEN 1 ELSE 0 END), 0)
		FROM api_keys`), now, now)
	if err := row.Scan(&stats.Total, &stats.Active, &stats.Expired, &stats.Revoked); err != nil {
		return KeyStats{}, fmt.Errorf("api key stats: %w", err)
	}
	return stats, nil
}

// ---------------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------------

// CreateProject inserts a new project. Returns ErrConflict if the name is
// taken. The ID, CreatedAt, and UpdatedAt fields are populated after insert.
func (s *Store) CreateProject(ctx context.Context, project *model.Project) error {
	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now

	const q = `INSERT INTO projects (name, description, is_active, created_at, updated_at)
		VALUES (:name, :description, :is_active, :created_at, :updated_at)`

	id, err := s.namedInsert(ctx, q, project)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert project: %w", err)
	}
	project.ID = id
	return nil
}

// GetProject returns a project by ID.
func (s *Store) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	var project model.Project
	if err := s.db.GetContext(ctx, &project, s.rebind("SELECT * FROM projects WHERE id = ?"), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &project, nil
}

// ListProjects returns a page of projects and the total count. If isActive
// is non-nil, only projects with that active state are returned.
func (s *Store) ListProjects(ctx context.Context, skip, limit int, isActive *bool) ([]model.Project, int64, error) {
	where := ""
	args := []interface{}{}
	if isActive != nil {
		where = " WHERE is_active = ?"
		args = append(args, *isActive)
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, s.rebind("SELECT COUNT(*) FROM projects"+where), args...); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}

	var projects []model.Project
	args = append(args, limit, skip)
	if err := s.db.SelectContext(ctx, &projects,
		s.rebind("SELECT * FROM projects"+where+" ORDER BY name LIMIT ? OFFSET ?"), args...); err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	return projects, total, nil
}

// UpdateProject updates an existing project. The UpdatedAt field is
// refreshed automatically.
func (s *Store) UpdateProject(ctx context.Context, project *model.Project) error {
	project.UpdatedAt = time.Now().UTC()

	const q = `UPDATE projects SET
		name = :name, description = :description, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, project)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update project: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProject removes a project by ID. Associated grant rows are cascade
// deleted by the foreign key constraints.
func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM projects WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// User-project grants
// ---------------------------------------------------------------------------

// CreateUserProject inserts a user-to-project grant. Returns ErrConflict if
// the pair is already granted.
func (s *Store) CreateUserProject(ctx context.Context, grant *model.UserProject) error {
	grant.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO user_projects (user_id, project_id, role, created_at)
		VALUES (:user_id, :project_id, :role, :created_at)`

	id, err := s.namedInsert(ctx, q, grant)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user project: %w", err)
	}
	grant.ID = id
	return nil
}

// DeleteUserProject removes a user-to-project grant.
func (s *Store) DeleteUserProject(ctx context.Context, userID, projectID int64) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM user_projects WHERE user_id = ? AND project_id = ?"), userID, projectID)
	if err != nil {
		return fmt.Errorf("delete user project: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user project rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserProjects returns a page of a user's project grants and the total
// count.
func (s *Store) ListUserProjects(ctx context.Context, userID int64, skip, limit int) ([]model.UserProject, int64, error) {
	var total int64
	if err := s.db.GetContext(ctx, &total,
		s.rebind("SELECT COUNT(*) FROM user_projects WHERE user_id = ?"), userID); err != nil {
		return nil, 0, fmt.Errorf("count user projects: %w", err)
	}

	var grants []model.UserProject
	if err := s.db.SelectContext(ctx, &grants,
		s.rebind("SELECT * FROM user_projects WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"),
		userID, limit, skip); err != nil {
		return nil, 0, fmt.Errorf("list user projects: %w", err)
	}
	return grants, total, nil
}

// ---------------------------------------------------------------------------
// API-key-project grants
// ---------------------------------------------------------------------------

// CreateAPIKeyProject inserts a key-to-project grant. Returns ErrConflict
// if the pair is already granted.
func (s *Store) CreateAPIKeyProject(ctx context.Context, grant *model.APIKeyProject) error {
	grant.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO api_key_projects (api_key_id, project_id, created_at)
		VALUES (:api_key_id, :project_id, :created_at)`

	id, err := s.namedInsert(ctx, q, grant)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert api key project: %w", err)
	}
	grant.ID = id
	return nil
}

// DeleteAPIKeyProject removes a key-to-project grant.
func (s *Store) DeleteAPIKeyProject(ctx context.Context, apiKeyID, projectID int64) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM api_key_projects WHERE api_key_id = ? AND project_id = ?"), apiKeyID, projectID)
	if err != nil {
		return fmt.Errorf("delete api key project: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete api key project rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAPIKeyProject returns the grant edge for a (key, project) pair, or
// ErrNotFound if the key has no grant on the project.
func (s *Store) GetAPIKeyProject(ctx context.Context, apiKeyID, projectID int64) (*model.APIKeyProject, error) {
	var grant model.APIKeyProject
	if err := s.db.GetContext(ctx, &grant,
		s.rebind("SELECT * FROM api_key_projects WHERE api_key_id = ? AND project_id = ?"),
		apiKeyID, projectID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key project: %w", err)
	}
	return &grant, nil
}

// ListAPIKeyProjects returns all project grants held by an API key.
func (s *Store) ListAPIKeyProjects(ctx context.Context, apiKeyID int64) ([]model.APIKeyProject, error) {
	var grants []model.APIKeyProject
	if err := s.db.SelectContext(ctx, &grants,
		s.rebind("SELECT * FROM api_key_projects WHERE api_key_id = ? ORDER BY created_at DESC, id DESC"),
		apiKeyID); err != nil {
		return nil, fmt.Errorf("list api key projects: %w", err)
	}
	return grants, nil
}

// ListProjectAPIKeys returns a page of the key grants attached to a project
// and the total count.
func (s *Store) ListProjectAPIKeys(ctx context.Context, projectID int64, skip, limit int) ([]model.APIKeyProject, int64, error) {
	var total int64
	if err := s.db.GetContext(ctx, &total,
		s.rebind("SELECT COUNT(*) FROM api_key_projects WHERE project_id = ?"), projectID); err != nil {
		return nil, 0, fmt.Errorf("count project api keys: %w", err)
	}

	var grants []model.APIKeyProject
	if err := s.db.SelectContext(ctx, &grants,
		s.rebind("SELECT * FROM api_key_projects WHERE project_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"),
		projectID, limit, skip); err != nil {
		return nil, 0, fmt.Errorf("list project api keys: %w", err)
	}
	return grants, total, nil
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

// HashSecret returns the hex-encoded SHA-256 hash of a raw secret string.
// Used for API key secrets; raw values are never persisted.
func HashSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}
