package model

import "time"

// Project is a named resource container to which users and API keys can
// be granted scoped access.
type Project struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// UserProject is an authorization edge linking a user to a project with
// a role.
type UserProject struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	ProjectID int64     `json:"project_id" db:"project_id"`
	Role      string    `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// APIKeyProject is an authorization edge linking an API key to a project.
// A key's grants are independent of its owner's grants — a key may be
// narrower than the user that created it.
type APIKeyProject struct {
	ID        int64     `json:"id" db:"id"`
	APIKeyID  int64     `json:"api_key_id" db:"api_key_id"`
	ProjectID int64     `json:"project_id" db:"project_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Project role constants for user-project grants.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
	RoleViewer = "viewer"
)
