package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/model"
)

// MaxProjectNameLen caps project names at the same length as key names.
const MaxProjectNameLen = 100

// ProjectService manages projects and the membership edges linking users
// and API keys to them.
type ProjectService struct {
	store *config.Store
}

// NewProjectService creates a ProjectService.
func NewProjectService(store *config.Store) *ProjectService {
	return &ProjectService{store: store}
}

// CreateProject creates a project. Returns ErrNameConflict if the name is
// taken.
func (s *ProjectService) CreateProject(ctx context.Context, name, description string) (*model.Project, error) {
	if err := validateProjectName(name); err != nil {
		return nil, err
	}

	project := &model.Project{Name: name, Description: description, IsActive: true}
	if err := s.store.CreateProject(ctx, project); err != nil {
		if errors.Is(err, config.ErrConflict) {
			return nil, ErrNameConflict
		}
		return nil, err
	}
	return project, nil
}

// GetProject returns a project by ID.
func (s *ProjectService) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	project, err := s.store.GetProject(ctx, id)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return project, nil
}

// ListProjects returns projects with the total count. isActive filters by
// active state when non-nil.
func (s *ProjectService) ListProjects(ctx context.Context, skip, limit int, isActive *bool) ([]model.Project, int64, error) {
	return s.store.ListProjects(ctx, skip, limit, isActive)
}

// UpdateProject applies non-nil fields to the project.
func (s *ProjectService) UpdateProject(ctx context.Context, id int64, name, description *string, isActive *bool) (*model.Project, error) {
	project, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	if name != nil {
		if err := validateProjectName(*name); err != nil {
			return nil, err
		}
		project.Name = *name
	}
	if description != nil {
		project.Description = *description
	}
	if isActive != nil {
		project.IsActive = *isActive
	}

	if err := s.store.UpdateProject(ctx, project); err != nil {
		if errors.Is(err, config.ErrConflict) {
			return nil, ErrNameConflict
		}
		return nil, err
	}
	return project, nil
}

// DeleteProject removes a project and, via cascade, all its user and key
// grants.
func (s *ProjectService) DeleteProject(ctx context.Context, id int64) error {
	if err := s.store.DeleteProject(ctx, id); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// AssignUser grants a user membership in a project with the given role.
// Returns ErrAlreadyGranted if the membership already exists.
func (s *ProjectService) AssignUser(ctx context.Context, userID, projectID int64, role string) (*model.UserProject, error) {
	if role == "" {
		role = model.RoleMember
	}
	if role != model.RoleOwner && role != model.RoleMember && role != model.RoleViewer {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidName, role)
	}
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	grant := &model.UserProject{UserID: userID, ProjectID: projectID, Role: role}
	if err := s.store.CreateUserProject(ctx, grant); err != nil {
		if errors.Is(err, config.ErrConflict) {
			return nil, ErrAlreadyGranted
		}
		return nil, err
	}
	return grant, nil
}

// RemoveUser removes a user's membership from a project.
func (s *ProjectService) RemoveUser(ctx context.Context, userID, projectID int64) error {
	if err := s.store.DeleteUserProject(ctx, userID, projectID); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// ListUserProjects returns a user's project memberships with the total
// count.
func (s *ProjectService) ListUserProjects(ctx context.Context, userID int64, skip, limit int) ([]model.UserProject, int64, error) {
	return s.store.ListUserProjects(ctx, userID, skip, limit)
}

// AssignKey grants an API key access to a project. The key must belong to
// the calling user and must not be revoked; granting to a revoked key is
// rejected with ErrAlreadyRevoked. Returns ErrAlreadyGranted if the grant
// already exists.
func (s *ProjectService) AssignKey(ctx context.Context, userID, keyID, projectID int64) (*model.APIKeyProject, error) {
	key, err := s.ownedKey(ctx, userID, keyID)
	if err != nil {
		return nil, err
	}
	if key.Revoked {
		return nil, ErrAlreadyRevoked
	}
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	grant := &model.APIKeyProject{APIKeyID: keyID, ProjectID: projectID}
	if err := s.store.CreateAPIKeyProject(ctx, grant); err != nil {
		if errors.Is(err, config.ErrConflict) {
			return nil, ErrAlreadyGranted
		}
		return nil, err
	}
	return grant, nil
}

// RemoveKey removes an API key's access grant to a project. The key must
// belong to the calling user. Grants on revoked keys can still be removed.
func (s *ProjectService) RemoveKey(ctx context.Context, userID, keyID, projectID int64) error {
	if _, err := s.ownedKey(ctx, userID, keyID); err != nil {
		return err
	}
	if err := s.store.DeleteAPIKeyProject(ctx, keyID, projectID); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// ListKeyProjects returns the project grants held by one of the user's
// keys. Grants survive revocation, so a revoked key's grants remain
// listable even though they no longer confer access.
func (s *ProjectService) ListKeyProjects(ctx context.Context, userID, keyID int64) ([]model.APIKeyProject, error) {
	if _, err := s.ownedKey(ctx, userID, keyID); err != nil {
		return nil, err
	}
	return s.store.ListAPIKeyProjects(ctx, keyID)
}

// ListProjectKeys returns the key grants attached to a project.
func (s *ProjectService) ListProjectKeys(ctx context.Context, projectID int64, skip, limit int) ([]model.APIKeyProject, int64, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, 0, err
	}
	return s.store.ListProjectAPIKeys(ctx, projectID, skip, limit)
}

// KeyHasAccess reports whether the key currently grants access to the
// project: the grant edge must exist and the key must be neither revoked
// nor expired.
func (s *ProjectService) KeyHasAccess(ctx context.Context, keyID, projectID int64) (bool, error) {
	if _, err := s.store.GetAPIKeyProject(ctx, keyID, projectID); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	key, err := s.store.GetAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return key.State(time.Now().UTC()) == model.KeyActive, nil
}

func (s *ProjectService) ownedKey(ctx context.Context, userID, keyID int64) (*model.APIKey, error) {
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

func validateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > MaxProjectNameLen {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, MaxProjectNameLen)
	}
	return nil
}
