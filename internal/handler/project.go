package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/server/middleware"
	"github.com/keygate/keygate/internal/service"
)

// ProjectHandler serves project CRUD and membership endpoints.
type ProjectHandler struct {
	projectSvc *service.ProjectService
}

// NewProjectHandler creates a new ProjectHandler.
func NewProjectHandler(projectSvc *service.ProjectService) *ProjectHandler {
	return &ProjectHandler{projectSvc: projectSvc}
}

// createProjectRequest is the expected payload for CreateProject.
type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateProject creates a project.
// POST /api/v1/projects
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	project, err := h.projectSvc.CreateProject(r.Context(), req.Name, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidName):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrNameConflict):
			writeError(w, http.StatusConflict, "A project with this name already exists")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to create project: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, project)
}

// ListProjects returns projects. The is_active query parameter filters by
// active state when present.
// GET /api/v1/projects
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r)
	isActive := queryBoolPtr(r, "is_active")

	projects, total, err := h.projectSvc.ListProjects(r.Context(), skip, limit, isActive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list projects: "+err.Error())
		return
	}

	items := make([]map[string]interface{}, 0, len(projects))
	for i := range projects {
		items = append(items, projectToMap(&projects[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Items: items,
		Total: total,
		Skip:  skip,
		Limit: limit,
	})
}

// GetProject returns a project by ID.
// GET /api/v1/projects/{projectID}
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "projectID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	project, err := h.projectSvc.GetProject(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get project: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, project)
}

// updateProjectRequest is the expected payload for UpdateProject. Absent
// fields are left unchanged.
type updateProjectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

// UpdateProject applies a partial update to a project.
// PATCH /api/v1/projects/{projectID}
func (h *ProjectHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "projectID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	var req updateProjectRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	project, err := h.projectSvc.UpdateProject(r.Context(), id, req.Name, req.Description, req.IsActive)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			writeError(w, http.StatusNotFound, "Project not found")
		case errors.Is(err, service.ErrInvalidName):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrNameConflict):
			writeError(w, http.StatusConflict, "A project with this name already exists")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to update project: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, project)
}

// DeleteProject removes a project and all grants attached to it.
// DELETE /api/v1/projects/{projectID}
func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "projectID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	if err := h.projectSvc.DeleteProject(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete project: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Project deleted",
	})
}

// assignUserRequest is the expected payload for AssignUser.
type assignUserRequest struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// AssignUser grants a user membership in the project.
// POST /api/v1/projects/{projectID}/users
func (h *ProjectHandler) AssignUser(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(chi.URLParam(r, "projectID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	var req assignUserRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	grant, err := h.projectSvc.AssignUser(r.Context(), req.UserID, projectID, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			writeError(w, http.StatusNotFound, "User or project not found")
		case errors.Is(err, service.ErrInvalidName):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrAlreadyGranted):
			writeError(w, http.StatusConflict, "User is already a member")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to assign user: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, grant)
}

// RemoveUser removes a user's membership from the project.
// DELETE /api/v1/projects/{projectID}/users/{userID}
func (h *ProjectHandler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(chi.URLParam(r, "projectID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}
	userID, ok := pathID(chi.URLParam(r, "userID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	if err := h.projectSvc.RemoveUser(r.Context(), userID, projectID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Membership not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to remove user: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Membership removed",
	})
}

// ListMyProjects returns the caller's project memberships.
// GET /api/v1/projects/mine
func (h *ProjectHandler) ListMyProjects(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	skip, limit := pagination(r)

	memberships, total, err := h.projectSvc.ListUserProjects(r.Context(), principal.UserID, skip, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list memberships: "+err.Error())
		return
	}

	items := make([]map[string]interface{}, 0, len(memberships))
	for i := range memberships {
		items = append(items, membershipToMap(&memberships[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Items: items,
		Total: total,
		Skip:  skip,
		Limit: limit,
	})
}

// ListProjectKeys returns the key grants attached to the project.
// GET /api/v1/projects/{projectID}/keys
func (h *ProjectHandler) ListProjectKeys(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(chi.URLParam(r, "projectID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}
	skip, limit := pagination(r)

	grants, total, err := h.projectSvc.ListProjectKeys(r.Context(), projectID, skip, limit)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to list project keys: "+err.Error())
		return
	}

	items := make([]map[string]interface{}, 0, len(grants))
	for i := range grants {
		items = append(items, keyGrantToMap(&grants[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Items: items,
		Total: total,
		Skip:  skip,
		Limit: limit,
	})
}

func projectToMap(p *model.Project) map[string]interface{} {
	return map[string]interface{}{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"is_active":   p.IsActive,
		"created_at":  p.CreatedAt,
		"updated_at":  p.UpdatedAt,
	}
}

func membershipToMap(m *model.UserProject) map[string]interface{} {
	return map[string]interface{}{
		"id":         m.ID,
		"user_id":    m.UserID,
		"project_id": m.ProjectID,
		"role":       m.Role,
		"created_at": m.CreatedAt,
	}
}
