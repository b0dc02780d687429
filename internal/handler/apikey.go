package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/server/middleware"
	"github.com/keygate/keygate/internal/service"
)

// KeyHandler serves API key lifecycle endpoints. All endpoints operate on
// the authenticated principal's own keys.
type KeyHandler struct {
	keySvc     *service.KeyService
	projectSvc *service.ProjectService
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(keySvc *service.KeyService, projectSvc *service.ProjectService) *KeyHandler {
	return &KeyHandler{keySvc: keySvc, projectSvc: projectSvc}
}

// createKeyRequest is the expected payload for CreateKey. ExpiresInDays is
// a pointer so an omitted field (use the configured default) is
// distinguishable from an explicit 0 (rejected as out of range).
type createKeyRequest struct {
	Name          string `json:"name"`
	ExpiresInDays *int   `json:"expires_in_days"`
}

// createKeyResponse includes the plaintext secret (shown once only).
type createKeyResponse struct {
	ID        int64     `json:"id"`
	Key       string    `json:"api_key"` // Plaintext, shown ONCE.
	KeyPrefix string    `json:"key_prefix"`
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateKey mints a new API key for the caller and returns the plaintext
// secret exactly once.
// POST /api/v1/auth/tokens
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	days := h.keySvc.DefaultExpiryDays()
	if req.ExpiresInDays != nil {
		days = *req.ExpiresInDays
	}

	key, secret, err := h.keySvc.CreateKey(r.Context(), principal.UserID, req.Name, days)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidName):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrInvalidRange):
			writeError(w, http.StatusBadRequest, "expires_in_days must be between 1 and 27000")
		case errors.Is(err, service.ErrNameConflict):
			writeError(w, http.StatusConflict, "An active key with this name already exists")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to create key: "+err.Error())
		}
		return
	}

	// Return the plaintext secret. This is the ONLY time it will be visible.
	writeJSON(w, http.StatusCreated, createKeyResponse{
		ID:        key.ID,
		Key:       secret,
		KeyPrefix: key.KeyPrefix,
		Name:      key.Name,
		ExpiresAt: key.ExpiresAt,
		CreatedAt: key.CreatedAt,
	})
}

// ListKeys returns the caller's keys, newest first.
// GET /api/v1/auth/tokens
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	skip, limit := pagination(r)

	keys, total, err := h.keySvc.ListKeys(r.Context(), principal.UserID, skip, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list keys: "+err.Error())
		return
	}

	now := time.Now().UTC()
	items := make([]map[string]interface{}, 0, len(keys))
	for i := range keys {
		items = append(items, keyToMap(&keys[i], now))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Items: items,
		Total: total,
		Skip:  skip,
		Limit: limit,
	})
}

// GetKey returns one of the caller's keys by ID.
// GET /api/v1/auth/tokens/{keyID}
func (h *KeyHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	id, ok := pathID(chi.URLParam(r, "keyID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}

	key, err := h.keySvc.GetKey(r.Context(), principal.UserID, id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, keyToMap(key, time.Now().UTC()))
}

// updateKeyRequest is the expected payload for UpdateKey.
type updateKeyRequest struct {
	ExpiresInDays int `json:"expires_in_days"`
}

// UpdateKey replaces the key's expiry with now + expires_in_days.
// PATCH /api/v1/auth/tokens/{keyID}
func (h *KeyHandler) UpdateKey(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	id, ok := pathID(chi.URLParam(r, "keyID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}

	var req updateKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	key, err := h.keySvc.UpdateKeyExpiry(r.Context(), principal.UserID, id, req.ExpiresInDays)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRange):
			writeError(w, http.StatusBadRequest, "expires_in_days must be between 1 and 27000")
		case errors.Is(err, service.ErrNotFound):
			writeError(w, http.StatusNotFound, "Key not found")
		case errors.Is(err, service.ErrAlreadyRevoked):
			writeError(w, http.StatusConflict, "Key has been revoked")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to update key: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, keyToMap(key, time.Now().UTC()))
}

// RevokeKey permanently disables the key. Revoking twice succeeds.
// DELETE /api/v1/auth/tokens/{keyID}
func (h *KeyHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	id, ok := pathID(chi.URLParam(r, "keyID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}

	if err := h.keySvc.RevokeKey(r.Context(), principal.UserID, id); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to revoke key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key revoked",
	})
}

// ListKeyProjects returns the project grants held by one of the caller's
// keys. Grants on revoked keys remain visible.
// GET /api/v1/auth/tokens/{keyID}/projects
func (h *KeyHandler) ListKeyProjects(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	id, ok := pathID(chi.URLParam(r, "keyID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}

	grants, err := h.projectSvc.ListKeyProjects(r.Context(), principal.UserID, id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to list grants: "+err.Error())
		return
	}

	items := make([]map[string]interface{}, 0, len(grants))
	for i := range grants {
		items = append(items, keyGrantToMap(&grants[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Items: items,
		Total: int64(len(items)),
		Skip:  0,
		Limit: len(items),
	})
}

// AssignKeyProject grants the key access to a project.
// POST /api/v1/auth/tokens/{keyID}/projects/{projectID}
func (h *KeyHandler) AssignKeyProject(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	keyID, ok := pathID(chi.URLParam(r, "keyID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}
	projectID, ok := pathID(chi.URLParam(r, "projectID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	grant, err := h.projectSvc.AssignKey(r.Context(), principal.UserID, keyID, projectID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			writeError(w, http.StatusNotFound, "Key or project not found")
		case errors.Is(err, service.ErrAlreadyRevoked):
			writeError(w, http.StatusConflict, "Key has been revoked")
		case errors.Is(err, service.ErrAlreadyGranted):
			writeError(w, http.StatusConflict, "Grant already exists")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to assign project: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, keyGrantToMap(grant))
}

// RemoveKeyProject removes the key's access grant to a project.
// DELETE /api/v1/auth/tokens/{keyID}/projects/{projectID}
func (h *KeyHandler) RemoveKeyProject(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	keyID, ok := pathID(chi.URLParam(r, "keyID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}
	projectID, ok := pathID(chi.URLParam(r, "projectID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	if err := h.projectSvc.RemoveKey(r.Context(), principal.UserID, keyID, projectID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Grant not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to remove grant: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Grant removed",
	})
}

// ---------------------------------------------------------------------------
// Serialization helpers (the key hash is never exposed)
// ---------------------------------------------------------------------------

func keyToMap(key *model.APIKey, now time.Time) map[string]interface{} {
	m := map[string]interface{}{
		"id":         key.ID,
		"name":       key.Name,
		"key_prefix": key.KeyPrefix,
		"revoked":    key.Revoked,
		"state":      string(key.State(now)),
		"expires_at": key.ExpiresAt,
		"created_at": key.CreatedAt,
	}
	if key.LastUsedAt != nil {
		m["last_used_at"] = key.LastUsedAt
	}
	return m
}

func keyGrantToMap(grant *model.APIKeyProject) map[string]interface{} {
	return map[string]interface{}{
		"id":         grant.ID,
		"api_key_id": grant.APIKeyID,
		"project_id": grant.ProjectID,
		"created_at": grant.CreatedAt,
	}
}
