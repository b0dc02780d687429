package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keygate/keygate/internal/model"
)

func TestProjectCRUD(t *testing.T) {
	store := newTestStore(t)
	projects := NewProjectService(store)
	ctx := context.Background()

	p, err := projects.CreateProject(ctx, "billing", "invoice pipeline")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if !p.IsActive {
		t.Error("new project not active")
	}

	if _, err := projects.CreateProject(ctx, "billing", ""); !errors.Is(err, ErrNameConflict) {
		t.Fatalf("duplicate project: got %v, want ErrNameConflict", err)
	}
	if _, err := projects.CreateProject(ctx, "", ""); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("empty name: got %v, want ErrInvalidName", err)
	}

	newName := "billing-v2"
	inactive := false
	updated, err := projects.UpdateProject(ctx, p.ID, &newName, nil, &inactive)
	if err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}
	if updated.Name != "billing-v2" || updated.IsActive {
		t.Errorf("updated = %+v", updated)
	}

	got, err := projects.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Description != "invoice pipeline" {
		t.Errorf("description changed unexpectedly: %q", got.Description)
	}

	if err := projects.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if _, err := projects.GetProject(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: got %v, want ErrNotFound", err)
	}
	if err := projects.DeleteProject(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestListProjectsFilter(t *testing.T) {
	store := newTestStore(t)
	projects := NewProjectService(store)
	ctx := context.Background()

	a, err := projects.CreateProject(ctx, "alpha", "")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := projects.CreateProject(ctx, "beta", ""); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	inactive := false
	if _, err := projects.UpdateProject(ctx, a.ID, nil, nil, &inactive); err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}

	_, total, err := projects.ListProjects(ctx, 0, 50, nil)
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if total != 2 {
		t.Errorf("unfiltered total = %d, want 2", total)
	}

	active := true
	got, total, err := projects.ListProjects(ctx, 0, 50, &active)
	if err != nil {
		t.Fatalf("ListProjects(active): %v", err)
	}
	if total != 1 || len(got) != 1 || got[0].Name != "beta" {
		t.Errorf("active filter: total=%d items=%+v", total, got)
	}
}

func TestUserProjectMembership(t *testing.T) {
	store := newTestStore(t)
	projects := NewProjectService(store)
	ctx := context.Background()

	userID := newTestUser(t, store, "alice@example.com")
	p, err := projects.CreateProject(ctx, "billing", "")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	grant, err := projects.AssignUser(ctx, userID, p.ID, model.RoleOwner)
	if err != nil {
		t.Fatalf("AssignUser: %v", err)
	}
	if grant.Role != model.RoleOwner {
		t.Errorf("role = %q, want owner", grant.Role)
	}

	if _, err := projects.AssignUser(ctx, userID, p.ID, model.RoleMember); !errors.Is(err, ErrAlreadyGranted) {
		t.Errorf("duplicate membership: got %v, want ErrAlreadyGranted", err)
	}
	if _, err := projects.AssignUser(ctx, userID, p.ID+999, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown project: got %v, want ErrNotFound", err)
	}
	if _, err := projects.AssignUser(ctx, userID+999, p.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown user: got %v, want ErrNotFound", err)
	}
	if _, err := projects.AssignUser(ctx, userID, p.ID, "admin"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("unknown role: got %v, want ErrInvalidName", err)
	}

	memberships, total, err := projects.ListUserProjects(ctx, userID, 0, 50)
	if err != nil {
		t.Fatalf("ListUserProjects: %v", err)
	}
	if total != 1 || len(memberships) != 1 || memberships[0].ProjectID != p.ID {
		t.Errorf("memberships = %+v total=%d", memberships, total)
	}

	if err := projects.RemoveUser(ctx, userID, p.ID); err != nil {
		t.Fatalf("RemoveUser: %v", err)
	}
	if err := projects.RemoveUser(ctx, userID, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove: got %v, want ErrNotFound", err)
	}
}

func TestKeyProjectGrants(t *testing.T) {
	store := newTestStore(t)
	projects := NewProjectService(store)
	keys := NewKeyService(store, 90)
	ctx := context.Background()

	alice := newTestUser(t, store, "alice@example.com")
	bob := newTestUser(t, store, "bob@example.com")
	p, err := projects.CreateProject(ctx, "billing", "")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	key, _, err := keys.CreateKey(ctx, alice, "ci-bot", 30)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	if _, err := projects.AssignKey(ctx, alice, key.ID, p.ID); err != nil {
		t.Fatalf("AssignKey: %v", err)
	}
	if _, err := projects.AssignKey(ctx, alice, key.ID, p.ID); !errors.Is(err, ErrAlreadyGranted) {
		t.Errorf("duplicate grant: got %v, want ErrAlreadyGranted", err)
	}
	if _, err := projects.AssignKey(ctx, bob, key.ID, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("grant on other user's key: got %v, want ErrNotFound", err)
	}

	grants, err := projects.ListKeyProjects(ctx, alice, key.ID)
	if err != nil {
		t.Fatalf("ListKeyProjects: %v", err)
	}
	if len(grants) != 1 || grants[0].ProjectID != p.ID {
		t.Errorf("grants = %+v", grants)
	}

	keyGrants, total, err := projects.ListProjectKeys(ctx, p.ID, 0, 50)
	if err != nil {
		t.Fatalf("ListProjectKeys: %v", err)
	}
	if total != 1 || len(keyGrants) != 1 || keyGrants[0].APIKeyID != key.ID {
		t.Errorf("project keys = %+v total=%d", keyGrants, total)
	}

	ok, err := projects.KeyHasAccess(ctx, key.ID, p.ID)
	if err != nil {
		t.Fatalf("KeyHasAccess: %v", err)
	}
	if !ok {
		t.Error("active granted key should have access")
	}

	if err := projects.RemoveKey(ctx, alice, key.ID, p.ID); err != nil {
		t.Fatalf("RemoveKey: %v", err)
	}
	ok, err = projects.KeyHasAccess(ctx, key.ID, p.ID)
	if err != nil {
		t.Fatalf("KeyHasAccess: %v", err)
	}
	if ok {
		t.Error("removed grant still confers access")
	}
}

func TestKeyProjectGrantsAfterRevocation(t *testing.T) {
	store := newTestStore(t)
	projects := NewProjectService(store)
	keys := NewKeyService(store, 90)
	ctx := context.Background()

	userID := newTestUser(t, store, "alice@example.com")
	p, err := projects.CreateProject(ctx, "billing", "")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	key, _, err := keys.CreateKey(ctx, userID, "ci-bot", 30)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if _, err := projects.AssignKey(ctx, userID, key.ID, p.ID); err != nil {
		t.Fatalf("AssignKey: %v", err)
	}
	if err := keys.RevokeKey(ctx, userID, key.ID); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}

	// Grants survive revocation and remain listable, but stop conferring
	// access.
	grants, err := projects.ListKeyProjects(ctx, userID, key.ID)
	if err != nil {
		t.Fatalf("ListKeyProjects: %v", err)
	}
	if len(grants) != 1 {
		t.Errorf("grants = %+v, want 1", grants)
	}
	ok, err := projects.KeyHasAccess(ctx, key.ID, p.ID)
	if err != nil {
		t.Fatalf("KeyHasAccess: %v", err)
	}
	if ok {
		t.Error("revoked key still has access")
	}

	// New grants to a revoked key are rejected; existing ones can still be
	// removed.
	p2, err := projects.CreateProject(ctx, "analytics", "")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := projects.AssignKey(ctx, userID, key.ID, p2.ID); !errors.Is(err, ErrAlreadyRevoked) {
		t.Errorf("grant to revoked key: got %v, want ErrAlreadyRevoked", err)
	}
	if err := projects.RemoveKey(ctx, userID, key.ID, p.ID); err != nil {
		t.Errorf("RemoveKey on revoked key: %v", err)
	}
}

func TestKeyHasAccessExpiry(t *testing.T) {
	store := newTestStore(t)
	projects := NewProjectService(store)
	keys := NewKeyService(store, 90)
	ctx := context.Background()

	userID := newTestUser(t, store, "alice@example.com")
	p, err := projects.CreateProject(ctx, "billing", "")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	key, _, err := keys.CreateKey(ctx, userID, "ci-bot", 1)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if _, err := projects.AssignKey(ctx, userID, key.ID, p.ID); err != nil {
		t.Fatalf("AssignKey: %v", err)
	}

	if err := store.UpdateAPIKeyExpiry(ctx, key.ID, time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatalf("UpdateAPIKeyExpiry: %v", err)
	}
	ok, err := projects.KeyHasAccess(ctx, key.ID, p.ID)
	if err != nil {
		t.Fatalf("KeyHasAccess: %v", err)
	}
	if ok {
		t.Error("expired key still has access")
	}
}

func TestDeleteProjectCascadesGrants(t *testing.T) {
	store := newTestStore(t)
	projects := NewProjectService(store)
	keys := NewKeyService(store, 90)
	ctx := context.Background()

	userID := newTestUser(t, store, "alice@example.com")
	p, err := projects.CreateProject(ctx, "billing", "")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	key, _, err := keys.CreateKey(ctx, userID, "ci-bot", 30)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if _, err := projects.AssignUser(ctx, userID, p.ID, ""); err != nil {
		t.Fatalf("AssignUser: %v", err)
	}
	if _, err := projects.AssignKey(ctx, userID, key.ID, p.ID); err != nil {
		t.Fatalf("AssignKey: %v", err)
	}

	if err := projects.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}

	grants, err := projects.ListKeyProjects(ctx, userID, key.ID)
	if err != nil {
		t.Fatalf("ListKeyProjects: %v", err)
	}
	if len(grants) != 0 {
		t.Errorf("grants survived project delete: %+v", grants)
	}
	memberships, _, err := projects.ListUserProjects(ctx, userID, 0, 50)
	if err != nil {
		t.Fatalf("ListUserProjects: %v", err)
	}
	if len(memberships) != 0 {
		t.Errorf("memberships survived project delete: %+v", memberships)
	}
}
