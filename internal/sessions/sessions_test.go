package sessions

import (
	"context"
	"testing"

	"github.com/proliferate/automation-core/internal/database"
)

func TestBindSandboxRequiresSandboxBoundStatus(t *testing.T) {
	repo := database.NewMemoryRepository()
	r := NewRegistry(repo)
	s, err := r.Create(context.Background(), "org-1", "", "modal", database.ClientTypeWeb, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.BindSandbox(context.Background(), s, "sbx-1", database.SessionStatusCompleted); err == nil {
		t.Fatal("expected error binding sandbox to a non-bound status")
	}

	if err := r.BindSandbox(context.Background(), s, "sbx-1", database.SessionStatusRunning); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if s.SandboxID != "sbx-1" || s.Status != database.SessionStatusRunning {
		t.Fatalf("expected sandbox bound and status running, got %+v", s)
	}
}

func TestReleaseClearsSandbox(t *testing.T) {
	repo := database.NewMemoryRepository()
	r := NewRegistry(repo)
	s, _ := r.Create(context.Background(), "org-1", "", "modal", database.ClientTypeWeb, nil)
	if err := r.BindSandbox(context.Background(), s, "sbx-1", database.SessionStatusRunning); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if err := r.Release(context.Background(), s, database.SessionStatusCompleted, ""); err != nil {
		t.Fatalf("release: %v", err)
	}
	if s.SandboxID != "" {
		t.Fatalf("expected sandbox cleared on release, got %q", s.SandboxID)
	}
}

func TestRequireOwnershipRejectsCrossOrgAccess(t *testing.T) {
	s := &database.Session{ID: "s1", OrganizationID: "org-1"}
	if err := RequireOwnership(s, "org-2"); err == nil {
		t.Fatal("expected forbidden error for cross-org access")
	}
	if err := RequireOwnership(s, "org-1"); err != nil {
		t.Fatalf("expected no error for matching org, got %v", err)
	}
}
