package actions

import (
	"context"
	"testing"
	"time"

	"github.com/proliferate/automation-core/internal/database"
	"github.com/proliferate/automation-core/internal/errs"
)

type fakeAdapter struct {
	result []byte
	err    error
}

func (f *fakeAdapter) Execute(ctx context.Context, inv *database.ActionInvocation, token string) ([]byte, error) {
	return f.result, f.err
}

func seedInvocation(t *testing.T, repo database.Repository, ttl time.Duration) *Engine {
	t.Helper()
	adapters := AdapterRegistry{"linear": &fakeAdapter{result: []byte(`{"ok":true}`)}}
	return NewEngine(repo, adapters)
}

func TestApproveExecutesAtomicallyToCompleted(t *testing.T) {
	repo := database.NewMemoryRepository()
	e := seedInvocation(t, repo, time.Hour)

	inv, err := e.Create(context.Background(), "sess-1", "org-1", "", "linear", "create_issue", database.RiskLevelWrite, []byte(`{}`), time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inv.Status != database.ActionStatusPending {
		t.Fatalf("expected pending, got %s", inv.Status)
	}

	approved, err := e.Approve(context.Background(), inv.ID, "org-1", "user-1", RoleOwner, nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != database.ActionStatusCompleted {
		t.Fatalf("expected completed after atomic approve→execute, got %s", approved.Status)
	}
}

func TestApproveRejectsInsufficientRole(t *testing.T) {
	repo := database.NewMemoryRepository()
	e := seedInvocation(t, repo, time.Hour)
	inv, _ := e.Create(context.Background(), "sess-1", "org-1", "", "linear", "create_issue", database.RiskLevelWrite, []byte(`{}`), time.Hour)

	_, err := e.Approve(context.Background(), inv.ID, "org-1", "user-1", RoleMember, nil)
	if err != errs.ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestApproveTwiceConflicts(t *testing.T) {
	repo := database.NewMemoryRepository()
	e := seedInvocation(t, repo, time.Hour)
	inv, _ := e.Create(context.Background(), "sess-1", "org-1", "", "linear", "create_issue", database.RiskLevelWrite, []byte(`{}`), time.Hour)

	if _, err := e.Approve(context.Background(), inv.ID, "org-1", "user-1", RoleOwner, nil); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if _, err := e.Approve(context.Background(), inv.ID, "org-1", "user-1", RoleOwner, nil); err != errs.ErrActionConflict {
		t.Fatalf("expected ErrActionConflict on repeated approve, got %v", err)
	}
}

func TestDenyTransitionsToDenied(t *testing.T) {
	repo := database.NewMemoryRepository()
	e := seedInvocation(t, repo, time.Hour)
	inv, _ := e.Create(context.Background(), "sess-1", "org-1", "", "linear", "create_issue", database.RiskLevelWrite, []byte(`{}`), time.Hour)

	denied, err := e.Deny(context.Background(), inv.ID, "org-1", "user-1", RoleAdmin)
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if denied.Status != database.ActionStatusDenied {
		t.Fatalf("expected denied, got %s", denied.Status)
	}
}

func TestGrantModeBypassesApprovalOnSubsequentAction(t *testing.T) {
	repo := database.NewMemoryRepository()
	e := seedInvocation(t, repo, time.Hour)

	first, _ := e.Create(context.Background(), "sess-1", "org-1", "", "linear", "create_issue", database.RiskLevelWrite, []byte(`{}`), time.Hour)
	if _, err := e.Approve(context.Background(), first.ID, "org-1", "user-1", RoleOwner, &GrantRequest{Scope: "create_issue", MaxCalls: 2}); err != nil {
		t.Fatalf("approve with grant: %v", err)
	}

	second, err := e.Create(context.Background(), "sess-1", "org-1", "", "linear", "create_issue", database.RiskLevelWrite, []byte(`{}`), time.Hour)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.Status != database.ActionStatusCompleted {
		t.Fatalf("expected grant to auto-approve and execute the second action, got %s", second.Status)
	}
}

func TestApproveFailsWhenAdapterMissing(t *testing.T) {
	repo := database.NewMemoryRepository()
	e := NewEngine(repo, AdapterRegistry{})
	inv, _ := e.Create(context.Background(), "sess-1", "org-1", "", "unknown-integration", "do_thing", database.RiskLevelRead, []byte(`{}`), time.Hour)

	settled, err := e.Approve(context.Background(), inv.ID, "org-1", "user-1", RoleOwner, nil)
	if err == nil {
		t.Fatal("expected adapter failure error")
	}
	if settled.Status != database.ActionStatusFailed {
		t.Fatalf("expected failed status, got %s", settled.Status)
	}
}
