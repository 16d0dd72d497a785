package billing

import (
	"context"
	"testing"
	"time"

	"github.com/proliferate/automation-core/internal/database"
	"github.com/proliferate/automation-core/internal/errs"
)

func TestEvaluateAllowsWhenBillingDisabled(t *testing.T) {
	repo := database.NewMemoryRepository()
	g := NewGate(repo, nil, false, 100)

	d := g.Evaluate(context.Background(), "org-1", Counts{}, OperationSessionStart)
	if !d.Allowed {
		t.Fatalf("expected allow when billing disabled, got %+v", d)
	}
}

func TestEvaluateDeniesMissingOrgBilling(t *testing.T) {
	repo := database.NewMemoryRepository()
	g := NewGate(repo, nil, true, 100)

	d := g.Evaluate(context.Background(), "org-missing", Counts{}, OperationSessionStart)
	if d.Allowed || d.Code != errs.GateCodeBillingNotConfigured {
		t.Fatalf("expected BILLING_NOT_CONFIGURED deny, got %+v", d)
	}
}

func TestEvaluateDeniesGraceExpired(t *testing.T) {
	repo := database.NewMemoryRepository()
	repo.SeedOrgBilling(&database.OrgBilling{
		OrganizationID:        "org-1",
		BillingState:          database.BillingStateGrace,
		GraceExpiresAt:        time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
		ShadowBalance:         1000,
		MaxConcurrentSessions: 5,
	})
	g := NewGate(repo, nil, true, 100)

	d := g.Evaluate(context.Background(), "org-1", Counts{}, OperationSessionStart)
	if d.Allowed || d.Code != errs.GateCodeGraceExpired || d.Action != "terminate_sessions" {
		t.Fatalf("expected GRACE_EXPIRED deny with terminate_sessions action, got %+v", d)
	}
}

func TestEvaluateDeniesConcurrentLimit(t *testing.T) {
	repo := database.NewMemoryRepository()
	repo.SeedOrgBilling(&database.OrgBilling{
		OrganizationID:        "org-1",
		BillingState:          database.BillingStateActive,
		MaxConcurrentSessions: 2,
	})
	g := NewGate(repo, nil, true, 100)

	d := g.Evaluate(context.Background(), "org-1", Counts{Running: 2}, OperationSessionStart)
	if d.Allowed || d.Code != errs.GateCodeConcurrentLimit {
		t.Fatalf("expected CONCURRENT_LIMIT deny, got %+v", d)
	}
}

func TestEvaluateAllowsActiveUnderLimit(t *testing.T) {
	repo := database.NewMemoryRepository()
	repo.SeedOrgBilling(&database.OrgBilling{
		OrganizationID:        "org-1",
		BillingState:          database.BillingStateActive,
		MaxConcurrentSessions: 5,
	})
	g := NewGate(repo, nil, true, 100)

	d := g.Evaluate(context.Background(), "org-1", Counts{Running: 1}, OperationSessionStart)
	if !d.Allowed {
		t.Fatalf("expected allow, got %+v", d)
	}
}
