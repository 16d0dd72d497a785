// Package actions owns the lifecycle of externally-visible side effects
// the AI requests, enforces approvals, and routes to adapters (spec
// §4.5).
//
// Grounded on escrow.EscrowGate.ProcessSignal's mutex-guarded
// map-of-pending-items-with-a-done-channel shape, generalized from a
// 3-signal barrier to a single-approver state transition;
// multitenancy.TenantManager.ValidateAPIKey's scope-check idiom grounds
// the owner/admin role gate.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/proliferate/automation-core/internal/database"
	"github.com/proliferate/automation-core/internal/errs"
	"github.com/proliferate/automation-core/internal/ids"
	"github.com/proliferate/automation-core/internal/observability"
)

// Role is the caller's role on the owning organization, checked by
// Approve/Deny (spec §4.5: "caller role ∈ {owner, admin}").
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) canApprove() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Adapter executes one approved action invocation against its external
// integration.
type Adapter interface {
	Execute(ctx context.Context, invocation *database.ActionInvocation, token string) (result []byte, err error)
}

// AdapterRegistry resolves an integration name to its Adapter.
type AdapterRegistry map[string]Adapter

// GrantRequest is the optional {scope, maxCalls} carried on an approve
// call to record a reusable grant (spec §4.5 "Grant mode").
type GrantRequest struct {
	Scope    string
	MaxCalls int
}

// Engine is the Action Engine component.
type Engine struct {
	repo     database.Repository
	adapters AdapterRegistry
	now      func() time.Time
	metrics  *observability.Metrics
}

func NewEngine(repo database.Repository, adapters AdapterRegistry) *Engine {
	return &Engine{repo: repo, adapters: adapters, now: time.Now}
}

// WithMetrics attaches a metrics registry; nil-safe if never called.
func (e *Engine) WithMetrics(m *observability.Metrics) *Engine {
	e.metrics = m
	return e
}

func (e *Engine) recordInvocation(integration, status string) {
	if e.metrics != nil {
		e.metrics.ActionInvocations.WithLabelValues(integration, status).Inc()
	}
}

// Create records a new pending invocation requested by the AI loop. If an
// ApprovalGrant already covers this (integration, action) it is consumed
// immediately and the invocation is created pre-approved, bypassing the
// human approval step (spec §4.5 "Grant mode").
func (e *Engine) Create(ctx context.Context, sessionID, orgID, integrationID, integration, action string, riskLevel string, params []byte, ttl time.Duration) (*database.ActionInvocation, error) {
	inv := &database.ActionInvocation{
		ID:             ids.NewULID(),
		SessionID:      sessionID,
		OrganizationID: orgID,
		IntegrationID:  integrationID,
		Integration:    integration,
		Action:         action,
		RiskLevel:      riskLevel,
		Params:         params,
		Status:         database.ActionStatusPending,
		ExpiresAt:      e.now().Add(ttl).UTC().Format(time.RFC3339),
	}

	consumed, err := e.repo.ConsumeApprovalGrant(ctx, sessionID, integration, action)
	if err != nil {
		return nil, fmt.Errorf("actions: check grant: %w", err)
	}
	if consumed {
		inv.Status = database.ActionStatusApproved
		inv.ApprovedBy = "grant"
		inv.ApprovedAt = e.now().UTC().Format(time.RFC3339)
	}

	if err := e.repo.CreateActionInvocation(ctx, inv); err != nil {
		return nil, fmt.Errorf("actions: create: %w", err)
	}

	if consumed {
		return e.executeAndSettle(ctx, inv)
	}
	return inv, nil
}

// Approve transitions a pending invocation to approved then immediately
// executes it, per spec §4.5: "the full approve→execute is atomic from
// the caller's perspective".
func (e *Engine) Approve(ctx context.Context, invocationID, orgID, approvedBy string, role Role, grant *GrantRequest) (*database.ActionInvocation, error) {
	if !role.canApprove() {
		return nil, errs.ErrForbidden
	}

	inv, err := e.loadOwned(ctx, invocationID, orgID)
	if err != nil {
		return nil, err
	}
	if err := e.checkTransitionable(inv); err != nil {
		return nil, err
	}

	inv.Status = database.ActionStatusApproved
	inv.ApprovedBy = approvedBy
	inv.ApprovedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.repo.UpdateActionInvocation(ctx, inv); err != nil {
		return nil, fmt.Errorf("actions: approve: %w", err)
	}

	if grant != nil {
		if err := e.recordGrant(ctx, inv, grant, approvedBy); err != nil {
			return nil, err
		}
	}

	return e.executeAndSettle(ctx, inv)
}

// Deny transitions a pending invocation to denied, a terminal state.
func (e *Engine) Deny(ctx context.Context, invocationID, orgID, deniedBy string, role Role) (*database.ActionInvocation, error) {
	if !role.canApprove() {
		return nil, errs.ErrForbidden
	}

	inv, err := e.loadOwned(ctx, invocationID, orgID)
	if err != nil {
		return nil, err
	}
	if err := e.checkTransitionable(inv); err != nil {
		return nil, err
	}

	inv.Status = database.ActionStatusDenied
	inv.ApprovedBy = deniedBy
	inv.ApprovedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.repo.UpdateActionInvocation(ctx, inv); err != nil {
		return nil, fmt.Errorf("actions: deny: %w", err)
	}
	return inv, nil
}

func (e *Engine) loadOwned(ctx context.Context, invocationID, orgID string) (*database.ActionInvocation, error) {
	inv, err := e.repo.GetActionInvocation(ctx, invocationID)
	if err != nil {
		return nil, fmt.Errorf("actions: load %s: %w", invocationID, err)
	}
	if inv == nil || inv.OrganizationID != orgID {
		return nil, errs.ErrActionNotFound
	}
	return inv, nil
}

// checkTransitionable enforces idempotency: repeated approve/deny calls
// after a terminal state raise ActionConflictError; an elapsed ttl raises
// ActionExpiredError (spec §4.5).
func (e *Engine) checkTransitionable(inv *database.ActionInvocation) error {
	if inv.Status != database.ActionStatusPending {
		return errs.ErrActionConflict
	}
	if inv.ExpiresAt != "" && e.now().UTC().Format(time.RFC3339) > inv.ExpiresAt {
		return errs.ErrActionExpired
	}
	return nil
}

func (e *Engine) recordGrant(ctx context.Context, inv *database.ActionInvocation, grant *GrantRequest, grantedBy string) error {
	g := &database.ApprovalGrant{
		SessionID:      inv.SessionID,
		Integration:    inv.Integration,
		ActionScope:    grant.Scope,
		MaxCalls:       grant.MaxCalls,
		RemainingCalls: grant.MaxCalls,
		GrantedBy:      grantedBy,
	}
	if err := e.repo.UpsertApprovalGrant(ctx, g); err != nil {
		return fmt.Errorf("actions: record grant: %w", err)
	}
	return nil
}

// executeAndSettle transitions approved → executing → completed|failed,
// calling the resolved adapter exactly once.
func (e *Engine) executeAndSettle(ctx context.Context, inv *database.ActionInvocation) (*database.ActionInvocation, error) {
	inv.Status = database.ActionStatusExecuting
	if err := e.repo.UpdateActionInvocation(ctx, inv); err != nil {
		return nil, fmt.Errorf("actions: mark executing: %w", err)
	}

	adapter, ok := e.adapters[inv.Integration]
	if !ok {
		return e.fail(ctx, inv, fmt.Errorf("%w: no adapter registered for integration %q", errs.ErrAdapterFailure, inv.Integration))
	}

	start := e.now()
	result, err := adapter.Execute(ctx, inv, "")
	inv.DurationMs = e.now().Sub(start).Milliseconds()
	if err != nil {
		return e.fail(ctx, inv, fmt.Errorf("%w: %v", errs.ErrAdapterFailure, err))
	}

	inv.Status = database.ActionStatusCompleted
	inv.Result = result
	if err := e.repo.UpdateActionInvocation(ctx, inv); err != nil {
		return nil, fmt.Errorf("actions: mark completed: %w", err)
	}
	e.recordInvocation(inv.Integration, "completed")
	return inv, nil
}

func (e *Engine) fail(ctx context.Context, inv *database.ActionInvocation, execErr error) (*database.ActionInvocation, error) {
	inv.Status = database.ActionStatusFailed
	inv.Error = execErr.Error()
	if err := e.repo.UpdateActionInvocation(ctx, inv); err != nil {
		return nil, fmt.Errorf("actions: mark failed: %w", err)
	}
	e.recordInvocation(inv.Integration, "failed")
	return inv, execErr
}

// marshalParams is a small helper adapters can use to decode Params.
func marshalParams(params []byte, dest interface{}) error {
	return json.Unmarshal(params, dest)
}
