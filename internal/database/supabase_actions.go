package database

import (
	"context"
	"fmt"
)

func (sc *SupabaseClient) CreateActionInvocation(ctx context.Context, a *ActionInvocation) error {
	if a.CreatedAt == "" {
		a.CreatedAt = nowRFC3339()
	}
	if a.Status == "" {
		a.Status = ActionStatusPending
	}
	_, _, err := sc.client.From("action_invocations").Insert(a, false, "", "", "").Execute()
	if err != nil {
		return fmt.Errorf("create action_invocation: %w", err)
	}
	return nil
}

func (sc *SupabaseClient) GetActionInvocation(ctx context.Context, id string) (*ActionInvocation, error) {
	var rows []ActionInvocation
	_, err := sc.client.From("action_invocations").
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("get action_invocation %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (sc *SupabaseClient) UpdateActionInvocation(ctx context.Context, a *ActionInvocation) error {
	_, _, err := sc.client.From("action_invocations").
		Update(a, "", "").
		Eq("id", a.ID).
		Execute()
	if err != nil {
		return fmt.Errorf("update action_invocation %s: %w", a.ID, err)
	}
	return nil
}

func (sc *SupabaseClient) GetApprovalGrant(ctx context.Context, sessionID, integration, scope string) (*ApprovalGrant, error) {
	var rows []ApprovalGrant
	_, err := sc.client.From("approval_grants").
		Select("*", "", false).
		Eq("session_id", sessionID).
		Eq("integration", integration).
		Eq("action_scope", scope).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("get approval_grant: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (sc *SupabaseClient) UpsertApprovalGrant(ctx context.Context, g *ApprovalGrant) error {
	if g.CreatedAt == "" {
		g.CreatedAt = nowRFC3339()
	}
	_, _, err := sc.client.From("approval_grants").
		Upsert(g, "session_id,integration,action_scope", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("upsert approval_grant: %w", err)
	}
	return nil
}

// ConsumeApprovalGrant atomically decrements remaining_calls via a
// conditional update and reports whether the grant still covered the call.
func (sc *SupabaseClient) ConsumeApprovalGrant(ctx context.Context, sessionID, integration, scope string) (bool, error) {
	grant, err := sc.GetApprovalGrant(ctx, sessionID, integration, scope)
	if err != nil {
		return false, err
	}
	if grant == nil || grant.RemainingCalls <= 0 {
		return false, nil
	}
	grant.RemainingCalls--
	var result []ApprovalGrant
	_, err = sc.client.From("approval_grants").
		Update(map[string]interface{}{"remaining_calls": grant.RemainingCalls}, "", "").
		Eq("session_id", sessionID).
		Eq("integration", integration).
		Eq("action_scope", scope).
		Eq("remaining_calls", fmt.Sprintf("%d", grant.RemainingCalls+1)).
		ExecuteTo(&result)
	if err != nil {
		return false, fmt.Errorf("consume approval_grant: %w", err)
	}
	return len(result) > 0, nil
}

func (sc *SupabaseClient) GetOrgBilling(ctx context.Context, orgID string) (*OrgBilling, error) {
	var rows []OrgBilling
	_, err := sc.client.From("org_billing").
		Select("*", "", false).
		Eq("organization_id", orgID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("get org_billing %s: %w", orgID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
