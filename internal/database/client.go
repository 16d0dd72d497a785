// Package database is the shared data layer: row models for every
// automation-core entity and a Supabase-backed repository implementation,
// following the teacher's REST query-builder CRUD pattern.
package database

import (
	"context"
	"fmt"
	"os"

	supabase "github.com/supabase-community/supabase-go"
)

// Repository is the persistence contract every component depends on.
// Tests use the in-memory implementation in memory.go; production wires
// SupabaseClient.
type Repository interface {
	InsertInboxRow(ctx context.Context, row *InboxRow) error
	GetInboxRow(ctx context.Context, id string) (*InboxRow, error)
	MarkInboxProcessing(ctx context.Context, id string) (bool, error)
	MarkInboxCompleted(ctx context.Context, id string) error
	MarkInboxFailed(ctx context.Context, id, lastErr string) error
	DeleteInboxRowsBefore(ctx context.Context, statuses []string, cutoff string) (int, error)

	CreateTrigger(ctx context.Context, t *Trigger) error
	GetTrigger(ctx context.Context, id string) (*Trigger, error)
	SetTriggerRepeatJobKey(ctx context.Context, id, repeatJobKey string) error
	SetTriggerEnabled(ctx context.Context, id string, enabled bool) error
	ListEnabledScheduledTriggers(ctx context.Context) ([]Trigger, error)
	// ListActiveWebhookTriggersByAutomation scopes to the one automation a
	// posthog/automation webhook route addresses directly by path param
	// (spec §4.1/§4.2 step 3) — never the bare provider, which would fan
	// out across every organization's triggers on that provider.
	ListActiveWebhookTriggersByAutomation(ctx context.Context, provider, automationID string) ([]Trigger, error)
	// ListActiveWebhookTriggersByIntegration scopes to the one connected
	// integration a nango/github-app/direct webhook addresses, resolved
	// from the payload or routing id (spec §4.1/§4.2 step 3).
	ListActiveWebhookTriggersByIntegration(ctx context.Context, provider, integrationID string) ([]Trigger, error)

	CreateTriggerEvent(ctx context.Context, e *TriggerEvent) error
	GetTriggerEventByDedupKey(ctx context.Context, triggerID, dedupKey string) (*TriggerEvent, error)
	UpdateTriggerEventStatus(ctx context.Context, id, status, skipReason, sessionID string) error

	GetAutomation(ctx context.Context, id string) (*Automation, error)

	CreateAutomationRun(ctx context.Context, r *AutomationRun) error
	UpdateAutomationRunStatus(ctx context.Context, id, status, errorMessage string) error

	GetSession(ctx context.Context, id string) (*Session, error)
	CreateSession(ctx context.Context, s *Session) error
	UpdateSession(ctx context.Context, s *Session) error
	CountSessionsByStatus(ctx context.Context, orgID string, statuses []string) (int, error)

	CreateActionInvocation(ctx context.Context, a *ActionInvocation) error
	GetActionInvocation(ctx context.Context, id string) (*ActionInvocation, error)
	UpdateActionInvocation(ctx context.Context, a *ActionInvocation) error

	GetApprovalGrant(ctx context.Context, sessionID, integration, scope string) (*ApprovalGrant, error)
	UpsertApprovalGrant(ctx context.Context, g *ApprovalGrant) error
	ConsumeApprovalGrant(ctx context.Context, sessionID, integration, scope string) (bool, error)

	GetOrgBilling(ctx context.Context, orgID string) (*OrgBilling, error)

	GetConfiguration(ctx context.Context, id string) (*Configuration, error)
	UpdateConfigurationStatus(ctx context.Context, id, status, snapshotID string) error
}

// SupabaseClient wraps the Supabase Go client with every repository
// operation the automation core needs.
type SupabaseClient struct {
	client *supabase.Client
}

var _ Repository = (*SupabaseClient)(nil)

// NewSupabaseClient creates a new Supabase-backed repository client.
func NewSupabaseClient() (*SupabaseClient, error) {
	url := os.Getenv("SUPABASE_URL")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	key := os.Getenv("SUPABASE_SERVICE_KEY")

	if url == "" || key == "" {
		return nil, fmt.Errorf("database: DATABASE_URL/SUPABASE_URL and SUPABASE_SERVICE_KEY must be set")
	}

	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("database: failed to create Supabase client: %w", err)
	}

	return &SupabaseClient{client: client}, nil
}

// ============================================================================
// GENERIC HELPERS
// ============================================================================

// InsertRow inserts a single row into any table.
func (sc *SupabaseClient) InsertRow(table string, row interface{}) error {
	_, _, err := sc.client.From(table).Insert(row, false, "", "", "").Execute()
	return err
}

// QueryRows queries rows from a table filtered by a single column.
func (sc *SupabaseClient) QueryRows(table, selectCols, filterCol, filterVal string, dest interface{}) error {
	_, err := sc.client.From(table).
		Select(selectCols, "", false).
		Eq(filterCol, filterVal).
		ExecuteTo(dest)
	return err
}
