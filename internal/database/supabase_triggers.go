package database

import (
	"context"
	"fmt"
)

func (sc *SupabaseClient) CreateTrigger(ctx context.Context, t *Trigger) error {
	_, _, err := sc.client.From("triggers").Insert(t, false, "", "", "").Execute()
	if err != nil {
		return fmt.Errorf("create trigger: %w", err)
	}
	return nil
}

func (sc *SupabaseClient) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	var rows []Trigger
	_, err := sc.client.From("triggers").
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("get trigger %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// SetTriggerRepeatJobKey persists the scheduler's registration key, per
// spec §4.3's "persist the returned repeat_job_key on the trigger row".
func (sc *SupabaseClient) SetTriggerRepeatJobKey(ctx context.Context, id, repeatJobKey string) error {
	_, _, err := sc.client.From("triggers").
		Update(map[string]interface{}{"repeat_job_key": repeatJobKey}, "", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("set repeat_job_key for trigger %s: %w", id, err)
	}
	return nil
}

func (sc *SupabaseClient) SetTriggerEnabled(ctx context.Context, id string, enabled bool) error {
	_, _, err := sc.client.From("triggers").
		Update(map[string]interface{}{"enabled": enabled}, "", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("set trigger %s enabled=%v: %w", id, enabled, err)
	}
	return nil
}

// ListEnabledScheduledTriggers backs the scheduler's reconciliation pass
// on process start (spec §4.3).
func (sc *SupabaseClient) ListEnabledScheduledTriggers(ctx context.Context) ([]Trigger, error) {
	var rows []Trigger
	_, err := sc.client.From("triggers").
		Select("*", "", false).
		Eq("trigger_type", TriggerTypeScheduled).
		Eq("enabled", "true").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("list enabled scheduled triggers: %w", err)
	}
	return rows, nil
}

// ListActiveWebhookTriggersByAutomation scopes to the single automation a
// posthog/automation webhook route addresses by path param, not every
// trigger on the provider (spec §3 organization-ownership invariant).
func (sc *SupabaseClient) ListActiveWebhookTriggersByAutomation(ctx context.Context, provider, automationID string) ([]Trigger, error) {
	var rows []Trigger
	_, err := sc.client.From("triggers").
		Select("*", "", false).
		Eq("trigger_type", TriggerTypeWebhook).
		Eq("provider", provider).
		Eq("automation_id", automationID).
		Eq("enabled", "true").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("list active webhook triggers for automation %s: %w", automationID, err)
	}
	return rows, nil
}

// ListActiveWebhookTriggersByIntegration scopes to the single connected
// integration a nango/github-app/direct webhook addresses.
func (sc *SupabaseClient) ListActiveWebhookTriggersByIntegration(ctx context.Context, provider, integrationID string) ([]Trigger, error) {
	var rows []Trigger
	_, err := sc.client.From("triggers").
		Select("*", "", false).
		Eq("trigger_type", TriggerTypeWebhook).
		Eq("provider", provider).
		Eq("integration_id", integrationID).
		Eq("enabled", "true").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("list active webhook triggers for integration %s: %w", integrationID, err)
	}
	return rows, nil
}

func (sc *SupabaseClient) CreateTriggerEvent(ctx context.Context, e *TriggerEvent) error {
	if e.CreatedAt == "" {
		e.CreatedAt = nowRFC3339()
	}
	_, _, err := sc.client.From("trigger_events").Insert(e, false, "", "", "").Execute()
	if err != nil {
		return fmt.Errorf("create trigger_event: %w", err)
	}
	return nil
}

// GetTriggerEventByDedupKey is the authoritative dedup boundary of spec §3:
// (trigger_id, dedup_key) is unique when dedup_key is non-null.
func (sc *SupabaseClient) GetTriggerEventByDedupKey(ctx context.Context, triggerID, dedupKey string) (*TriggerEvent, error) {
	if dedupKey == "" {
		return nil, nil
	}
	var rows []TriggerEvent
	_, err := sc.client.From("trigger_events").
		Select("*", "", false).
		Eq("trigger_id", triggerID).
		Eq("dedup_key", dedupKey).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("get trigger_event by dedup_key: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (sc *SupabaseClient) UpdateTriggerEventStatus(ctx context.Context, id, status, skipReason, sessionID string) error {
	patch := map[string]interface{}{
		"status":       status,
		"processed_at": nowRFC3339(),
	}
	if skipReason != "" {
		patch["skip_reason"] = skipReason
	}
	if sessionID != "" {
		patch["session_id"] = sessionID
	}
	_, _, err := sc.client.From("trigger_events").
		Update(patch, "", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("update trigger_event %s status=%s: %w", id, status, err)
	}
	return nil
}

func (sc *SupabaseClient) GetAutomation(ctx context.Context, id string) (*Automation, error) {
	var rows []Automation
	_, err := sc.client.From("automations").
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("get automation %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (sc *SupabaseClient) CreateAutomationRun(ctx context.Context, r *AutomationRun) error {
	if r.QueuedAt == "" {
		r.QueuedAt = nowRFC3339()
	}
	if r.Status == "" {
		r.Status = RunStatusQueued
	}
	_, _, err := sc.client.From("automation_runs").Insert(r, false, "", "", "").Execute()
	if err != nil {
		return fmt.Errorf("create automation_run: %w", err)
	}
	return nil
}

func (sc *SupabaseClient) UpdateAutomationRunStatus(ctx context.Context, id, status, errorMessage string) error {
	patch := map[string]interface{}{"status": status}
	if errorMessage != "" {
		patch["error_message"] = errorMessage
	}
	if status == RunStatusSucceeded || status == RunStatusFailed || status == RunStatusTimedOut {
		patch["completed_at"] = nowRFC3339()
	}
	_, _, err := sc.client.From("automation_runs").
		Update(patch, "", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("update automation_run %s status=%s: %w", id, status, err)
	}
	return nil
}
