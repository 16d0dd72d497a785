package database

import (
	"context"
	"fmt"
)

// InsertInboxRow inserts a new durable webhook snapshot with status=pending.
func (sc *SupabaseClient) InsertInboxRow(ctx context.Context, row *InboxRow) error {
	if row.Status == "" {
		row.Status = InboxStatusPending
	}
	if row.ReceivedAt == "" {
		row.ReceivedAt = nowRFC3339()
	}
	_, _, err := sc.client.From("webhook_inbox").Insert(row, false, "", "", "").Execute()
	if err != nil {
		return fmt.Errorf("insert webhook_inbox: %w", err)
	}
	return nil
}

// GetInboxRow loads a single inbox row by id.
func (sc *SupabaseClient) GetInboxRow(ctx context.Context, id string) (*InboxRow, error) {
	var rows []InboxRow
	_, err := sc.client.From("webhook_inbox").
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("get webhook_inbox %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// MarkInboxProcessing performs the optimistic pending->processing
// transition. It returns false (no error) when another worker already
// claimed the row — the idempotent reprocess guard of spec §4.2 step 1.
func (sc *SupabaseClient) MarkInboxProcessing(ctx context.Context, id string) (bool, error) {
	var result []InboxRow
	_, err := sc.client.From("webhook_inbox").
		Update(map[string]interface{}{"status": InboxStatusProcessing}, "", "").
		Eq("id", id).
		Eq("status", InboxStatusPending).
		ExecuteTo(&result)
	if err != nil {
		return false, fmt.Errorf("mark webhook_inbox %s processing: %w", id, err)
	}
	return len(result) > 0, nil
}

// MarkInboxCompleted sets status=completed and records completed_at.
func (sc *SupabaseClient) MarkInboxCompleted(ctx context.Context, id string) error {
	_, _, err := sc.client.From("webhook_inbox").
		Update(map[string]interface{}{
			"status":       InboxStatusCompleted,
			"completed_at": nowRFC3339(),
		}, "", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("mark webhook_inbox %s completed: %w", id, err)
	}
	return nil
}

// MarkInboxFailed sets status=failed, increments attempts and records the
// last error.
func (sc *SupabaseClient) MarkInboxFailed(ctx context.Context, id, lastErr string) error {
	row, err := sc.GetInboxRow(ctx, id)
	if err != nil {
		return err
	}
	attempts := 1
	if row != nil {
		attempts = row.Attempts + 1
	}
	_, _, err = sc.client.From("webhook_inbox").
		Update(map[string]interface{}{
			"status":       InboxStatusFailed,
			"attempts":     attempts,
			"last_error":   lastErr,
			"completed_at": nowRFC3339(),
		}, "", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("mark webhook_inbox %s failed: %w", id, err)
	}
	return nil
}

// DeleteInboxRowsBefore deletes rows in a terminal status whose
// completed_at precedes cutoff — the GC retention sweep of spec §4.8.
func (sc *SupabaseClient) DeleteInboxRowsBefore(ctx context.Context, statuses []string, cutoff string) (int, error) {
	total := 0
	for _, status := range statuses {
		var deleted []InboxRow
		_, err := sc.client.From("webhook_inbox").
			Delete("", "").
			Eq("status", status).
			Lt("completed_at", cutoff).
			ExecuteTo(&deleted)
		if err != nil {
			return total, fmt.Errorf("gc webhook_inbox status=%s: %w", status, err)
		}
		total += len(deleted)
	}
	return total, nil
}
