package database

import (
	"context"
	"fmt"
)

func (sc *SupabaseClient) GetSession(ctx context.Context, id string) (*Session, error) {
	var rows []Session
	_, err := sc.client.From("sessions").
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (sc *SupabaseClient) CreateSession(ctx context.Context, s *Session) error {
	if s.CreatedAt == "" {
		s.CreatedAt = nowRFC3339()
	}
	_, _, err := sc.client.From("sessions").Insert(s, false, "", "", "").Execute()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (sc *SupabaseClient) UpdateSession(ctx context.Context, s *Session) error {
	s.UpdatedAt = nowRFC3339()
	_, _, err := sc.client.From("sessions").
		Update(s, "", "").
		Eq("id", s.ID).
		Execute()
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	return nil
}

// CountSessionsByStatus backs the gate's concurrency check (spec §4.4 step
// 4): count of an org's sessions currently in any of the given statuses.
func (sc *SupabaseClient) CountSessionsByStatus(ctx context.Context, orgID string, statuses []string) (int, error) {
	total := 0
	for _, status := range statuses {
		var rows []Session
		_, err := sc.client.From("sessions").
			Select("id", "", false).
			Eq("organization_id", orgID).
			Eq("status", status).
			ExecuteTo(&rows)
		if err != nil {
			return 0, fmt.Errorf("count sessions org=%s status=%s: %w", orgID, status, err)
		}
		total += len(rows)
	}
	return total, nil
}

func (sc *SupabaseClient) GetConfiguration(ctx context.Context, id string) (*Configuration, error) {
	var rows []Configuration
	_, err := sc.client.From("configurations").
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("get configuration %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (sc *SupabaseClient) UpdateConfigurationStatus(ctx context.Context, id, status, snapshotID string) error {
	patch := map[string]interface{}{"status": status}
	if snapshotID != "" {
		patch["snapshot_id"] = snapshotID
	}
	_, _, err := sc.client.From("configurations").
		Update(patch, "", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("update configuration %s status=%s: %w", id, status, err)
	}
	return nil
}
