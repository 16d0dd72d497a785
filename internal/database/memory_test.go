package database

import (
	"context"
	"testing"
)

func TestMarkInboxProcessingIsOneShot(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	if err := repo.InsertInboxRow(ctx, &InboxRow{ID: "row-1", Provider: "nango"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first, err := repo.MarkInboxProcessing(ctx, "row-1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !first {
		t.Fatal("expected first claim to succeed")
	}

	second, err := repo.MarkInboxProcessing(ctx, "row-1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second {
		t.Fatal("expected second claim to observe status!=pending and be refused")
	}
}

func TestTriggerEventDedupKeyIsUnique(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	repo.SeedTrigger(&Trigger{ID: "trig-1", Enabled: true})

	if err := repo.CreateTriggerEvent(ctx, &TriggerEvent{ID: "evt-1", TriggerID: "trig-1", DedupKey: "LIN-9"}); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	err := repo.CreateTriggerEvent(ctx, &TriggerEvent{ID: "evt-2", TriggerID: "trig-1", DedupKey: "LIN-9"})
	if err == nil {
		t.Fatal("expected dedup conflict on duplicate (trigger_id, dedup_key)")
	}

	existing, err := repo.GetTriggerEventByDedupKey(ctx, "trig-1", "LIN-9")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if existing == nil || existing.ID != "evt-1" {
		t.Fatalf("expected to find evt-1, got %+v", existing)
	}
}

func TestDeleteInboxRowsBeforeRetention(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	repo.inbox["old"] = &InboxRow{ID: "old", Status: InboxStatusCompleted, CompletedAt: "2020-01-01T00:00:00Z"}
	repo.inbox["recent"] = &InboxRow{ID: "recent", Status: InboxStatusCompleted, CompletedAt: "2030-01-01T00:00:00Z"}
	repo.inbox["pending"] = &InboxRow{ID: "pending", Status: InboxStatusPending}

	deleted, err := repo.DeleteInboxRowsBefore(ctx, []string{InboxStatusCompleted, InboxStatusFailed, InboxStatusSkipped}, "2025-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("gc: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 row deleted, got %d", deleted)
	}
	if _, err := repo.GetInboxRow(ctx, "old"); err != nil {
		t.Fatalf("get old: %v", err)
	}
	if row, _ := repo.GetInboxRow(ctx, "old"); row != nil {
		t.Fatal("expected old row to be deleted")
	}
	if row, _ := repo.GetInboxRow(ctx, "recent"); row == nil {
		t.Fatal("expected recent row to survive retention sweep")
	}
	if row, _ := repo.GetInboxRow(ctx, "pending"); row == nil {
		t.Fatal("expected pending row to survive (not terminal)")
	}
}
