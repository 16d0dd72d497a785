package gc

import (
	"context"
	"testing"
	"time"

	"github.com/proliferate/automation-core/internal/database"
)

func TestSweepDeletesRowsPastRetention(t *testing.T) {
	repo := database.NewMemoryRepository()
	ctx := context.Background()

	row := &database.InboxRow{ID: "old", Provider: "nango", Payload: []byte(`{}`)}
	if err := repo.InsertInboxRow(ctx, row); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.MarkInboxCompleted(ctx, "old"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	sweeper := NewSweeper(repo, time.Hour, time.Hour)
	sweeper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	sweeper.sweep(ctx)

	if got, _ := repo.GetInboxRow(ctx, "old"); got != nil {
		t.Fatal("expected completed row past retention to be deleted")
	}
}

func TestSweepLeavesRowsWithinRetention(t *testing.T) {
	repo := database.NewMemoryRepository()
	ctx := context.Background()

	row := &database.InboxRow{ID: "fresh", Provider: "nango", Payload: []byte(`{}`)}
	if err := repo.InsertInboxRow(ctx, row); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.MarkInboxCompleted(ctx, "fresh"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	sweeper := NewSweeper(repo, time.Hour, time.Hour)
	sweeper.sweep(ctx)

	if got, _ := repo.GetInboxRow(ctx, "fresh"); got == nil {
		t.Fatal("expected recently completed row to survive a sweep within the retention window")
	}
}
