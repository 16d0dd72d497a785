package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/proliferate/automation-core/internal/billing"
	"github.com/proliferate/automation-core/internal/database"
	"github.com/proliferate/automation-core/internal/gatewayrpc"
	"github.com/proliferate/automation-core/internal/sessions"
)

func newTestCronWorker(repo database.Repository, gw *gatewayrpc.Client) *CronWorker {
	gate := billing.NewGate(repo, nil, false, 0)
	return NewCronWorker(repo, gw, gate, sessions.NewRegistry(repo))
}

func TestCronWorkerFireSkipsWhenAutomationDisabled(t *testing.T) {
	repo := database.NewMemoryRepository()
	repo.SeedAutomation(&database.Automation{ID: "auto-1", OrganizationID: "org-1", Enabled: false})
	repo.SeedTrigger(&database.Trigger{
		ID:             "trig-1",
		OrganizationID: "org-1",
		AutomationID:   "auto-1",
		TriggerType:    database.TriggerTypeScheduled,
		Enabled:        true,
		RepeatJobKey:   "scheduled-trigger-trig-1",
	})

	gw := gatewayrpc.NewClient("http://unused", "token")
	worker := newTestCronWorker(repo, gw)
	fixed := time.Unix(1_700_000_000, 0)
	worker.now = func() time.Time { return fixed }
	worker.Fire(context.Background(), "trig-1")

	e, err := repo.GetTriggerEventByDedupKey(context.Background(), "trig-1", fmt.Sprintf("scheduled:trig-1:%d", fixed.Unix()))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if e == nil || e.SkipReason != database.TriggerEventSkipAutomationOff {
		t.Fatalf("expected skipped trigger_event with automation_disabled reason, got %+v", e)
	}
}

// TestCronWorkerFireDedupsSameFireRedelivery covers redelivery of the
// *same* fire (clock skew, worker-restart redelivery): two Fire calls at
// an identical fired-at timestamp compute the same dedup key and must
// collapse to one TriggerEvent.
func TestCronWorkerFireDedupsSameFireRedelivery(t *testing.T) {
	gatewaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sessionId":"sess-1"}`))
	}))
	defer gatewaySrv.Close()

	repo := database.NewMemoryRepository()
	repo.SeedAutomation(&database.Automation{ID: "auto-2", OrganizationID: "org-1", Enabled: true})
	repo.SeedTrigger(&database.Trigger{
		ID:             "trig-2",
		OrganizationID: "org-1",
		AutomationID:   "auto-2",
		TriggerType:    database.TriggerTypeScheduled,
		Enabled:        true,
		RepeatJobKey:   "scheduled-trigger-trig-2",
	})

	gw := gatewayrpc.NewClient(gatewaySrv.URL, "token")
	worker := newTestCronWorker(repo, gw)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	worker.now = func() time.Time { return fixed }

	worker.Fire(context.Background(), "trig-2")
	worker.Fire(context.Background(), "trig-2")

	dedupKey := fmt.Sprintf("scheduled:trig-2:%d", fixed.Unix())
	e, err := repo.GetTriggerEventByDedupKey(context.Background(), "trig-2", dedupKey)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if e == nil {
		t.Fatalf("expected a trigger_event for redelivered fire, got none")
	}
	if e.Status != "completed" {
		t.Fatalf("expected the first fire's event to remain completed (second fire is a no-op dedup), got status %q", e.Status)
	}
}

// TestCronWorkerFireCreatesNewEventPerTick covers the core recurring-
// trigger use case: two independent cron ticks (different fired-at
// timestamps) must each produce their own TriggerEvent, never dedup
// against each other.
func TestCronWorkerFireCreatesNewEventPerTick(t *testing.T) {
	gatewaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sessionId":"sess-1"}`))
	}))
	defer gatewaySrv.Close()

	repo := database.NewMemoryRepository()
	repo.SeedAutomation(&database.Automation{ID: "auto-5", OrganizationID: "org-1", Enabled: true})
	repo.SeedTrigger(&database.Trigger{
		ID:             "trig-5",
		OrganizationID: "org-1",
		AutomationID:   "auto-5",
		TriggerType:    database.TriggerTypeScheduled,
		Enabled:        true,
		RepeatJobKey:   "scheduled-trigger-trig-5",
	})

	gw := gatewayrpc.NewClient(gatewaySrv.URL, "token")
	worker := newTestCronWorker(repo, gw)

	firstTick := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	worker.now = func() time.Time { return firstTick }
	worker.Fire(context.Background(), "trig-5")

	secondTick := firstTick.Add(time.Hour)
	worker.now = func() time.Time { return secondTick }
	worker.Fire(context.Background(), "trig-5")

	firstKey := fmt.Sprintf("scheduled:trig-5:%d", firstTick.Unix())
	secondKey := fmt.Sprintf("scheduled:trig-5:%d", secondTick.Unix())

	firstEvent, err := repo.GetTriggerEventByDedupKey(context.Background(), "trig-5", firstKey)
	if err != nil {
		t.Fatalf("lookup first tick: %v", err)
	}
	secondEvent, err := repo.GetTriggerEventByDedupKey(context.Background(), "trig-5", secondKey)
	if err != nil {
		t.Fatalf("lookup second tick: %v", err)
	}
	if firstEvent == nil || secondEvent == nil {
		t.Fatalf("expected both ticks to produce their own trigger_event, got first=%+v second=%+v", firstEvent, secondEvent)
	}
}

func TestSchedulerRegisterPersistsRepeatJobKey(t *testing.T) {
	repo := database.NewMemoryRepository()
	repo.SeedTrigger(&database.Trigger{ID: "trig-3", TriggerType: database.TriggerTypeScheduled, Enabled: true, PollingCron: "@every 1h"})

	s := NewScheduler(repo, func(ctx context.Context, triggerID string) {})
	t3, _ := repo.GetTrigger(context.Background(), "trig-3")
	if err := s.Register(context.Background(), t3); err != nil {
		t.Fatalf("register: %v", err)
	}
	defer s.Stop(context.Background())

	updated, _ := repo.GetTrigger(context.Background(), "trig-3")
	if updated.RepeatJobKey != "scheduled-trigger-trig-3" {
		t.Fatalf("expected stable repeat_job_key, got %q", updated.RepeatJobKey)
	}

	time.Sleep(10 * time.Millisecond)
}
