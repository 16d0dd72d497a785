package inboxworker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/proliferate/automation-core/internal/billing"
	"github.com/proliferate/automation-core/internal/database"
	"github.com/proliferate/automation-core/internal/gatewayrpc"
	"github.com/proliferate/automation-core/internal/queue"
	"github.com/proliferate/automation-core/internal/sessions"
	"github.com/proliferate/automation-core/internal/triggers"
)

func newTestWorker(t *testing.T, gatewayURL string) (*Worker, *database.MemoryRepository) {
	t.Helper()
	repo := database.NewMemoryRepository()
	registry := triggers.NewRegistry()
	if err := triggers.RegisterDefaults(registry); err != nil {
		t.Fatalf("register defaults: %v", err)
	}
	gw := gatewayrpc.NewClient(gatewayURL, "test-token")
	gate := billing.NewGate(repo, nil, false, 0)
	return NewWorker(repo, registry, gw, gate, sessions.NewRegistry(repo)), repo
}

func TestHandleSpawnsSessionAndCompletesRow(t *testing.T) {
	gatewaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(gatewayrpc.CreateSessionResponse{SessionID: "sess-1"})
	}))
	defer gatewaySrv.Close()

	worker, repo := newTestWorker(t, gatewaySrv.URL)
	repo.SeedAutomation(&database.Automation{ID: "auto-1", OrganizationID: "org-1", Enabled: true})
	repo.SeedTrigger(&database.Trigger{
		ID:             "trig-1",
		OrganizationID: "org-1",
		AutomationID:   "auto-1",
		Provider:       triggers.ProviderNango,
		TriggerType:    database.TriggerTypeWebhook,
		IntegrationID:  "conn-1",
		Enabled:        true,
		Config:         []byte(`{}`),
	})

	ctx := context.Background()
	row := &database.InboxRow{ID: "row-1", Provider: triggers.ProviderNango, Payload: []byte(`{"id":"LIN-1","connectionId":"conn-1"}`)}
	if err := repo.InsertInboxRow(ctx, row); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	if err := worker.Handle(ctx, queue.Job{Payload: []byte("row-1")}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := repo.GetInboxRow(ctx, "row-1")
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if got.Status != database.InboxStatusCompleted {
		t.Fatalf("expected row completed, got %s", got.Status)
	}
}

func TestHandleSkipsNonPendingRow(t *testing.T) {
	worker, repo := newTestWorker(t, "http://unused")
	ctx := context.Background()
	row := &database.InboxRow{ID: "row-2", Provider: triggers.ProviderNango, Payload: []byte(`{}`), Status: database.InboxStatusCompleted}
	if err := repo.InsertInboxRow(ctx, row); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	if err := worker.Handle(ctx, queue.Job{Payload: []byte("row-2")}); err != nil {
		t.Fatalf("handle should no-op on non-pending row, got err: %v", err)
	}

	got, _ := repo.GetInboxRow(ctx, "row-2")
	if got.Status != database.InboxStatusCompleted {
		t.Fatalf("expected row to remain completed, got %s", got.Status)
	}
}

func TestHandleSkipsAutomationDisabled(t *testing.T) {
	gatewaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("gateway should not be called for a disabled automation")
	}))
	defer gatewaySrv.Close()

	worker, repo := newTestWorker(t, gatewaySrv.URL)
	repo.SeedAutomation(&database.Automation{ID: "auto-2", OrganizationID: "org-1", Enabled: false})
	repo.SeedTrigger(&database.Trigger{
		ID:             "trig-2",
		OrganizationID: "org-1",
		AutomationID:   "auto-2",
		Provider:       triggers.ProviderNango,
		TriggerType:    database.TriggerTypeWebhook,
		IntegrationID:  "conn-2",
		Enabled:        true,
		Config:         []byte(`{}`),
	})

	ctx := context.Background()
	row := &database.InboxRow{ID: "row-3", Provider: triggers.ProviderNango, Payload: []byte(`{"id":"LIN-3","connectionId":"conn-2"}`)}
	if err := repo.InsertInboxRow(ctx, row); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	if err := worker.Handle(ctx, queue.Job{Payload: []byte("row-3")}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, _ := repo.GetInboxRow(ctx, "row-3")
	if got.Status != database.InboxStatusCompleted {
		t.Fatalf("expected row completed even when skipped, got %s", got.Status)
	}
}

func TestHandleSkipsWhenGateDenies(t *testing.T) {
	gatewaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("gateway should not be called when the session gate denies")
	}))
	defer gatewaySrv.Close()

	repo := database.NewMemoryRepository()
	registry := triggers.NewRegistry()
	if err := triggers.RegisterDefaults(registry); err != nil {
		t.Fatalf("register defaults: %v", err)
	}
	gw := gatewayrpc.NewClient(gatewaySrv.URL, "test-token")
	deny := billing.NewGate(repo, nil, true, 0)
	worker := NewWorker(repo, registry, gw, deny, sessions.NewRegistry(repo))

	repo.SeedAutomation(&database.Automation{ID: "auto-4", OrganizationID: "org-1", Enabled: true})
	repo.SeedTrigger(&database.Trigger{
		ID:             "trig-4",
		OrganizationID: "org-1",
		AutomationID:   "auto-4",
		Provider:       triggers.ProviderNango,
		TriggerType:    database.TriggerTypeWebhook,
		IntegrationID:  "conn-4",
		Enabled:        true,
		Config:         []byte(`{}`),
	})

	ctx := context.Background()
	row := &database.InboxRow{ID: "row-4", Provider: triggers.ProviderNango, Payload: []byte(`{"id":"LIN-4","connectionId":"conn-4"}`)}
	if err := repo.InsertInboxRow(ctx, row); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	if err := worker.Handle(ctx, queue.Job{Payload: []byte("row-4")}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	evt, err := repo.GetTriggerEventByDedupKey(ctx, "trig-4", "nango:LIN-4")
	if err != nil {
		t.Fatalf("lookup trigger event: %v", err)
	}
	if evt == nil || evt.SkipReason != database.TriggerEventSkipGateDenied {
		t.Fatalf("expected skipped trigger_event with gate_denied reason, got %+v", evt)
	}
}

// TestHandleOnlyProcessesAddressedIntegrationNotWholeProvider guards spec
// §3's "organization exclusively owns its triggers": two organizations can
// each have an enabled nango trigger, but a webhook addressed at one
// connection must never spawn a run for the other org's trigger on the
// same provider.
func TestHandleOnlyProcessesAddressedIntegrationNotWholeProvider(t *testing.T) {
	var gatewayCalls int
	gatewaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gatewayCalls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(gatewayrpc.CreateSessionResponse{SessionID: "sess-1"})
	}))
	defer gatewaySrv.Close()

	worker, repo := newTestWorker(t, gatewaySrv.URL)
	repo.SeedAutomation(&database.Automation{ID: "auto-a", OrganizationID: "org-a", Enabled: true})
	repo.SeedAutomation(&database.Automation{ID: "auto-b", OrganizationID: "org-b", Enabled: true})
	repo.SeedTrigger(&database.Trigger{
		ID: "trig-a", OrganizationID: "org-a", AutomationID: "auto-a",
		Provider: triggers.ProviderNango, TriggerType: database.TriggerTypeWebhook,
		IntegrationID: "conn-a", Enabled: true, Config: []byte(`{}`),
	})
	repo.SeedTrigger(&database.Trigger{
		ID: "trig-b", OrganizationID: "org-b", AutomationID: "auto-b",
		Provider: triggers.ProviderNango, TriggerType: database.TriggerTypeWebhook,
		IntegrationID: "conn-b", Enabled: true, Config: []byte(`{}`),
	})

	ctx := context.Background()
	row := &database.InboxRow{ID: "row-5", Provider: triggers.ProviderNango, Payload: []byte(`{"id":"LIN-5","connectionId":"conn-a"}`)}
	if err := repo.InsertInboxRow(ctx, row); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	if err := worker.Handle(ctx, queue.Job{Payload: []byte("row-5")}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if gatewayCalls != 1 {
		t.Fatalf("expected exactly one session created for the addressed connection, got %d gateway calls", gatewayCalls)
	}

	aEvt, _ := repo.GetTriggerEventByDedupKey(ctx, "trig-a", "nango:LIN-5")
	if aEvt == nil {
		t.Fatalf("expected trig-a (the addressed connection's trigger) to have fired")
	}
	bEvt, _ := repo.GetTriggerEventByDedupKey(ctx, "trig-b", "nango:LIN-5")
	if bEvt != nil {
		t.Fatalf("trig-b belongs to a different connection and must not have fired, got %+v", bEvt)
	}
}

// TestHandleCustomRouteAddressesTriggerByPathID covers the
// /webhooks/custom/:triggerId route, where the inbox row's ExternalID IS
// the trigger id directly.
func TestHandleCustomRouteAddressesTriggerByPathID(t *testing.T) {
	gatewaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(gatewayrpc.CreateSessionResponse{SessionID: "sess-1"})
	}))
	defer gatewaySrv.Close()

	worker, repo := newTestWorker(t, gatewaySrv.URL)
	repo.SeedAutomation(&database.Automation{ID: "auto-6", OrganizationID: "org-1", Enabled: true})
	repo.SeedTrigger(&database.Trigger{
		ID: "trig-6", OrganizationID: "org-1", AutomationID: "auto-6",
		Provider: triggers.ProviderCustom, TriggerType: database.TriggerTypeWebhook,
		Enabled: true, Config: []byte(`{}`),
	})

	ctx := context.Background()
	row := &database.InboxRow{
		ID: "row-6", Provider: triggers.ProviderCustom, ExternalID: "trig-6",
		Payload: []byte(`{"external_event_id":"evt-6"}`),
	}
	if err := repo.InsertInboxRow(ctx, row); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	if err := worker.Handle(ctx, queue.Job{Payload: []byte("row-6")}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	evt, _ := repo.GetTriggerEventByDedupKey(ctx, "trig-6", "custom:evt-6")
	if evt == nil {
		t.Fatalf("expected the addressed trigger to have fired")
	}
}

// TestHandlePostHogRouteAddressesAutomationByPathID covers the
// /webhooks/posthog/:automationId route, where the inbox row's ExternalID
// is the automation id.
func TestHandlePostHogRouteAddressesAutomationByPathID(t *testing.T) {
	gatewaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(gatewayrpc.CreateSessionResponse{SessionID: "sess-1"})
	}))
	defer gatewaySrv.Close()

	worker, repo := newTestWorker(t, gatewaySrv.URL)
	repo.SeedAutomation(&database.Automation{ID: "auto-7", OrganizationID: "org-1", Enabled: true})
	repo.SeedTrigger(&database.Trigger{
		ID: "trig-7", OrganizationID: "org-1", AutomationID: "auto-7",
		Provider: triggers.ProviderPostHog, TriggerType: database.TriggerTypeWebhook,
		Enabled: true, Config: []byte(`{}`),
	})

	ctx := context.Background()
	row := &database.InboxRow{
		ID: "row-7", Provider: triggers.ProviderPostHog, ExternalID: "auto-7",
		Payload: []byte(`{"uuid":"evt-7"}`),
	}
	if err := repo.InsertInboxRow(ctx, row); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	if err := worker.Handle(ctx, queue.Job{Payload: []byte("row-7")}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	evt, _ := repo.GetTriggerEventByDedupKey(ctx, "trig-7", "posthog:evt-7")
	if evt == nil {
		t.Fatalf("expected the addressed automation's trigger to have fired")
	}
}
