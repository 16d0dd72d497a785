// Package inboxworker drains webhook_inbox rows into semantic
// TriggerEvents and spawns AutomationRuns, with exactly-once downstream
// effects per (trigger_id, dedup_key) — spec §4.2.
//
// Grounded on webhooks.Dispatcher's worker(id int)/queue chan pattern,
// generalized to pull jobs from the shared internal/queue abstraction
// instead of an unbounded local channel, so the same handler runs against
// the Cloud Tasks-backed queue in production and the in-memory queue in
// tests.
package inboxworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/proliferate/automation-core/internal/billing"
	"github.com/proliferate/automation-core/internal/database"
	"github.com/proliferate/automation-core/internal/gatewayrpc"
	"github.com/proliferate/automation-core/internal/ids"
	"github.com/proliferate/automation-core/internal/observability"
	"github.com/proliferate/automation-core/internal/queue"
	"github.com/proliferate/automation-core/internal/sessions"
	"github.com/proliferate/automation-core/internal/triggers"
)

// JobTypeProcessInbox must match ingress.JobTypeProcessInbox; duplicated
// here as a const (not imported) to keep inboxworker free of an ingress
// dependency — the queue abstraction is the only coupling between the two.
const JobTypeProcessInbox = "inbox.process"

// Worker drains inbox.process jobs (spec §4.2 operations 1-8).
type Worker struct {
	repo     database.Repository
	registry *triggers.Registry
	gateway  *gatewayrpc.Client
	gate     *billing.Gate
	sessions *sessions.Registry
	metrics  *observability.Metrics
	logger   *log.Logger
}

func NewWorker(repo database.Repository, registry *triggers.Registry, gateway *gatewayrpc.Client, gate *billing.Gate, sessionRegistry *sessions.Registry) *Worker {
	return &Worker{
		repo:     repo,
		registry: registry,
		gateway:  gateway,
		gate:     gate,
		sessions: sessionRegistry,
		logger:   log.New(log.Writer(), "[INBOX] ", log.LstdFlags),
	}
}

// WithMetrics attaches a metrics registry; nil-safe if never called.
func (w *Worker) WithMetrics(m *observability.Metrics) *Worker {
	w.metrics = m
	return w
}

// Register binds the worker's handler to q under JobTypeProcessInbox. Call
// before q.Start.
func (w *Worker) Register(q queue.Queue) {
	q.RegisterHandler(JobTypeProcessInbox, w.Handle)
}

// Handle processes one inbox.process job carrying an inbox_id payload.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	inboxID := string(job.Payload)

	row, err := w.repo.GetInboxRow(ctx, inboxID)
	if err != nil {
		return fmt.Errorf("inboxworker: load row %s: %w", inboxID, err)
	}
	if row == nil {
		w.logger.Printf("⚠️ inbox row %s not found, dropping", inboxID)
		return nil
	}

	// Step 1: idempotent reprocess guard.
	claimed, err := w.repo.MarkInboxProcessing(ctx, inboxID)
	if err != nil {
		return fmt.Errorf("inboxworker: mark processing %s: %w", inboxID, err)
	}
	if !claimed {
		w.logger.Printf("↩️ inbox row %s already claimed or not pending, skipping", inboxID)
		return nil
	}

	start := time.Now()
	procErr := w.process(ctx, row)
	if w.metrics != nil {
		w.metrics.InboxProcessingDuration.WithLabelValues(row.Provider).Observe(time.Since(start).Seconds())
	}

	if procErr != nil {
		if markErr := w.repo.MarkInboxFailed(ctx, inboxID, procErr.Error()); markErr != nil {
			w.logger.Printf("❌ failed to mark row %s failed: %v", inboxID, markErr)
		}
		w.recordOutcome("failed")
		return procErr
	}

	if err := w.repo.MarkInboxCompleted(ctx, inboxID); err != nil {
		return fmt.Errorf("inboxworker: mark completed %s: %w", inboxID, err)
	}
	w.recordOutcome("completed")
	return nil
}

func (w *Worker) recordOutcome(outcome string) {
	if w.metrics != nil {
		w.metrics.InboxJobsProcessed.WithLabelValues(outcome).Inc()
	}
}

// process implements steps 3-7: resolve routing, dedup, filter, spawn.
func (w *Worker) process(ctx context.Context, row *database.InboxRow) error {
	var event map[string]interface{}
	if err := json.Unmarshal(row.Payload, &event); err != nil {
		// Malformed payload: terminal for this row, but not a queue retry
		// candidate — the bytes will never parse differently.
		w.logger.Printf("⚠️ inbox row %s has unparseable payload: %v", row.ID, err)
		return nil
	}

	candidates := w.registry.ByProvider(row.Provider)
	if len(candidates) == 0 {
		// Unknown connection/integration: mark completed with 0 processed
		// (spec §4.2 failure handling).
		w.logger.Printf("⚠️ no registered trigger capability for provider %s (row %s)", row.Provider, row.ID)
		return nil
	}

	triggerRows, err := w.resolveTriggers(ctx, row, event)
	if err != nil {
		return err
	}
	if len(triggerRows) == 0 {
		w.logger.Printf("⚠️ no active trigger addressed by inbox row %s (provider %s, external_id %q)", row.ID, row.Provider, row.ExternalID)
		return nil
	}

	for _, t := range triggerRows {
		cap, ok := w.registry.Get(t.Provider)
		if !ok {
			continue
		}
		if err := w.processForTrigger(ctx, &t, cap, event); err != nil {
			return err
		}
	}
	return nil
}

// resolveTriggers narrows the provider-wide trigger set down to only the
// entity this inbox row actually addresses (spec §4.2 step 3, spec §3's
// "organization exclusively owns its triggers" invariant) — never every
// enabled trigger for the bare provider string, which would fan an
// inbound webhook out across every organization on that provider.
//
// Addressing depends on the route the row arrived through:
//   - custom: InboxRow.ExternalID IS the trigger id (/webhooks/custom/:triggerId).
//   - posthog/automation: InboxRow.ExternalID is the automation id
//     (/webhooks/posthog/:automationId, /webhooks/automation/:automationId).
//   - nango/github-app/direct: the row addresses a connected integration.
//     direct already captured its connection/integration id as
//     ExternalID at ingest; nango/github-app defer that resolution here,
//     reading it out of the event payload itself.
func (w *Worker) resolveTriggers(ctx context.Context, row *database.InboxRow, event map[string]interface{}) ([]database.Trigger, error) {
	switch row.Provider {
	case triggers.ProviderCustom:
		if row.ExternalID == "" {
			return nil, nil
		}
		t, err := w.repo.GetTrigger(ctx, row.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("load trigger %s: %w", row.ExternalID, err)
		}
		if t == nil || !t.Enabled || t.Provider != row.Provider || t.TriggerType != database.TriggerTypeWebhook {
			return nil, nil
		}
		return []database.Trigger{*t}, nil

	case triggers.ProviderPostHog, triggers.ProviderAutomation:
		if row.ExternalID == "" {
			return nil, nil
		}
		ts, err := w.repo.ListActiveWebhookTriggersByAutomation(ctx, row.Provider, row.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("list active webhook triggers for automation %s: %w", row.ExternalID, err)
		}
		return ts, nil

	default:
		connectionID := row.ExternalID
		if connectionID == "" {
			connectionID = resolveConnectionID(event)
		}
		if connectionID == "" {
			return nil, nil
		}
		ts, err := w.repo.ListActiveWebhookTriggersByIntegration(ctx, row.Provider, connectionID)
		if err != nil {
			return nil, fmt.Errorf("list active webhook triggers for integration %s: %w", connectionID, err)
		}
		return ts, nil
	}
}

// resolveConnectionID derives the addressed connection/installation id
// from a nango or github-app webhook body, whose shapes carry it under
// different keys.
func resolveConnectionID(event map[string]interface{}) string {
	if id, ok := event["connectionId"].(string); ok && id != "" {
		return id
	}
	if id, ok := event["connection_id"].(string); ok && id != "" {
		return id
	}
	if installation, ok := event["installation"].(map[string]interface{}); ok {
		switch id := installation["id"].(type) {
		case string:
			return id
		case float64:
			return strconv.FormatInt(int64(id), 10)
		}
	}
	return ""
}

func (w *Worker) processForTrigger(ctx context.Context, t *database.Trigger, cap *triggers.Capability, event map[string]interface{}) error {
	dedupKey := cap.IdempotencyKey(event)

	if dedupKey != "" {
		existing, err := w.repo.GetTriggerEventByDedupKey(ctx, t.ID, dedupKey)
		if err != nil {
			return fmt.Errorf("dedup lookup: %w", err)
		}
		if existing != nil {
			w.logger.Printf("↩️ trigger %s dedup_key %s already processed, skipping", t.ID, dedupKey)
			return nil
		}
	}

	var config map[string]interface{}
	_ = json.Unmarshal(t.Config, &config)

	if cap.Filter != nil && !cap.Filter(event, config) {
		return w.writeSkipped(ctx, t, dedupKey, event, database.TriggerEventSkipFilterMismatch)
	}

	automation, err := w.repo.GetAutomation(ctx, t.AutomationID)
	if err != nil {
		return fmt.Errorf("load automation %s: %w", t.AutomationID, err)
	}
	if automation == nil || !automation.Enabled {
		return w.writeSkipped(ctx, t, dedupKey, event, database.TriggerEventSkipAutomationOff)
	}

	running, paused, err := w.sessions.CountRunningAndPaused(ctx, t.OrganizationID)
	if err != nil {
		return fmt.Errorf("count running sessions for %s: %w", t.OrganizationID, err)
	}
	decision := w.gate.Evaluate(ctx, t.OrganizationID, billing.Counts{Running: running, Paused: paused}, billing.OperationSessionStart)
	if !decision.Allowed {
		return w.writeSkipped(ctx, t, dedupKey, event, database.TriggerEventSkipGateDenied)
	}

	payload, _ := json.Marshal(event)
	var parsedContext map[string]interface{}
	if cap.Context != nil {
		parsedContext = cap.Context(event)
	}
	parsedContextJSON, _ := json.Marshal(parsedContext)

	triggerEvent := &database.TriggerEvent{
		ID:             ids.NewULID(),
		TriggerID:      t.ID,
		OrganizationID: t.OrganizationID,
		RawPayload:     payload,
		ParsedContext:  parsedContextJSON,
		DedupKey:       dedupKey,
		Status:         "processing",
	}

	if err := w.repo.CreateTriggerEvent(ctx, triggerEvent); err != nil {
		return fmt.Errorf("create trigger_event: %w", err)
	}

	sess, err := w.sessions.Create(ctx, t.OrganizationID, "", "", database.ClientTypeAutomation, nil)
	if err != nil {
		if updErr := w.repo.UpdateTriggerEventStatus(ctx, triggerEvent.ID, "failed", "", ""); updErr != nil {
			w.logger.Printf("❌ failed to mark trigger_event %s failed: %v", triggerEvent.ID, updErr)
		}
		w.recordTriggerEvent("failed")
		return fmt.Errorf("create session row for trigger_event %s: %w", triggerEvent.ID, err)
	}

	resp, err := w.gateway.CreateSession(ctx, gatewayrpc.CreateSessionRequest{
		SessionID:      sess.ID,
		OrganizationID: t.OrganizationID,
		AutomationID:   t.AutomationID,
		TriggerEventID: triggerEvent.ID,
		ClientType:     database.ClientTypeAutomation,
		Context:        parsedContext,
	})
	if err != nil {
		if relErr := w.sessions.Release(ctx, sess, database.SessionStatusFailed, ""); relErr != nil {
			w.logger.Printf("❌ failed to release session %s after gateway error: %v", sess.ID, relErr)
		}
		if updErr := w.repo.UpdateTriggerEventStatus(ctx, triggerEvent.ID, "failed", "", ""); updErr != nil {
			w.logger.Printf("❌ failed to mark trigger_event %s failed: %v", triggerEvent.ID, updErr)
		}
		w.recordTriggerEvent("failed")
		return fmt.Errorf("allocate sandbox for session %s: %w", sess.ID, err)
	}

	if err := w.sessions.BindSandbox(ctx, sess, resp.SandboxID, database.SessionStatusRunning); err != nil {
		w.logger.Printf("❌ failed to bind sandbox for session %s: %v", sess.ID, err)
	}

	w.recordTriggerEvent("completed")
	return w.repo.UpdateTriggerEventStatus(ctx, triggerEvent.ID, "completed", "", sess.ID)
}

func (w *Worker) recordTriggerEvent(status string) {
	if w.metrics != nil {
		w.metrics.TriggerEventsCreated.WithLabelValues(status).Inc()
	}
}

func (w *Worker) writeSkipped(ctx context.Context, t *database.Trigger, dedupKey string, event map[string]interface{}, reason string) error {
	payload, _ := json.Marshal(event)
	triggerEvent := &database.TriggerEvent{
		ID:             ids.NewULID(),
		TriggerID:      t.ID,
		OrganizationID: t.OrganizationID,
		RawPayload:     payload,
		DedupKey:       dedupKey,
		Status:         "skipped",
		SkipReason:     reason,
	}
	if err := w.repo.CreateTriggerEvent(ctx, triggerEvent); err != nil {
		return fmt.Errorf("create skipped trigger_event: %w", err)
	}
	w.recordTriggerEvent("skipped")
	return w.repo.UpdateTriggerEventStatus(ctx, triggerEvent.ID, "skipped", reason, "")
}
