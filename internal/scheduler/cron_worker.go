package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/proliferate/automation-core/internal/billing"
	"github.com/proliferate/automation-core/internal/database"
	"github.com/proliferate/automation-core/internal/gatewayrpc"
	"github.com/proliferate/automation-core/internal/ids"
	"github.com/proliferate/automation-core/internal/observability"
	"github.com/proliferate/automation-core/internal/sessions"
)

// CronWorker translates one scheduled fire into a TriggerEvent (spec §4.3
// "Cron worker (per fired job)").
type CronWorker struct {
	repo     database.Repository
	gateway  *gatewayrpc.Client
	gate     *billing.Gate
	sessions *sessions.Registry
	now      func() time.Time
	metrics  *observability.Metrics
	logger   *log.Logger
}

func NewCronWorker(repo database.Repository, gateway *gatewayrpc.Client, gate *billing.Gate, sessionRegistry *sessions.Registry) *CronWorker {
	return &CronWorker{
		repo:     repo,
		gateway:  gateway,
		gate:     gate,
		sessions: sessionRegistry,
		now:      time.Now,
		logger:   log.New(log.Writer(), "[CRON] ", log.LstdFlags),
	}
}

// WithMetrics attaches a metrics registry; nil-safe if never called.
func (w *CronWorker) WithMetrics(m *observability.Metrics) *CronWorker {
	w.metrics = m
	return w
}

func (w *CronWorker) recordFire(outcome string) {
	if w.metrics != nil {
		w.metrics.SchedulerFires.WithLabelValues(outcome).Inc()
	}
}

// Fire implements the per-fire steps 1-5. Any error is swallowed into a
// skipped TriggerEvent per spec §4.3's failure handling, except for
// conditions where no trigger row exists to attach a TriggerEvent to.
func (w *CronWorker) Fire(ctx context.Context, triggerID string) {
	t, err := w.repo.GetTrigger(ctx, triggerID)
	if err != nil {
		w.logger.Printf("❌ failed to load trigger %s: %v", triggerID, err)
		return
	}
	if t == nil || !t.Enabled || (t.TriggerType != database.TriggerTypeScheduled && t.TriggerType != database.TriggerTypePolling) {
		w.logger.Printf("↩️ trigger %s missing/disabled/not scheduled, skipping fire", triggerID)
		w.recordFire("skipped")
		return
	}

	// t.RepeatJobKey is the trigger's stable cron-registration id (set once
	// by Scheduler.Register) and must never back the dedup key: it is the
	// same value on every fire, so using it here would collapse every
	// independent tick of a recurring trigger into a single TriggerEvent.
	// The dedup key instead identifies *this* fire, so only redelivery of
	// the same fire (clock skew, worker-restart redelivery) dedups.
	dedupKey := fmt.Sprintf("scheduled:%s:%d", t.ID, w.now().Unix())

	existing, err := w.repo.GetTriggerEventByDedupKey(ctx, t.ID, dedupKey)
	if err != nil {
		w.logger.Printf("❌ dedup lookup failed for trigger %s: %v", t.ID, err)
		w.writeSkipped(ctx, t, dedupKey, database.TriggerEventSkipRunCreateFailed)
		w.recordFire("failed")
		return
	}
	if existing != nil {
		w.logger.Printf("↩️ trigger %s dedup_key %s already fired, skipping", t.ID, dedupKey)
		w.recordFire("dedup")
		return
	}

	automation, err := w.repo.GetAutomation(ctx, t.AutomationID)
	if err != nil || automation == nil || !automation.Enabled {
		w.writeSkipped(ctx, t, dedupKey, database.TriggerEventSkipAutomationOff)
		w.recordFire("skipped")
		return
	}

	gateDenied, err := w.createRun(ctx, t, dedupKey)
	if err != nil {
		w.logger.Printf("❌ run create failed for trigger %s: %v", t.ID, err)
		w.writeSkipped(ctx, t, dedupKey, database.TriggerEventSkipRunCreateFailed)
		w.recordFire("failed")
		return
	}
	if gateDenied {
		w.recordFire("skipped")
		return
	}
	w.recordFire("completed")
}

// createRun returns (true, nil) when the Session Gate denied the
// operation (a skipped TriggerEvent was already written), and a non-nil
// error only for unexpected failures.
func (w *CronWorker) createRun(ctx context.Context, t *database.Trigger, dedupKey string) (bool, error) {
	running, paused, err := w.sessions.CountRunningAndPaused(ctx, t.OrganizationID)
	if err != nil {
		return false, fmt.Errorf("count running sessions for %s: %w", t.OrganizationID, err)
	}
	decision := w.gate.Evaluate(ctx, t.OrganizationID, billing.Counts{Running: running, Paused: paused}, billing.OperationSessionStart)
	if !decision.Allowed {
		w.writeSkipped(ctx, t, dedupKey, database.TriggerEventSkipGateDenied)
		return true, nil
	}

	triggerEvent := &database.TriggerEvent{
		ID:             ids.NewULID(),
		TriggerID:      t.ID,
		OrganizationID: t.OrganizationID,
		DedupKey:       dedupKey,
		Status:         "processing",
	}
	if err := w.repo.CreateTriggerEvent(ctx, triggerEvent); err != nil {
		return false, fmt.Errorf("create trigger_event: %w", err)
	}

	sess, err := w.sessions.Create(ctx, t.OrganizationID, "", "", database.ClientTypeAutomation, nil)
	if err != nil {
		_ = w.repo.UpdateTriggerEventStatus(ctx, triggerEvent.ID, "failed", "", "")
		return false, err
	}

	resp, err := w.gateway.CreateSession(ctx, gatewayrpc.CreateSessionRequest{
		SessionID:      sess.ID,
		OrganizationID: t.OrganizationID,
		AutomationID:   t.AutomationID,
		TriggerEventID: triggerEvent.ID,
		ClientType:     database.ClientTypeAutomation,
	})
	if err != nil {
		_ = w.sessions.Release(ctx, sess, database.SessionStatusFailed, "")
		_ = w.repo.UpdateTriggerEventStatus(ctx, triggerEvent.ID, "failed", "", "")
		return false, err
	}

	if err := w.sessions.BindSandbox(ctx, sess, resp.SandboxID, database.SessionStatusRunning); err != nil {
		w.logger.Printf("❌ failed to bind sandbox for session %s: %v", sess.ID, err)
	}
	return false, w.repo.UpdateTriggerEventStatus(ctx, triggerEvent.ID, "completed", "", sess.ID)
}

func (w *CronWorker) writeSkipped(ctx context.Context, t *database.Trigger, dedupKey, reason string) {
	triggerEvent := &database.TriggerEvent{
		ID:             ids.NewULID(),
		TriggerID:      t.ID,
		OrganizationID: t.OrganizationID,
		DedupKey:       dedupKey,
		Status:         "skipped",
		SkipReason:     reason,
	}
	if err := w.repo.CreateTriggerEvent(ctx, triggerEvent); err != nil {
		w.logger.Printf("❌ failed to write skipped trigger_event for %s: %v", t.ID, err)
		return
	}
	_ = w.repo.UpdateTriggerEventStatus(ctx, triggerEvent.ID, "skipped", reason, "")
}
