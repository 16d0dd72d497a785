// Package scheduler maintains one repeatable job per enabled scheduled or
// polling Trigger and translates fires into TriggerEvents (spec §4.3).
//
// Grounded on reputation.TrustScoreDecayScheduler's run()/ticker-select
// shape and github.com/robfig/cron/v3 (confirmed in the retrieved pack's
// rakunlabs-at and other_examples/manifests repos), generalized from one
// repeating sweep to N per-trigger cron registrations.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/proliferate/automation-core/internal/database"
)

// entryMap is a mutex-guarded trigger_id → cron.EntryID map.
type entryMap struct {
	mu   sync.Mutex
	byID map[string]cron.EntryID
}

func newEntryMap() *entryMap {
	return &entryMap{byID: make(map[string]cron.EntryID)}
}

func (m *entryMap) set(triggerID string, entryID cron.EntryID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[triggerID] = entryID
}

func (m *entryMap) get(triggerID string) (cron.EntryID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byID[triggerID]
	return id, ok
}

func (m *entryMap) delete(triggerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, triggerID)
}

// stableJobID is the reconciliation-on-start idempotency key (spec §4.3:
// "stable jobId = scheduled-trigger-<triggerId>").
func stableJobID(triggerID string) string {
	return "scheduled-trigger-" + triggerID
}

// Scheduler owns the process-wide cron clock and the trigger_id →
// cron.EntryID mapping.
type Scheduler struct {
	cron    *cron.Cron
	repo    database.Repository
	fire    func(ctx context.Context, triggerID string)
	entries *entryMap
	logger  *log.Logger
}

func NewScheduler(repo database.Repository, fire func(ctx context.Context, triggerID string)) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		repo:    repo,
		fire:    fire,
		entries: newEntryMap(),
		logger:  log.New(log.Writer(), "[SCHEDULER] ", log.LstdFlags),
	}
}

// Start begins the cron clock and reconciles every enabled scheduled
// trigger (spec §4.3: "On process start, list all enabled scheduled
// triggers and re-register").
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()

	triggers, err := s.repo.ListEnabledScheduledTriggers(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: reconcile: %w", err)
	}
	for _, t := range triggers {
		if err := s.Register(ctx, &t); err != nil {
			s.logger.Printf("❌ failed to reconcile trigger %s: %v", t.ID, err)
		}
	}
	s.logger.Printf("🚀 scheduler started, reconciled %d triggers", len(triggers))
	return nil
}

// Stop drains the cron clock.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// Register installs a repeatable job for t keyed by trigger_id, persists
// the resulting repeat_job_key (spec §4.3 "Scheduler contract").
func (s *Scheduler) Register(ctx context.Context, t *database.Trigger) error {
	if t.PollingCron == "" {
		return fmt.Errorf("trigger %s has no cron expression", t.ID)
	}
	triggerID := t.ID
	entryID, err := s.cron.AddFunc(t.PollingCron, func() {
		s.fire(context.Background(), triggerID)
	})
	if err != nil {
		return fmt.Errorf("register cron %q for trigger %s: %w", t.PollingCron, t.ID, err)
	}

	repeatJobKey := stableJobID(t.ID)
	if err := s.repo.SetTriggerRepeatJobKey(ctx, t.ID, repeatJobKey); err != nil {
		s.cron.Remove(entryID)
		return fmt.Errorf("persist repeat_job_key for trigger %s: %w", t.ID, err)
	}
	s.entries.set(t.ID, entryID)
	return nil
}

// Cancel removes the cron registration for a disabled or deleted trigger.
func (s *Scheduler) Cancel(ctx context.Context, triggerID string) error {
	entryID, ok := s.entries.get(triggerID)
	if !ok {
		return nil
	}
	s.cron.Remove(entryID)
	s.entries.delete(triggerID)
	return s.repo.SetTriggerRepeatJobKey(ctx, triggerID, "")
}
