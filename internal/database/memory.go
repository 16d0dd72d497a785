package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository is an in-memory Repository used by package tests so no
// live Postgres is required, matching the teacher's direct-against-fakes
// test style (tests/governance_e2e_test.go).
type MemoryRepository struct {
	mu sync.Mutex

	inbox          map[string]*InboxRow
	triggers       map[string]*Trigger
	triggerEvents  map[string]*TriggerEvent
	automations    map[string]*Automation
	automationRuns map[string]*AutomationRun
	sessions       map[string]*Session
	actions        map[string]*ActionInvocation
	grants         map[string]*ApprovalGrant
	orgBilling     map[string]*OrgBilling
	configurations map[string]*Configuration
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		inbox:          make(map[string]*InboxRow),
		triggers:       make(map[string]*Trigger),
		triggerEvents:  make(map[string]*TriggerEvent),
		automations:    make(map[string]*Automation),
		automationRuns: make(map[string]*AutomationRun),
		sessions:       make(map[string]*Session),
		actions:        make(map[string]*ActionInvocation),
		grants:         make(map[string]*ApprovalGrant),
		orgBilling:     make(map[string]*OrgBilling),
		configurations: make(map[string]*Configuration),
	}
}

// SeedAutomation, SeedOrgBilling, SeedConfiguration let tests set up fixture
// rows directly.
func (m *MemoryRepository) SeedAutomation(a *Automation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.automations[a.ID] = a
}

func (m *MemoryRepository) SeedOrgBilling(b *OrgBilling) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgBilling[b.OrganizationID] = b
}

func (m *MemoryRepository) SeedConfiguration(c *Configuration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configurations[c.ID] = c
}

func (m *MemoryRepository) SeedTrigger(t *Trigger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[t.ID] = t
}

func (m *MemoryRepository) InsertInboxRow(ctx context.Context, row *InboxRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row.Status == "" {
		row.Status = InboxStatusPending
	}
	if row.ReceivedAt == "" {
		row.ReceivedAt = nowRFC3339()
	}
	cp := *row
	m.inbox[row.ID] = &cp
	return nil
}

func (m *MemoryRepository) GetInboxRow(ctx context.Context, id string) (*InboxRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.inbox[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (m *MemoryRepository) MarkInboxProcessing(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.inbox[id]
	if !ok {
		return false, fmt.Errorf("inbox row %s not found", id)
	}
	if row.Status != InboxStatusPending {
		return false, nil
	}
	row.Status = InboxStatusProcessing
	return true, nil
}

func (m *MemoryRepository) MarkInboxCompleted(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.inbox[id]
	if !ok {
		return fmt.Errorf("inbox row %s not found", id)
	}
	row.Status = InboxStatusCompleted
	row.CompletedAt = nowRFC3339()
	return nil
}

func (m *MemoryRepository) MarkInboxFailed(ctx context.Context, id, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.inbox[id]
	if !ok {
		return fmt.Errorf("inbox row %s not found", id)
	}
	row.Status = InboxStatusFailed
	row.Attempts++
	row.LastError = lastErr
	row.CompletedAt = nowRFC3339()
	return nil
}

func (m *MemoryRepository) DeleteInboxRowsBefore(ctx context.Context, statuses []string, cutoff string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	terminal := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		terminal[s] = true
	}
	deleted := 0
	for id, row := range m.inbox {
		if terminal[row.Status] && row.CompletedAt != "" && row.CompletedAt < cutoff {
			delete(m.inbox, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryRepository) CreateTrigger(ctx context.Context, t *Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.triggers[t.ID] = &cp
	return nil
}

func (m *MemoryRepository) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryRepository) SetTriggerRepeatJobKey(ctx context.Context, id, repeatJobKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[id]
	if !ok {
		return fmt.Errorf("trigger %s not found", id)
	}
	t.RepeatJobKey = repeatJobKey
	return nil
}

func (m *MemoryRepository) SetTriggerEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[id]
	if !ok {
		return fmt.Errorf("trigger %s not found", id)
	}
	t.Enabled = enabled
	return nil
}

func (m *MemoryRepository) ListEnabledScheduledTriggers(ctx context.Context) ([]Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Trigger
	for _, t := range m.triggers {
		if t.TriggerType == TriggerTypeScheduled && t.Enabled {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) ListActiveWebhookTriggersByAutomation(ctx context.Context, provider, automationID string) ([]Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Trigger
	for _, t := range m.triggers {
		if t.TriggerType == TriggerTypeWebhook && t.Provider == provider && t.Enabled && t.AutomationID == automationID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) ListActiveWebhookTriggersByIntegration(ctx context.Context, provider, integrationID string) ([]Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Trigger
	for _, t := range m.triggers {
		if t.TriggerType == TriggerTypeWebhook && t.Provider == provider && t.Enabled && t.IntegrationID == integrationID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) CreateTriggerEvent(ctx context.Context, e *TriggerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt == "" {
		e.CreatedAt = nowRFC3339()
	}
	if e.DedupKey != "" {
		for _, existing := range m.triggerEvents {
			if existing.TriggerID == e.TriggerID && existing.DedupKey == e.DedupKey {
				return fmt.Errorf("trigger_event dedup conflict: trigger=%s dedup_key=%s", e.TriggerID, e.DedupKey)
			}
		}
	}
	cp := *e
	m.triggerEvents[e.ID] = &cp
	return nil
}

func (m *MemoryRepository) GetTriggerEventByDedupKey(ctx context.Context, triggerID, dedupKey string) (*TriggerEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dedupKey == "" {
		return nil, nil
	}
	for _, e := range m.triggerEvents {
		if e.TriggerID == triggerID && e.DedupKey == dedupKey {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) UpdateTriggerEventStatus(ctx context.Context, id, status, skipReason, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.triggerEvents[id]
	if !ok {
		return fmt.Errorf("trigger_event %s not found", id)
	}
	e.Status = status
	e.ProcessedAt = nowRFC3339()
	if skipReason != "" {
		e.SkipReason = skipReason
	}
	if sessionID != "" {
		e.SessionID = sessionID
	}
	return nil
}

func (m *MemoryRepository) GetAutomation(ctx context.Context, id string) (*Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.automations[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) CreateAutomationRun(ctx context.Context, r *AutomationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.QueuedAt == "" {
		r.QueuedAt = nowRFC3339()
	}
	if r.Status == "" {
		r.Status = RunStatusQueued
	}
	cp := *r
	m.automationRuns[r.ID] = &cp
	return nil
}

func (m *MemoryRepository) UpdateAutomationRunStatus(ctx context.Context, id, status, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.automationRuns[id]
	if !ok {
		return fmt.Errorf("automation_run %s not found", id)
	}
	r.Status = status
	if errorMessage != "" {
		r.ErrorMessage = errorMessage
	}
	if status == RunStatusSucceeded || status == RunStatusFailed || status == RunStatusTimedOut {
		r.CompletedAt = nowRFC3339()
	}
	return nil
}

func (m *MemoryRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryRepository) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.CreatedAt == "" {
		s.CreatedAt = nowRFC3339()
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryRepository) UpdateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return fmt.Errorf("session %s not found", s.ID)
	}
	cp := *s
	cp.UpdatedAt = nowRFC3339()
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryRepository) CountSessionsByStatus(ctx context.Context, orgID string, statuses []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}
	count := 0
	for _, s := range m.sessions {
		if s.OrganizationID == orgID && wanted[s.Status] {
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) CreateActionInvocation(ctx context.Context, a *ActionInvocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.CreatedAt == "" {
		a.CreatedAt = nowRFC3339()
	}
	if a.Status == "" {
		a.Status = ActionStatusPending
	}
	cp := *a
	m.actions[a.ID] = &cp
	return nil
}

func (m *MemoryRepository) GetActionInvocation(ctx context.Context, id string) (*ActionInvocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) UpdateActionInvocation(ctx context.Context, a *ActionInvocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actions[a.ID]; !ok {
		return fmt.Errorf("action_invocation %s not found", a.ID)
	}
	cp := *a
	m.actions[a.ID] = &cp
	return nil
}

func grantKey(sessionID, integration, scope string) string {
	return sessionID + "|" + integration + "|" + scope
}

func (m *MemoryRepository) GetApprovalGrant(ctx context.Context, sessionID, integration, scope string) (*ApprovalGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[grantKey(sessionID, integration, scope)]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (m *MemoryRepository) UpsertApprovalGrant(ctx context.Context, g *ApprovalGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.CreatedAt == "" {
		g.CreatedAt = nowRFC3339()
	}
	cp := *g
	m.grants[grantKey(g.SessionID, g.Integration, g.ActionScope)] = &cp
	return nil
}

func (m *MemoryRepository) ConsumeApprovalGrant(ctx context.Context, sessionID, integration, scope string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[grantKey(sessionID, integration, scope)]
	if !ok || g.RemainingCalls <= 0 {
		return false, nil
	}
	g.RemainingCalls--
	return true, nil
}

func (m *MemoryRepository) GetOrgBilling(ctx context.Context, orgID string) (*OrgBilling, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.orgBilling[orgID]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryRepository) GetConfiguration(ctx context.Context, id string) (*Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configurations[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryRepository) UpdateConfigurationStatus(ctx context.Context, id, status, snapshotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configurations[id]
	if !ok {
		return fmt.Errorf("configuration %s not found", id)
	}
	c.Status = status
	if snapshotID != "" {
		c.SnapshotID = snapshotID
	}
	return nil
}
