package database

import "time"

// ============================================================================
// DATA MODELS — automation runtime core entities
// ============================================================================

// InboxRow is a durable, unparsed snapshot of a received webhook.
type InboxRow struct {
	ID          string            `json:"id"`
	Provider    string            `json:"provider"`
	ExternalID  string            `json:"external_id,omitempty"`
	Headers     map[string]string `json:"headers"`
	Payload     []byte            `json:"payload"`
	Signature   string            `json:"signature,omitempty"`
	ReceivedAt  string            `json:"received_at"`
	Status      string            `json:"status"`
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"last_error,omitempty"`
	CompletedAt string            `json:"completed_at,omitempty"`
}

const (
	InboxStatusPending    = "pending"
	InboxStatusProcessing = "processing"
	InboxStatusCompleted  = "completed"
	InboxStatusFailed     = "failed"
	InboxStatusSkipped    = "skipped"
)

// Trigger is a registered source that produces events for an Automation.
type Trigger struct {
	ID            string  `json:"id"`
	OrganizationID string `json:"organization_id"`
	AutomationID  string  `json:"automation_id"`
	Provider      string  `json:"provider"`
	TriggerType   string  `json:"trigger_type"`
	IntegrationID string  `json:"integration_id,omitempty"`
	Config        []byte  `json:"config"`
	Enabled       bool    `json:"enabled"`
	PollingCron   string  `json:"polling_cron,omitempty"`
	RepeatJobKey  string  `json:"repeat_job_key,omitempty"`
}

const (
	TriggerTypeWebhook   = "webhook"
	TriggerTypePolling   = "polling"
	TriggerTypeScheduled = "scheduled"
)

// TriggerEvent is one external happening mapped to one trigger.
type TriggerEvent struct {
	ID                string `json:"id"`
	TriggerID         string `json:"trigger_id"`
	OrganizationID    string `json:"organization_id"`
	ExternalEventID   string `json:"external_event_id,omitempty"`
	ProviderEventType string `json:"provider_event_type,omitempty"`
	RawPayload        []byte `json:"raw_payload"`
	ParsedContext     []byte `json:"parsed_context,omitempty"`
	DedupKey          string `json:"dedup_key,omitempty"`
	Status            string `json:"status"`
	SkipReason        string `json:"skip_reason,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
	CreatedAt         string `json:"created_at"`
	ProcessedAt       string `json:"processed_at,omitempty"`
}

const (
	TriggerEventSkipFilterMismatch    = "filter_mismatch"
	TriggerEventSkipAutomationOff     = "automation_disabled"
	TriggerEventSkipRunCreateFailed   = "run_create_failed"
	TriggerEventSkipGateDenied        = "gate_denied"
)

// AutomationRun is a single firing of an Automation.
type AutomationRun struct {
	ID             string `json:"id"`
	AutomationID   string `json:"automation_id"`
	TriggerEventID string `json:"trigger_event_id,omitempty"`
	OrganizationID string `json:"organization_id"`
	Status         string `json:"status"`
	SessionID      string `json:"session_id,omitempty"`
	QueuedAt       string `json:"queued_at"`
	CompletedAt    string `json:"completed_at,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

const (
	RunStatusQueued    = "queued"
	RunStatusEnriching = "enriching"
	RunStatusReady     = "ready"
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusNeedsHuman = "needs_human"
	RunStatusTimedOut  = "timed_out"
)

// Session is an active or historical AI working context.
type Session struct {
	ID               string            `json:"id"`
	OrganizationID   string            `json:"organization_id"`
	ConfigurationID  string            `json:"configuration_id,omitempty"`
	SandboxID        string            `json:"sandbox_id,omitempty"`
	SandboxProvider  string            `json:"sandbox_provider"`
	Status           string            `json:"status"`
	PauseReason      string            `json:"pause_reason,omitempty"`
	ClientType       string            `json:"client_type,omitempty"`
	ClientMetadata   map[string]string `json:"client_metadata,omitempty"`
	SnapshotID       string            `json:"snapshot_id,omitempty"`
	CreatedAt        string            `json:"created_at"`
	UpdatedAt        string            `json:"updated_at,omitempty"`
}

const (
	SessionStatusStarting   = "starting"
	SessionStatusRunning    = "running"
	SessionStatusIdle       = "idle"
	SessionStatusPaused     = "paused"
	SessionStatusCompleted  = "completed"
	SessionStatusFailed     = "failed"
	SessionStatusRecovering = "recovering"
)

const (
	ClientTypeWeb        = "web"
	ClientTypeSlack      = "slack"
	ClientTypeCLI        = "cli"
	ClientTypeAutomation = "automation"
)

// ActionInvocation is a single AI-requested external action.
type ActionInvocation struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	OrganizationID string     `json:"organization_id"`
	IntegrationID  string     `json:"integration_id,omitempty"`
	Integration    string     `json:"integration"`
	Action         string     `json:"action"`
	RiskLevel      string     `json:"risk_level"`
	Params         []byte     `json:"params"`
	Status         string     `json:"status"`
	ApprovedBy     string     `json:"approved_by,omitempty"`
	ApprovedAt     string     `json:"approved_at,omitempty"`
	ExpiresAt      string     `json:"expires_at,omitempty"`
	Result         []byte     `json:"result,omitempty"`
	Error          string     `json:"error,omitempty"`
	DurationMs     int64      `json:"duration_ms,omitempty"`
	CreatedAt      string     `json:"created_at"`
}

const (
	ActionStatusPending   = "pending"
	ActionStatusApproved  = "approved"
	ActionStatusDenied    = "denied"
	ActionStatusExecuting = "executing"
	ActionStatusCompleted = "completed"
	ActionStatusFailed    = "failed"
	ActionStatusExpired   = "expired"
)

const (
	RiskLevelRead   = "read"
	RiskLevelWrite  = "write"
	RiskLevelDanger = "danger"
)

// ApprovalGrant is a reusable grant recorded by an approve call in grant
// mode — future matching actions bypass approval until scope or count is
// exhausted.
type ApprovalGrant struct {
	SessionID    string `json:"session_id"`
	Integration  string `json:"integration"`
	ActionScope  string `json:"action_scope"`
	MaxCalls     int    `json:"max_calls"`
	RemainingCalls int  `json:"remaining_calls"`
	GrantedBy    string `json:"granted_by"`
	CreatedAt    string `json:"created_at"`
}

// OrgBilling is the authoritative credit/state record per organization.
type OrgBilling struct {
	OrganizationID   string `json:"organization_id"`
	BillingState     string `json:"billing_state"`
	ShadowBalance    int64  `json:"shadow_balance"`
	GraceExpiresAt   string `json:"grace_expires_at,omitempty"`
	AutumnCustomerID string `json:"autumn_customer_id,omitempty"`
	BillingPlan      string `json:"billing_plan,omitempty"`
	MaxConcurrentSessions int `json:"max_concurrent_sessions"`
	OverageEnabled   bool   `json:"overage_enabled,omitempty"`
	OverageLimit     int64  `json:"overage_limit,omitempty"`
}

const (
	BillingStateUnconfigured = "unconfigured"
	BillingStateTrial        = "trial"
	BillingStateActive       = "active"
	BillingStateGrace        = "grace"
	BillingStateSuspended    = "suspended"
)

// Automation is the user-defined rule bound to a Trigger; only the fields
// the runtime core needs to read are modeled here.
type Automation struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Enabled        bool   `json:"enabled"`
}

// Configuration is a named bundle of repo/workspace references a Session
// boots from.
type Configuration struct {
	ID              string             `json:"id"`
	OrganizationID  string             `json:"organization_id"`
	SandboxProvider string             `json:"sandbox_provider"`
	Status          string             `json:"status"`
	SnapshotID      string             `json:"snapshot_id,omitempty"`
	Repos           []ConfigurationRepo `json:"repos"`
}

const (
	ConfigurationStatusPending  = "pending"
	ConfigurationStatusBuilding = "building"
	ConfigurationStatusDefault  = "default"
	ConfigurationStatusReady    = "ready"
	ConfigurationStatusFailed   = "failed"
)

type ConfigurationRepo struct {
	URL           string `json:"url"`
	Token         string `json:"token,omitempty"`
	WorkspacePath string `json:"workspace_path"`
	Branch        string `json:"branch,omitempty"`
	Private       bool   `json:"private"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
