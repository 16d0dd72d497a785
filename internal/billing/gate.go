// Package billing implements the Session Gate: the single authoritative
// decision point for whether an organization may start, resume, or
// cli_connect a session (spec §4.4).
//
// Grounded on escrow.KillSwitch.IsKilled's read-mostly "deny fast, log
// once" hot-path shape, composed with escrow.EscrowGate's injected
// dependency-set pattern — here the dependency is database.Repository
// reads (OrgBilling is DB/cache-backed, not in-process state) plus a
// Redis-backed shadow-balance read cache (spec §5's staleness allowance).
package billing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/proliferate/automation-core/internal/database"
	"github.com/proliferate/automation-core/internal/errs"
	"github.com/proliferate/automation-core/internal/observability"
)

// GatedOperation is a tagged variant of the operations the gate admits or
// denies (Design Notes §9's "tagged variants" guidance).
type GatedOperation string

const (
	OperationSessionStart  GatedOperation = "session_start"
	OperationSessionResume GatedOperation = "session_resume"
	OperationCLIConnect    GatedOperation = "cli_connect"
)

// Counts carries the concurrency inputs the gate needs; callers compute
// these from the session registry.
type Counts struct {
	Running int
	Paused  int
}

// Decision is the outcome of one Evaluate call.
type Decision struct {
	Allowed bool
	Code    errs.GateCode
	Message string
	Action  string
}

// Gate evaluates admission for session lifecycle operations.
type Gate struct {
	repo              database.Repository
	redis             *redis.Client
	billingEnabled    bool
	minCreditsToStart int64
	now               func() time.Time
	metrics           *observability.Metrics
	logger            *log.Logger
}

func NewGate(repo database.Repository, redisClient *redis.Client, billingEnabled bool, minCreditsToStart int64) *Gate {
	return &Gate{
		repo:              repo,
		redis:             redisClient,
		billingEnabled:    billingEnabled,
		minCreditsToStart: minCreditsToStart,
		now:               time.Now,
		logger:            log.New(log.Writer(), "[GATE] ", log.LstdFlags),
	}
}

// WithMetrics attaches a metrics registry; nil-safe if never called.
func (g *Gate) WithMetrics(m *observability.Metrics) *Gate {
	g.metrics = m
	return g
}

// Evaluate implements the fail-closed algorithm of spec §4.4. Any DB
// error, missing record, or timeout is a deny, never a silent pass.
func (g *Gate) Evaluate(ctx context.Context, orgID string, counts Counts, op GatedOperation) Decision {
	decision := g.evaluate(ctx, orgID, counts)
	if g.metrics != nil {
		code := string(decision.Code)
		if decision.Allowed {
			code = "allowed"
		}
		g.metrics.GateDecisions.WithLabelValues(string(op), code).Inc()
	}
	return decision
}

func (g *Gate) evaluate(ctx context.Context, orgID string, counts Counts) Decision {
	if !g.billingEnabled {
		return Decision{Allowed: true}
	}

	bill, err := g.repo.GetOrgBilling(ctx, orgID)
	if err != nil {
		g.logger.Printf("❌ gate: org_billing lookup failed for %s: %v", orgID, err)
		return Decision{Code: errs.GateCodeBillingNotConfigured, Message: "billing lookup failed"}
	}
	if bill == nil {
		return Decision{Code: errs.GateCodeBillingNotConfigured, Message: "organization has no billing record"}
	}

	switch bill.BillingState {
	case database.BillingStateUnconfigured:
		return Decision{Code: errs.GateCodeUnconfigured, Message: "billing is not configured for this organization"}
	case database.BillingStateSuspended:
		return Decision{Code: errs.GateCodeSuspended, Message: "organization billing is suspended"}
	case database.BillingStateGrace:
		if bill.GraceExpiresAt != "" && g.now().UTC().Format(time.RFC3339) >= bill.GraceExpiresAt {
			return Decision{Code: errs.GateCodeGraceExpired, Message: "grace period has expired", Action: "terminate_sessions"}
		}
		if g.shadowBalance(ctx, bill) < g.minCreditsToStart {
			return Decision{Code: errs.GateCodeNoCredits, Message: "insufficient credits during grace period"}
		}
	case database.BillingStateTrial:
		if g.shadowBalance(ctx, bill) < g.minCreditsToStart {
			return Decision{Code: errs.GateCodeNoCredits, Message: "insufficient trial credits"}
		}
	case database.BillingStateActive:
		// external billing provider is authoritative in active state; no
		// balance check in the hot path.
	}

	if counts.Running >= bill.MaxConcurrentSessions {
		return Decision{Code: errs.GateCodeConcurrentLimit, Message: fmt.Sprintf("concurrency limit %d reached", bill.MaxConcurrentSessions)}
	}

	return Decision{Allowed: true}
}

// shadowBalance prefers a Redis-cached read of the shadow balance when
// available, falling back to the OrgBilling row's value; the gate never
// calls the external billing provider in the hot path.
func (g *Gate) shadowBalance(ctx context.Context, bill *database.OrgBilling) int64 {
	if g.redis == nil {
		return bill.ShadowBalance
	}
	val, err := g.redis.Get(ctx, shadowBalanceKey(bill.OrganizationID)).Int64()
	if err != nil {
		return bill.ShadowBalance
	}
	return val
}

func shadowBalanceKey(orgID string) string {
	return "billing:shadow_balance:" + orgID
}
