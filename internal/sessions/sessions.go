// Package sessions owns Session CRUD, status transitions, and ownership
// scoping (spec §3 Session, §4.4's "Session Registry" 10% slice).
//
// Grounded on internal/database/supabase.go's CRUD method shape and
// multitenancy.TenantManager's ownership-scoping idiom (context-scoped
// tenant ID on every read).
package sessions

import (
	"context"
	"fmt"

	"github.com/proliferate/automation-core/internal/database"
	"github.com/proliferate/automation-core/internal/errs"
	"github.com/proliferate/automation-core/internal/ids"
)

// sandboxBoundStatuses is the set for which the sandbox_id ≠ nil
// invariant holds (spec §3 Session invariant).
var sandboxBoundStatuses = map[string]bool{
	database.SessionStatusStarting:   true,
	database.SessionStatusRunning:    true,
	database.SessionStatusIdle:       true,
	database.SessionStatusRecovering: true,
}

// Registry is the Session Registry component.
type Registry struct {
	repo database.Repository
}

func NewRegistry(repo database.Repository) *Registry {
	return &Registry{repo: repo}
}

// Create starts a new session row in `starting` status with no sandbox
// bound yet.
func (r *Registry) Create(ctx context.Context, orgID, configurationID, sandboxProvider, clientType string, clientMetadata map[string]string) (*database.Session, error) {
	s := &database.Session{
		ID:              ids.NewULID(),
		OrganizationID:  orgID,
		ConfigurationID: configurationID,
		SandboxProvider: sandboxProvider,
		Status:          database.SessionStatusStarting,
		ClientType:      clientType,
		ClientMetadata:  clientMetadata,
	}
	if err := r.repo.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("sessions: create: %w", err)
	}
	return s, nil
}

// Get returns the session if it belongs to orgID, else nil.
func (r *Registry) Get(ctx context.Context, orgID, sessionID string) (*database.Session, error) {
	s, err := r.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sessions: get %s: %w", sessionID, err)
	}
	if s == nil || s.OrganizationID != orgID {
		return nil, nil
	}
	return s, nil
}

// BindSandbox transitions a session into a sandbox-bound status, enforcing
// the sandbox_id ≠ nil ↔ status ∈ {starting,running,idle,recovering}
// invariant.
func (r *Registry) BindSandbox(ctx context.Context, s *database.Session, sandboxID, status string) error {
	if !sandboxBoundStatuses[status] {
		return fmt.Errorf("sessions: cannot bind sandbox while transitioning to status %q", status)
	}
	if sandboxID == "" {
		return fmt.Errorf("sessions: sandbox_id is required for status %q", status)
	}
	s.SandboxID = sandboxID
	s.Status = status
	return r.save(ctx, s)
}

// Release transitions a session to a terminal or paused status, clearing
// the bound sandbox (enforcing the inverse direction of the invariant).
func (r *Registry) Release(ctx context.Context, s *database.Session, status, pauseReason string) error {
	if sandboxBoundStatuses[status] {
		return fmt.Errorf("sessions: Release cannot target a sandbox-bound status %q", status)
	}
	s.SandboxID = ""
	s.Status = status
	s.PauseReason = pauseReason
	return r.save(ctx, s)
}

func (r *Registry) save(ctx context.Context, s *database.Session) error {
	if err := r.repo.UpdateSession(ctx, s); err != nil {
		return fmt.Errorf("sessions: update %s: %w", s.ID, err)
	}
	return nil
}

// CountRunningAndPaused returns the Counts input the Session Gate needs.
func (r *Registry) CountRunningAndPaused(ctx context.Context, orgID string) (running, paused int, err error) {
	running, err = r.repo.CountSessionsByStatus(ctx, orgID, []string{
		database.SessionStatusStarting,
		database.SessionStatusRunning,
		database.SessionStatusIdle,
		database.SessionStatusRecovering,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("sessions: count running: %w", err)
	}
	paused, err = r.repo.CountSessionsByStatus(ctx, orgID, []string{database.SessionStatusPaused})
	if err != nil {
		return 0, 0, fmt.Errorf("sessions: count paused: %w", err)
	}
	return running, paused, nil
}

// RequireOwnership is the forbidden-access check for a session: it
// returns errs.ErrForbidden unless the session belongs to orgID.
func RequireOwnership(s *database.Session, orgID string) error {
	if s == nil || s.OrganizationID != orgID {
		return errs.ErrForbidden
	}
	return nil
}
