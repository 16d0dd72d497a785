package wakebus

import (
	"context"
	"log"

	"github.com/proliferate/automation-core/internal/database"
)

// WakeableClient is satisfied by every async client type that can be
// woken when a user message arrives on another client (spec §4.6: Slack,
// CLI). Wake calls MUST be idempotent: a second wake before the first
// completes is a no-op.
type WakeableClient interface {
	Wake(ctx context.Context, sessionID string, metadata map[string]string, source, content, userID string) error
}

// SessionSubscriber implements spec §4.6 steps 1-5: subscribe, filter,
// resolve the session's async client, dispatch the wake.
type SessionSubscriber struct {
	bus     *Bus
	repo    database.Repository
	clients map[string]WakeableClient
	unsub   func()
	logger  *log.Logger
}

func NewSessionSubscriber(bus *Bus, repo database.Repository, clients map[string]WakeableClient) *SessionSubscriber {
	return &SessionSubscriber{
		bus:     bus,
		repo:    repo,
		clients: clients,
		logger:  log.New(log.Writer(), "[WAKE-SUB] ", log.LstdFlags),
	}
}

// Start subscribes to the bus (spec §4.6 step 1).
func (s *SessionSubscriber) Start() {
	s.unsub = s.bus.Subscribe("", func(ctx context.Context, frame Frame) {
		s.handle(ctx, frame)
	})
}

// Stop unsubscribes and drops buffered messages (spec §4.6
// "Cancellation").
func (s *SessionSubscriber) Stop() {
	if s.unsub != nil {
		s.unsub()
	}
}

func (s *SessionSubscriber) handle(ctx context.Context, frame Frame) {
	session, err := s.repo.GetSession(ctx, frame.SessionID)
	if err != nil {
		s.logger.Printf("❌ failed to load session %s for wake: %v", frame.SessionID, err)
		return
	}
	if session == nil || session.ClientType == "" {
		// step 3: "If no async client → drop."
		return
	}

	client, ok := s.clients[session.ClientType]
	if !ok {
		s.logger.Printf("⚠️ no registered WakeableClient for client_type %s, dropping wake for session %s", session.ClientType, frame.SessionID)
		return
	}

	if err := client.Wake(ctx, frame.SessionID, session.ClientMetadata, frame.Source, frame.Content, frame.UserID); err != nil {
		s.logger.Printf("❌ wake failed for session %s client %s: %v", frame.SessionID, session.ClientType, err)
	}
}
