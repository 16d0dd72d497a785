// Package gc is Inbox GC & Housekeeping: ticker-driven retention deletion
// of webhook_inbox rows (spec §4.8).
//
// Grounded on reputation.TrustScoreDecayScheduler's ticker-loop
// (run()/select{ticker.C,stopCh}/sweep()) shape, generalized from score
// decay to row deletion by (status, completed_at).
package gc

import (
	"context"
	"log"
	"time"

	"github.com/proliferate/automation-core/internal/database"
	"github.com/proliferate/automation-core/internal/observability"
)

var terminalStatuses = []string{
	database.InboxStatusCompleted,
	database.InboxStatusFailed,
	database.InboxStatusSkipped,
}

// Sweeper periodically deletes terminal InboxRows older than a retention
// window.
type Sweeper struct {
	repo      database.Repository
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	metrics   *observability.Metrics
	stopCh    chan struct{}
	logger    *log.Logger
}

// WithMetrics attaches a metrics registry; nil-safe if never called.
func (s *Sweeper) WithMetrics(m *observability.Metrics) *Sweeper {
	s.metrics = m
	return s
}

func NewSweeper(repo database.Repository, interval, retention time.Duration) *Sweeper {
	return &Sweeper{
		repo:      repo,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		logger:    log.New(log.Writer(), "[GC] ", log.LstdFlags),
	}
}

// Start begins the ticker loop as a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop halts the sweeper.
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Printf("🚀 inbox GC started (interval=%s retention=%s)", s.interval, s.retention)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopCh:
			s.logger.Println("🛑 inbox GC stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.retention).UTC().Format(time.RFC3339)
	deleted, err := s.repo.DeleteInboxRowsBefore(ctx, terminalStatuses, cutoff)
	if err != nil {
		s.logger.Printf("❌ sweep failed: %v", err)
		return
	}
	if deleted > 0 {
		s.logger.Printf("🧹 deleted %d expired inbox rows older than %s", deleted, cutoff)
		if s.metrics != nil {
			s.metrics.InboxRowsDeleted.Add(float64(deleted))
		}
	}
}
