// Package snapshotbuilder builds a reusable sandbox base image per
// Configuration so new sessions boot in seconds (spec §4.7).
//
// Grounded on state.SnapshotService's interface-driven capture/verify
// shape (CaptureState hashes and stores a result keyed by an id),
// generalized from content-hash verification to the spec's
// provider-snapshot algorithm; the provider client is an interface
// (SandboxProvider) so tests inject a fake, mirroring
// snapshotServiceImpl's swappable backing store.
package snapshotbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/proliferate/automation-core/internal/database"
	"github.com/proliferate/automation-core/internal/queue"
)

// ModalProvider is the only sandbox provider with a snapshot concept
// (spec §4.7 step 2).
const ModalProvider = "modal"

// JobTypeBuildSnapshot is the queue job type the Configuration Snapshot
// Builder subscribes to, enqueued on configuration creation or a
// force-rebuild request (spec §4.7).
const JobTypeBuildSnapshot = "configuration.snapshot.build"

// RepoRef is one repo+workspace path a configuration snapshot bundles.
type RepoRef struct {
	URL           string
	Token         string
	WorkspacePath string
	Branch        string
}

// SandboxProvider is the out-of-scope collaborator that actually builds a
// sandbox image.
type SandboxProvider interface {
	CreateConfigurationSnapshot(ctx context.Context, configurationID string, repos []RepoRef) (snapshotID string, err error)
}

// GitHubTokenResolver resolves the access token for a private repo URL.
// Returns an empty token (not an error) for public repos.
type GitHubTokenResolver func(ctx context.Context, repoURL string) (token string, err error)

// BuildJob is the idempotency input (spec §4.7: "job input
// {configurationId, force?}").
type BuildJob struct {
	ConfigurationID string
	Force           bool
}

// Builder implements the Configuration Snapshot Builder.
type Builder struct {
	repo         database.Repository
	provider     SandboxProvider
	resolveToken GitHubTokenResolver
	logger       *log.Logger
}

func NewBuilder(repo database.Repository, provider SandboxProvider, resolveToken GitHubTokenResolver) *Builder {
	return &Builder{
		repo:         repo,
		provider:     provider,
		resolveToken: resolveToken,
		logger:       log.New(log.Writer(), "[SNAPSHOT] ", log.LstdFlags),
	}
}

// Register binds the builder's handler to q under JobTypeBuildSnapshot.
// Call before q.Start.
func (b *Builder) Register(q queue.Queue) {
	q.RegisterHandler(JobTypeBuildSnapshot, b.Handle)
}

// Handle unmarshals a BuildJob from job.Payload and runs Build, so the
// builder drains the same queue abstraction the inbox worker does rather
// than requiring its own dedicated goroutine/transport.
func (b *Builder) Handle(ctx context.Context, job queue.Job) error {
	var bj BuildJob
	if err := json.Unmarshal(job.Payload, &bj); err != nil {
		return fmt.Errorf("snapshotbuilder: decode build job: %w", err)
	}
	return b.Build(ctx, bj)
}

// Build runs the idempotent algorithm of spec §4.7 steps 1-6.
func (b *Builder) Build(ctx context.Context, job BuildJob) error {
	config, err := b.repo.GetConfiguration(ctx, job.ConfigurationID)
	if err != nil {
		return fmt.Errorf("snapshotbuilder: load configuration %s: %w", job.ConfigurationID, err)
	}
	if config == nil {
		return fmt.Errorf("snapshotbuilder: configuration %s not found", job.ConfigurationID)
	}

	// Pre-check: already built and not forced.
	if !job.Force && config.SnapshotID != "" &&
		(config.Status == database.ConfigurationStatusDefault || config.Status == database.ConfigurationStatusReady) {
		return nil
	}

	// Step 2: providers without a snapshot concept short-circuit to
	// default with no snapshot.
	if config.SandboxProvider != ModalProvider {
		return b.repo.UpdateConfigurationStatus(ctx, config.ID, database.ConfigurationStatusDefault, "")
	}

	if err := b.repo.UpdateConfigurationStatus(ctx, config.ID, database.ConfigurationStatusBuilding, ""); err != nil {
		return fmt.Errorf("snapshotbuilder: mark building: %w", err)
	}

	repos, err := b.resolveRepos(ctx, config.Repos)
	if err != nil {
		if markErr := b.repo.UpdateConfigurationStatus(ctx, config.ID, database.ConfigurationStatusFailed, ""); markErr != nil {
			b.logger.Printf("❌ failed to mark configuration %s failed: %v", config.ID, markErr)
		}
		return err
	}

	snapshotID, err := b.provider.CreateConfigurationSnapshot(ctx, config.ID, repos)
	if err != nil {
		if markErr := b.repo.UpdateConfigurationStatus(ctx, config.ID, database.ConfigurationStatusFailed, ""); markErr != nil {
			b.logger.Printf("❌ failed to mark configuration %s failed: %v", config.ID, markErr)
		}
		return fmt.Errorf("snapshotbuilder: create snapshot for %s: %w", config.ID, err)
	}

	return b.repo.UpdateConfigurationStatus(ctx, config.ID, database.ConfigurationStatusDefault, snapshotID)
}

// resolveRepos implements step 4: resolve a GitHub token per repo, failing
// explicitly for private repos with no token.
func (b *Builder) resolveRepos(ctx context.Context, repos []database.ConfigurationRepo) ([]RepoRef, error) {
	out := make([]RepoRef, 0, len(repos))
	for _, r := range repos {
		token := r.Token
		if token == "" && b.resolveToken != nil {
			resolved, err := b.resolveToken(ctx, r.URL)
			if err != nil {
				return nil, fmt.Errorf("resolve token for %s: %w", r.URL, err)
			}
			token = resolved
		}
		if r.Private && token == "" {
			return nil, fmt.Errorf("repo %s is private and no access token is configured", r.URL)
		}
		out = append(out, RepoRef{URL: r.URL, Token: token, WorkspacePath: r.WorkspacePath, Branch: r.Branch})
	}
	return out, nil
}
