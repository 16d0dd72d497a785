// Package modalclient is the out-of-scope collaborator client for the
// Modal sandbox provider (spec §4.7's "modal" SandboxProvider path) — a
// thin HTTP wrapper satisfying snapshotbuilder.SandboxProvider, not a
// reimplementation of Modal's own build pipeline.
//
// Grounded on internal/gatewayrpc/client.go's NewRequestWithContext +
// bearer-token request shape, reused verbatim for a second out-of-scope
// collaborator.
package modalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/proliferate/automation-core/internal/snapshotbuilder"
)

type createSnapshotRequest struct {
	ConfigurationID string                      `json:"configurationId"`
	Repos           []snapshotbuilder.RepoRef `json:"repos"`
}

type createSnapshotResponse struct {
	SnapshotID string `json:"snapshotId"`
}

// Client implements snapshotbuilder.SandboxProvider against Modal's build
// API.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// CreateConfigurationSnapshot asks Modal to build and persist a sandbox
// base image for configurationID (spec §4.7 step 3).
func (c *Client) CreateConfigurationSnapshot(ctx context.Context, configurationID string, repos []snapshotbuilder.RepoRef) (string, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(createSnapshotRequest{ConfigurationID: configurationID, Repos: repos}); err != nil {
		return "", fmt.Errorf("modalclient: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/snapshots", &buf)
	if err != nil {
		return "", fmt.Errorf("modalclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("modalclient: create snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("modalclient: create snapshot returned status %d", resp.StatusCode)
	}

	var out createSnapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("modalclient: decode response: %w", err)
	}
	return out.SnapshotID, nil
}

var _ snapshotbuilder.SandboxProvider = (*Client)(nil)
