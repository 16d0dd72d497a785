// Package gatewayrpc is the outbound client to the Session Gateway, the
// out-of-scope collaborator that owns sandbox allocation (spec §1). The
// Inbox Worker and Cron Worker call CreateSession to spawn a session bound
// to a firing TriggerEvent; nothing in this repo allocates a sandbox
// directly.
//
// Grounded on pkg/sdk.Client's NewRequestWithContext + bearer-token +
// tenant-header pattern, reused in shape: a thin net/http wrapper, not a
// generated client.
package gatewayrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CreateSessionRequest asks the gateway to allocate a sandbox for a
// session row this core already created via internal/sessions.Registry
// (spec §4.2 step 7 / §4.3 step 5: Session Registry owns the row, the
// Gateway owns the sandbox bound to it).
type CreateSessionRequest struct {
	SessionID       string                 `json:"sessionId"`
	OrganizationID  string                 `json:"organizationId"`
	AutomationID    string                 `json:"automationId"`
	TriggerEventID  string                 `json:"triggerEventId"`
	ConfigurationID string                 `json:"configurationId,omitempty"`
	ClientType      string                 `json:"clientType"`
	Context         map[string]interface{} `json:"context,omitempty"`
}

// CreateSessionResponse confirms the sandbox allocated for SessionID.
type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
	SandboxID string `json:"sandboxId"`
}

// UpdateSessionRequest patches gateway-owned session fields (status,
// sandbox_id) out of band from this core's own Session Registry.
type UpdateSessionRequest struct {
	Status    string `json:"status,omitempty"`
	SandboxID string `json:"sandboxId,omitempty"`
}

// Client is the HTTP client to the Session Gateway.
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
			Timeout: 10 * time.Second,
		},
	}
}

// CreateSession asks the gateway to allocate a sandbox for req.SessionID
// (spec §4.2 step 7, §4.3 step 5).
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResponse, error) {
	var resp CreateSessionResponse
	if err := c.do(ctx, http.MethodPost, "/internal/sessions", req.OrganizationID, req, &resp); err != nil {
		return nil, fmt.Errorf("gatewayrpc: create session: %w", err)
	}
	return &resp, nil
}

// UpdateSession patches a session's gateway-owned fields.
func (c *Client) UpdateSession(ctx context.Context, orgID, sessionID string, req UpdateSessionRequest) error {
	path := fmt.Sprintf("/internal/sessions/%s", sessionID)
	if err := c.do(ctx, http.MethodPatch, path, orgID, req, nil); err != nil {
		return fmt.Errorf("gatewayrpc: update session: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, orgID string, body interface{}, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	if orgID != "" {
		httpReq.Header.Set("X-Tenant-ID", orgID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
