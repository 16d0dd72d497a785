// Package adapters provides the Action Engine's Nango-proxied integration
// adapters: every approved ActionInvocation (spec §4.5) is executed as one
// HTTP call through Nango's unified API, rather than this repo hand-rolling
// a per-integration SDK.
//
// Grounded on internal/webhooks/dispatcher.go's http.NewRequest+
// httpClient.Do delivery shape, reused for outbound action dispatch
// instead of inbound webhook delivery.
package adapters

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/proliferate/automation-core/internal/database"
)

// NangoProxyAdapter executes an action by proxying it through Nango's
// per-connection action endpoint, the same integration surface the
// Inbox Ingress's webhook routing already assumes (spec §4.1/§4.2).
type NangoProxyAdapter struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

func NewNangoProxyAdapter(baseURL, secretKey string) *NangoProxyAdapter {
	return &NangoProxyAdapter{
		baseURL:    baseURL,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Execute proxies invocation.Params to Nango's action endpoint for
// invocation.IntegrationID, authenticating with the adapter's Nango secret
// key; the token the caller resolved, if non-empty, is sent in the
// Provider-Config-Key header (spec §4.5 "adapter execution").
func (a *NangoProxyAdapter) Execute(ctx context.Context, invocation *database.ActionInvocation, token string) ([]byte, error) {
	url := fmt.Sprintf("%s/connection/%s/action/%s", a.baseURL, invocation.IntegrationID, invocation.Action)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(invocation.Params))
	if err != nil {
		return nil, fmt.Errorf("adapters: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.secretKey)
	if token != "" {
		req.Header.Set("Provider-Config-Key", token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("adapters: execute %s/%s: %w", invocation.Integration, invocation.Action, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("adapters: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("adapters: %s/%s returned status %d: %s", invocation.Integration, invocation.Action, resp.StatusCode, body)
	}
	return body, nil
}
