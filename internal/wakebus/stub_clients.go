package wakebus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// SlackClient wakes a session's Slack thread by posting the frame content
// as a message, grounded on webhooks.Dispatcher's
// http.NewRequest(POST)+httpClient.Do delivery shape. The actual Slack
// workspace integration is an out-of-scope collaborator (spec §1); this
// client only knows how to reach it over the webhook URL carried in the
// session's client metadata.
type SlackClient struct {
	httpClient *http.Client
	inFlight   sync.Map
}

func NewSlackClient() *SlackClient {
	return &SlackClient{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (c *SlackClient) Wake(ctx context.Context, sessionID string, metadata map[string]string, source, content, userID string) error {
	webhookURL := metadata["slack_webhook_url"]
	if webhookURL == "" {
		return fmt.Errorf("wakebus: session %s has no slack_webhook_url in client metadata", sessionID)
	}
	if _, busy := c.inFlight.LoadOrStore(sessionID, struct{}{}); busy {
		return nil
	}
	defer c.inFlight.Delete(sessionID)

	payload, err := json.Marshal(map[string]string{"text": content})
	if err != nil {
		return fmt.Errorf("wakebus: marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("wakebus: build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wakebus: slack wake request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("wakebus: slack wake returned status %d", resp.StatusCode)
	}
	return nil
}

// CLIClient wakes an attached CLI session by POSTing to the local
// long-poll/SSE endpoint the CLI process is holding open. Same shape as
// SlackClient, different target derived from client metadata.
type CLIClient struct {
	httpClient *http.Client
	inFlight   sync.Map
}

func NewCLIClient() *CLIClient {
	return &CLIClient{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (c *CLIClient) Wake(ctx context.Context, sessionID string, metadata map[string]string, source, content, userID string) error {
	callbackURL := metadata["cli_callback_url"]
	if callbackURL == "" {
		return fmt.Errorf("wakebus: session %s has no cli_callback_url in client metadata", sessionID)
	}
	if _, busy := c.inFlight.LoadOrStore(sessionID, struct{}{}); busy {
		return nil
	}
	defer c.inFlight.Delete(sessionID)

	payload, err := json.Marshal(map[string]string{
		"sessionId": sessionID,
		"source":    source,
		"content":   content,
		"userId":    userID,
	})
	if err != nil {
		return fmt.Errorf("wakebus: marshal cli payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("wakebus: build cli request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wakebus: cli wake request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("wakebus: cli wake returned status %d", resp.StatusCode)
	}
	return nil
}
