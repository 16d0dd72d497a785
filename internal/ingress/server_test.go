package ingress

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/proliferate/automation-core/internal/database"
	"github.com/proliferate/automation-core/internal/queue"
	"github.com/proliferate/automation-core/internal/triggers"
)

func newTestServer() (*Server, *database.MemoryRepository) {
	repo := database.NewMemoryRepository()
	q := queue.NewMemoryQueue(1, 3)
	q.Start(context.Background())
	registry := triggers.NewRegistry()
	triggers.RegisterDefaults(registry)
	secrets := Secrets{NangoSecretKey: "nango-secret", GitHubAppWebhookSecret: "gh-secret"}
	return NewServer(repo, q, registry, secrets), repo
}

func TestHandleNangoAcceptsValidSignatureAndFastAcks(t *testing.T) {
	s, repo := newTestServer()
	body := []byte(`{"id":"LIN-9"}`)
	sig := sign(body, "nango-secret")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/nango", bytes.NewReader(body))
	req.Header.Set("X-Nango-Hmac-Sha256", sig)
	w := httptest.NewRecorder()

	s.NewRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	deleted, err := repo.DeleteInboxRowsBefore(context.Background(), []string{database.InboxStatusPending}, "9999-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if deleted != 0 {
		// pending rows have no CompletedAt yet, so even a sweep naming the
		// pending status must not delete them.
		t.Fatalf("expected pending row to survive the cutoff sweep, deleted %d", deleted)
	}
}

func TestHandleNangoRejectsBadSignature(t *testing.T) {
	s, _ := newTestServer()
	body := []byte(`{"id":"LIN-9"}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/nango", bytes.NewReader(body))
	req.Header.Set("X-Nango-Hmac-Sha256", "not-the-right-signature")
	w := httptest.NewRecorder()

	s.NewRouter().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestHandleDirectRequiresRoutingIdentity(t *testing.T) {
	s, _ := newTestServer()
	body := []byte(`{}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/direct/my-provider", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.NewRouter().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing routing identity, got %d", w.Code)
	}
}

func TestHandleDirectAcceptsConnectionIDInBody(t *testing.T) {
	s, _ := newTestServer()
	body := []byte(`{"connectionId":"conn-123"}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/direct/my-provider", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.NewRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleListProviders(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/providers", nil)
	w := httptest.NewRecorder()

	s.NewRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
