// Package ingress is the Webhook Ingress of spec §4.1: verify signatures
// where possible and durably enqueue the payload for async processing in
// ≤200ms, never routing, matching, hydrating, or making outbound calls on
// the request path.
//
// Grounded on internal/api/server.go's mux.Router + CORS-middleware
// construction; HMAC verification reuses webhooks.Registry's SignPayload
// algorithm (signature.go).
package ingress

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/proliferate/automation-core/internal/database"
	"github.com/proliferate/automation-core/internal/ids"
	"github.com/proliferate/automation-core/internal/observability"
	"github.com/proliferate/automation-core/internal/queue"
	"github.com/proliferate/automation-core/internal/triggers"
)

// JobTypeProcessInbox is the queue job type the Inbox Worker subscribes to.
const JobTypeProcessInbox = "inbox.process"

// Secrets holds the HMAC keys for providers whose signatures are verified
// synchronously at the ingress boundary (spec §4.1: nango, github-app).
type Secrets struct {
	NangoSecretKey         string
	GitHubAppWebhookSecret string
}

// Server is the webhook ingress HTTP surface.
type Server struct {
	repo     database.Repository
	q        queue.Queue
	registry *triggers.Registry
	secrets  Secrets
	metrics  *observability.Metrics
	logger   *log.Logger
}

func NewServer(repo database.Repository, q queue.Queue, registry *triggers.Registry, secrets Secrets) *Server {
	return &Server{
		repo:     repo,
		q:        q,
		registry: registry,
		secrets:  secrets,
		logger:   log.New(log.Writer(), "[INGRESS] ", log.LstdFlags),
	}
}

// WithMetrics attaches a metrics registry; nil-safe if never called.
func (s *Server) WithMetrics(m *observability.Metrics) *Server {
	s.metrics = m
	return s
}

// NewRouter builds the gorilla/mux router for the inbound HTTP surface of
// spec §6.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.Use(corsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/providers", s.handleListProviders).Methods("GET")
	r.HandleFunc("/providers/{id}", s.handleDescribeProvider).Methods("GET")

	r.HandleFunc("/webhooks/nango", s.handleNango).Methods("POST")
	r.HandleFunc("/webhooks/github-app", s.handleGitHubApp).Methods("POST")
	r.HandleFunc("/webhooks/custom/{triggerId}", s.handleDeferred(triggers.ProviderCustom, "triggerId")).Methods("POST")
	r.HandleFunc("/webhooks/posthog/{automationId}", s.handleDeferred(triggers.ProviderPostHog, "automationId")).Methods("POST")
	r.HandleFunc("/webhooks/automation/{automationId}", s.handleDeferred(triggers.ProviderAutomation, "automationId")).Methods("POST")
	r.HandleFunc("/webhooks/direct/{providerId}", s.handleDirect).Methods("POST")

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": s.registry.ListAll()})
}

func (s *Server) handleDescribeProvider(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	desc, ok := s.registry.Describe(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

// handleNango verifies x-nango-hmac-sha256 against the raw body before
// accepting (spec §4.1/§6).
func (s *Server) handleNango(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	sig := r.Header.Get("X-Nango-Hmac-Sha256")
	if !VerifyHMAC(body, sig, s.secrets.NangoSecretKey) {
		s.logger.Printf("❌ nango signature mismatch")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	s.accept(w, r, triggers.ProviderNango, "", body)
}

// handleGitHubApp verifies x-hub-signature-256 ("sha256=<hex>") against the
// raw body before accepting.
func (s *Server) handleGitHubApp(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	sig := r.Header.Get("X-Hub-Signature-256")
	if !VerifyHMAC(body, sig, s.secrets.GitHubAppWebhookSecret) {
		s.logger.Printf("❌ github-app signature mismatch")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	s.accept(w, r, triggers.ProviderGitHubApp, "", body)
}

// handleDeferred builds a handler for providers whose signature
// verification is deferred to the async worker (spec §4.1: custom,
// posthog, automation), addressing the entity via the named path param as
// external_id.
func (s *Server) handleDeferred(provider, pathVar string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		externalID := mux.Vars(r)[pathVar]
		s.accept(w, r, provider, externalID, body)
	}
}

// handleDirect requires one of integrationId, integration_id, or
// connectionId in payload or query string (spec §4.1/§6), deferring
// signature verification to the worker.
func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["providerId"]
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	routingID := firstNonEmpty(
		r.URL.Query().Get("integrationId"),
		r.URL.Query().Get("integration_id"),
		r.URL.Query().Get("connectionId"),
		extractJSONField(body, "integrationId"),
		extractJSONField(body, "integration_id"),
		extractJSONField(body, "connectionId"),
	)
	if routingID == "" {
		http.Error(w, "missing routing identity (integrationId/integration_id/connectionId)", http.StatusBadRequest)
		return
	}

	s.accept(w, r, providerID, routingID, body)
}

// accept is the fast-ack path shared by every route: insert InboxRow,
// enqueue inbox.process, respond. No routing, matching, hydration, or
// outbound call happens here (spec §4.1).
func (s *Server) accept(w http.ResponseWriter, r *http.Request, provider, externalID string, body []byte) {
	if s.metrics != nil {
		s.metrics.WebhooksReceived.WithLabelValues(provider).Inc()
	}

	row := &database.InboxRow{
		ID:         ids.NewULID(),
		Provider:   provider,
		ExternalID: externalID,
		Headers:    captureHeaders(r.Header),
		Payload:    body,
		Signature:  r.Header.Get("X-Nango-Hmac-Sha256") + r.Header.Get("X-Hub-Signature-256"),
		Status:     database.InboxStatusPending,
	}

	if err := s.repo.InsertInboxRow(r.Context(), row); err != nil {
		// Deliberate: still ack 200 on unexpected failure after the
		// signature check, per spec §4.1, to avoid poisoning the
		// provider's retry budget under storm conditions.
		s.logger.Printf("❌ failed to insert inbox row for %s: %v", provider, err)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	if err := s.q.Enqueue(r.Context(), JobTypeProcessInbox, []byte(row.ID)); err != nil {
		s.logger.Printf("❌ failed to enqueue inbox job %s: %v", row.ID, err)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func extractJSONField(body []byte, field string) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if v, ok := payload[field].(string); ok {
		return v
	}
	return ""
}
