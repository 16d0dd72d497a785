// Package triggers is the capability registry of provider trigger
// definitions (spec Design Notes §9: "Interface polymorphism over
// inheritance" — WebhookTrigger/PollingTrigger/ScheduledTrigger are
// capability sets, not class hierarchies; the registry is a map from id to
// capability record, dispatch is by lookup).
//
// Grounded on webhooks.Registry's map[id]*record shape, generalized from
// webhook-subscription delivery targets to provider trigger capability
// descriptors.
package triggers

import (
	"fmt"
	"log"
	"sync"
)

// Descriptor is the public, serializable view of a capability record,
// returned by GET /providers and /providers/:id.
type Descriptor struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	TriggerType string `json:"triggerType"`
	ConfigSchema Schema `json:"configSchema"`
}

// Schema is a declarative validation spec for provider-specific trigger
// config (Design Notes §9: "implement as a declarative validation spec...
// with a safeParse that returns {ok,data}|{ok:false,error}").
type Schema struct {
	RequiredFields []string `json:"requiredFields"`
}

// SafeParse validates raw config against the schema's required fields.
func (s Schema) SafeParse(config map[string]interface{}) (map[string]interface{}, error) {
	for _, field := range s.RequiredFields {
		if _, ok := config[field]; !ok {
			return nil, fmt.Errorf("missing required config field %q", field)
		}
	}
	return config, nil
}

// Capability is the capability set every registered trigger provider
// implements: identity/metadata plus the pure functions the Inbox Worker
// and Cron Worker call (filter, idempotencyKey, context).
type Capability struct {
	ID           string
	Provider     string
	TriggerType  string
	ConfigSchema Schema

	// IdempotencyKey derives the dedup key for one provider event
	// (spec §4.2 step 4).
	IdempotencyKey func(event map[string]interface{}) string

	// Filter evaluates the trigger config's event filter predicate
	// (spec §4.2 step 5). Returns true if the event should proceed.
	Filter func(event map[string]interface{}, config map[string]interface{}) bool

	// Context extracts the parsed_context stored on the TriggerEvent.
	Context func(event map[string]interface{}) map[string]interface{}
}

// Registry is the process-wide map from provider id to capability record.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Capability
	logger *log.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Capability),
		logger: log.New(log.Writer(), "[TRIGGERS] ", log.LstdFlags),
	}
}

// Register adds (or replaces) a capability record.
func (r *Registry) Register(cap *Capability) error {
	if cap.ID == "" {
		return fmt.Errorf("triggers: capability id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[cap.ID] = cap
	r.logger.Printf("📡 registered trigger capability %s (provider=%s type=%s)", cap.ID, cap.Provider, cap.TriggerType)
	return nil
}

// Get looks up a capability by id.
func (r *Registry) Get(id string) (*Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cap, ok := r.byID[id]
	return cap, ok
}

// ByProvider returns every capability registered for a provider (a
// provider may register more than one trigger type).
func (r *Registry) ByProvider(provider string) []*Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Capability
	for _, cap := range r.byID {
		if cap.Provider == provider {
			out = append(out, cap)
		}
	}
	return out
}

// ListAll returns descriptors for every registered capability, the
// payload of GET /providers.
func (r *Registry) ListAll() map[string]Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Descriptor, len(r.byID))
	for id, cap := range r.byID {
		out[id] = Descriptor{
			ID:           cap.ID,
			Provider:     cap.Provider,
			TriggerType:  cap.TriggerType,
			ConfigSchema: cap.ConfigSchema,
		}
	}
	return out
}

// Describe returns the descriptor for a single capability, the payload of
// GET /providers/:id.
func (r *Registry) Describe(id string) (Descriptor, bool) {
	cap, ok := r.Get(id)
	if !ok {
		return Descriptor{}, false
	}
	return Descriptor{
		ID:           cap.ID,
		Provider:     cap.Provider,
		TriggerType:  cap.TriggerType,
		ConfigSchema: cap.ConfigSchema,
	}, true
}
