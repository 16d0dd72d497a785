package triggers

import "fmt"

// Built-in provider ids, matching spec §4.1's route table
// (/webhooks/nango, /webhooks/github-app, /webhooks/custom/:triggerId,
// /webhooks/posthog/:automationId, /webhooks/automation/:automationId).
const (
	ProviderNango      = "nango"
	ProviderGitHubApp  = "github-app"
	ProviderCustom     = "custom"
	ProviderPostHog    = "posthog"
	ProviderAutomation = "automation"
)

// RegisterDefaults installs the built-in provider capabilities. Direct
// providers (/webhooks/direct/:providerId) are registered dynamically as
// they're onboarded and are not part of this built-in set.
func RegisterDefaults(r *Registry) error {
	defaults := []*Capability{
		{
			ID:          ProviderNango,
			Provider:    ProviderNango,
			TriggerType: "webhook",
			ConfigSchema: Schema{RequiredFields: []string{"connectionId"}},
			IdempotencyKey: func(event map[string]interface{}) string {
				if id, ok := event["id"].(string); ok {
					return ProviderNango + ":" + id
				}
				return ""
			},
			Filter:  defaultFilter,
			Context: defaultContext,
		},
		{
			ID:          ProviderGitHubApp,
			Provider:    ProviderGitHubApp,
			TriggerType: "webhook",
			ConfigSchema: Schema{RequiredFields: []string{}},
			IdempotencyKey: func(event map[string]interface{}) string {
				if id, ok := event["delivery_id"].(string); ok {
					return ProviderGitHubApp + ":" + id
				}
				return ""
			},
			Filter:  defaultFilter,
			Context: defaultContext,
		},
		{
			ID:          ProviderCustom,
			Provider:    ProviderCustom,
			TriggerType: "webhook",
			ConfigSchema: Schema{RequiredFields: []string{}},
			IdempotencyKey: func(event map[string]interface{}) string {
				if id, ok := event["external_event_id"].(string); ok {
					return ProviderCustom + ":" + id
				}
				return ""
			},
			Filter:  defaultFilter,
			Context: defaultContext,
		},
		{
			ID:          ProviderPostHog,
			Provider:    ProviderPostHog,
			TriggerType: "webhook",
			ConfigSchema: Schema{RequiredFields: []string{}},
			IdempotencyKey: func(event map[string]interface{}) string {
				if id, ok := event["uuid"].(string); ok {
					return ProviderPostHog + ":" + id
				}
				return ""
			},
			Filter:  defaultFilter,
			Context: defaultContext,
		},
		{
			ID:          ProviderAutomation,
			Provider:    ProviderAutomation,
			TriggerType: "webhook",
			ConfigSchema: Schema{RequiredFields: []string{}},
			IdempotencyKey: func(event map[string]interface{}) string {
				if id, ok := event["external_event_id"].(string); ok {
					return ProviderAutomation + ":" + id
				}
				return ""
			},
			Filter:  defaultFilter,
			Context: defaultContext,
		},
	}

	for _, cap := range defaults {
		if err := r.Register(cap); err != nil {
			return fmt.Errorf("triggers: registering default %s: %w", cap.ID, err)
		}
	}
	return nil
}

// defaultFilter matches the event against a "team" constraint if the
// trigger config declares one; otherwise every event passes.
func defaultFilter(event map[string]interface{}, config map[string]interface{}) bool {
	wantTeam, ok := config["team"]
	if !ok {
		return true
	}
	gotTeam, ok := event["team"]
	if !ok {
		return false
	}
	return wantTeam == gotTeam
}

// defaultContext passes the raw event through as parsed context.
func defaultContext(event map[string]interface{}) map[string]interface{} {
	return event
}
