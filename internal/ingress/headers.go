package ingress

import "net/http"

// whitelistedHeaders is the subset of inbound headers preserved on the
// InboxRow (spec §4.1: "preserve a whitelisted subset of headers
// (content-type, provider signature/event/delivery headers, user-agent)").
var whitelistedHeaders = []string{
	"Content-Type",
	"User-Agent",
	"X-Nango-Hmac-Sha256",
	"X-Hub-Signature-256",
	"X-Hub-Event",
	"X-Github-Delivery",
	"X-Github-Event",
	"X-Posthog-Event",
}

func captureHeaders(h http.Header) map[string]string {
	captured := make(map[string]string)
	for _, name := range whitelistedHeaders {
		if v := h.Get(name); v != "" {
			captured[name] = v
		}
	}
	return captured
}
