// Package middleware guards the service-to-service HTTP surface of
// internal/httpapi: a static bearer token check plus organization-context
// extraction, generalized from the teacher's tenant middleware.
//
// Grounded on internal/middleware/tenant.go's header-then-context-inject
// shape; simplified because this core trusts a single upstream caller (the
// Session Gateway, spec §1) rather than validating per-tenant API keys —
// ValidateAPIKey's bcrypt-backed lookup has no counterpart here.
package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
)

type contextKey string

const (
	organizationIDKey contextKey = "organization_id"
	callerIDKey       contextKey = "caller_id"
	callerRoleKey     contextKey = "caller_role"
)

// RequireServiceToken rejects requests whose Authorization header doesn't
// carry the configured SERVICE_TO_SERVICE_AUTH_TOKEN (spec §6). Uses a
// constant-time comparison, the same discipline ingress.VerifyHMAC applies
// to webhook signatures.
func RequireServiceToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			const prefix = "Bearer "
			auth := r.Header.Get("Authorization")
			if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			presented := auth[len(prefix):]
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				http.Error(w, "invalid service token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithOrganizationContext extracts X-Tenant-ID (the organization id the
// Gateway stamps on every call, see gatewayrpc.Client.do) into the request
// context, required by every internal/httpapi route.
func WithOrganizationContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := r.Header.Get("X-Tenant-ID")
		if orgID == "" {
			http.Error(w, "missing X-Tenant-ID", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), organizationIDKey, orgID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OrganizationID reads the organization id injected by
// WithOrganizationContext.
func OrganizationID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(organizationIDKey).(string)
	if !ok || id == "" {
		return "", errors.New("middleware: organization context missing")
	}
	return id, nil
}

// RequireInteractiveCaller rejects any request the Gateway didn't
// authenticate as an interactive user, and injects the Gateway-asserted
// caller id/role into context (spec §4.5's approval precondition: "caller
// role ∈ {owner, admin}; source is interactive user auth, not
// sandbox/service token").
//
// RequireServiceToken alone only proves the call came from the Gateway;
// it says nothing about who the Gateway is acting on behalf of, so a
// sandbox/service-token caller could otherwise self-assert any role in a
// client-supplied request body. The Gateway performs the actual
// interactive-user authentication and is the only party that may set
// X-Caller-Auth: interactive — this core trusts that assertion the same
// way it trusts X-Tenant-ID, never a client-supplied body field.
func RequireInteractiveCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Caller-Auth") != "interactive" {
			http.Error(w, "caller is not an interactively-authenticated user", http.StatusForbidden)
			return
		}
		callerID := r.Header.Get("X-Caller-Id")
		callerRole := r.Header.Get("X-Caller-Role")
		if callerID == "" || callerRole == "" {
			http.Error(w, "missing X-Caller-Id/X-Caller-Role", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), callerIDKey, callerID)
		ctx = context.WithValue(ctx, callerRoleKey, callerRole)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Caller reads the caller id/role injected by RequireInteractiveCaller.
func Caller(ctx context.Context) (id string, role string, err error) {
	id, idOK := ctx.Value(callerIDKey).(string)
	role, roleOK := ctx.Value(callerRoleKey).(string)
	if !idOK || !roleOK || id == "" || role == "" {
		return "", "", errors.New("middleware: caller context missing")
	}
	return id, role, nil
}
