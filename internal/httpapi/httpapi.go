// Package httpapi is the service-to-service HTTP surface the Session
// Gateway calls to approve or deny a pending ActionInvocation (spec §4.5).
//
// Grounded on internal/handlers/escrow.go's func HandleX(dep *Dep)
// http.HandlerFunc closure pattern, using gorilla/mux the same way
// internal/ingress does.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/proliferate/automation-core/internal/actions"
	"github.com/proliferate/automation-core/internal/errs"
	"github.com/proliferate/automation-core/internal/middleware"
	"github.com/proliferate/automation-core/internal/queue"
	"github.com/proliferate/automation-core/internal/snapshotbuilder"
)

// approveRequest is the body of POST .../approve. Mode "grant" additionally
// records a reusable ApprovalGrant (spec §4.5 "Grant mode"). The caller's
// identity and role are never read from this body — they come from
// middleware.Caller, populated only from Gateway-asserted headers that a
// client cannot forge (spec §4.5's interactive-user-auth precondition).
type approveRequest struct {
	Mode  string        `json:"mode,omitempty"`
	Grant *grantRequest `json:"grant,omitempty"`
}

type grantRequest struct {
	Scope    string `json:"scope"`
	MaxCalls int    `json:"maxCalls"`
}

// rebuildRequest is the body of POST .../snapshot. Force bypasses the
// Snapshot Builder's already-ready pre-check (spec §4.7).
type rebuildRequest struct {
	Force bool `json:"force,omitempty"`
}

// Server wires the Action Engine to an HTTP surface.
type Server struct {
	engine *actions.Engine
	queue  queue.Queue
}

func NewServer(engine *actions.Engine) *Server {
	return &Server{engine: engine}
}

// WithQueue enables POST .../configurations/{id}/snapshot, which enqueues a
// Configuration Snapshot Builder job (spec §4.7's "force-rebuild" trigger).
// Without a queue, MountConfigurations registers nothing.
func (s *Server) WithQueue(q queue.Queue) *Server {
	s.queue = q
	return s
}

// Mount registers the approve/deny routes on r. Callers that also want the
// snapshot force-rebuild route should call MountConfigurations, typically on
// a separate router: approve/deny requires an interactively-authenticated
// caller (middleware.RequireInteractiveCaller), but a force-rebuild may be
// driven by the out-of-scope system that creates Configurations, which has
// no interactive caller to assert.
func (s *Server) Mount(r *mux.Router) {
	r.HandleFunc("/actions/{sessionId}/invocations/{id}/approve", s.handleApprove).Methods("POST")
	r.HandleFunc("/actions/{sessionId}/invocations/{id}/deny", s.handleDeny).Methods("POST")
}

// MountConfigurations registers the snapshot force-rebuild route on r, if
// WithQueue has been called.
func (s *Server) MountConfigurations(r *mux.Router) {
	if s.queue != nil {
		r.HandleFunc("/configurations/{id}/snapshot", s.handleRebuildSnapshot).Methods("POST")
	}
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	orgID, err := middleware.OrganizationID(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	callerID, callerRole, err := middleware.Caller(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	invocationID := mux.Vars(r)["id"]

	var req approveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	var grant *actions.GrantRequest
	if req.Mode == "grant" && req.Grant != nil {
		grant = &actions.GrantRequest{Scope: req.Grant.Scope, MaxCalls: req.Grant.MaxCalls}
	}

	inv, err := s.engine.Approve(r.Context(), invocationID, orgID, callerID, actions.Role(callerRole), grant)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	orgID, err := middleware.OrganizationID(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	callerID, callerRole, err := middleware.Caller(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	invocationID := mux.Vars(r)["id"]

	inv, err := s.engine.Deny(r.Context(), invocationID, orgID, callerID, actions.Role(callerRole))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// handleRebuildSnapshot is the only in-scope trigger this core owns for the
// Configuration Snapshot Builder: configurations themselves are created by
// an out-of-scope system (database.Repository has no CreateConfiguration),
// so the builder's job queue is fed either by that system directly or, for
// an already-existing configuration, by this force-rebuild call.
func (s *Server) handleRebuildSnapshot(w http.ResponseWriter, r *http.Request) {
	if _, err := middleware.OrganizationID(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	configurationID := mux.Vars(r)["id"]

	var req rebuildRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	payload, err := json.Marshal(snapshotbuilder.BuildJob{ConfigurationID: configurationID, Force: req.Force})
	if err != nil {
		http.Error(w, "encode build job", http.StatusInternalServerError)
		return
	}
	if err := s.queue.Enqueue(r.Context(), snapshotbuilder.JobTypeBuildSnapshot, payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), errs.HTTPStatus(err))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
