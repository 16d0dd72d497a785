package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/proliferate/automation-core/internal/actions"
	"github.com/proliferate/automation-core/internal/database"
	"github.com/proliferate/automation-core/internal/middleware"
	"github.com/proliferate/automation-core/internal/queue"
	"github.com/proliferate/automation-core/internal/snapshotbuilder"
)

type fakeAdapter struct{}

func (fakeAdapter) Execute(ctx context.Context, inv *database.ActionInvocation, token string) ([]byte, error) {
	return []byte(`{"ok":true}`), nil
}

func newTestServer(t *testing.T) (*mux.Router, *database.MemoryRepository, *actions.Engine) {
	t.Helper()
	repo := database.NewMemoryRepository()
	engine := actions.NewEngine(repo, actions.AdapterRegistry{"linear": fakeAdapter{}})
	s := NewServer(engine)
	r := mux.NewRouter()
	r.Use(middleware.WithOrganizationContext, middleware.RequireInteractiveCaller)
	s.Mount(r)
	return r, repo, engine
}

func setCaller(req *http.Request, id, role string) {
	req.Header.Set("X-Caller-Auth", "interactive")
	req.Header.Set("X-Caller-Id", id)
	req.Header.Set("X-Caller-Role", role)
}

func TestHandleApproveExecutesAndReturns200(t *testing.T) {
	r, repo, engine := newTestServer(t)
	inv, err := engine.Create(context.Background(), "sess-1", "org-1", "", "linear", "create_issue", database.RiskLevelWrite, []byte(`{}`), time.Hour)
	if err != nil {
		t.Fatalf("seed create: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/actions/sess-1/invocations/"+inv.ID+"/approve", nil)
	req.Header.Set("X-Tenant-ID", "org-1")
	setCaller(req, "user-1", "owner")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	reloaded, _ := repo.GetActionInvocation(context.Background(), inv.ID)
	if reloaded.Status != database.ActionStatusCompleted {
		t.Fatalf("expected completed, got %s", reloaded.Status)
	}
}

func TestHandleApproveRejectsInsufficientRole(t *testing.T) {
	r, _, engine := newTestServer(t)
	inv, _ := engine.Create(context.Background(), "sess-1", "org-1", "", "linear", "create_issue", database.RiskLevelWrite, []byte(`{}`), time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/actions/sess-1/invocations/"+inv.ID+"/approve", nil)
	req.Header.Set("X-Tenant-ID", "org-1")
	setCaller(req, "user-1", "member")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleApproveMissingOrgContextRejected(t *testing.T) {
	r, _, engine := newTestServer(t)
	inv, _ := engine.Create(context.Background(), "sess-1", "org-1", "", "linear", "create_issue", database.RiskLevelWrite, []byte(`{}`), time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/actions/sess-1/invocations/"+inv.ID+"/approve", nil)
	setCaller(req, "user-1", "owner")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without X-Tenant-ID, got %d", rec.Code)
	}
}

func TestHandleApproveRejectsNonInteractiveCaller(t *testing.T) {
	r, _, engine := newTestServer(t)
	inv, _ := engine.Create(context.Background(), "sess-1", "org-1", "", "linear", "create_issue", database.RiskLevelWrite, []byte(`{}`), time.Hour)

	body, _ := json.Marshal(map[string]string{"role": "owner", "approvedBy": "user-1"})
	req := httptest.NewRequest(http.MethodPost, "/actions/sess-1/invocations/"+inv.ID+"/approve", bytes.NewReader(body))
	req.Header.Set("X-Tenant-ID", "org-1")
	// No X-Caller-Auth header: a sandbox/service-token caller must not be
	// able to self-assert a role via the request body.
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-interactive caller, got %d", rec.Code)
	}
}

func TestHandleRebuildSnapshotEnqueuesBuildJob(t *testing.T) {
	repo := database.NewMemoryRepository()
	engine := actions.NewEngine(repo, actions.AdapterRegistry{"linear": fakeAdapter{}})
	s := NewServer(engine)

	q := queue.NewMemoryQueue(1, 1)
	received := make(chan snapshotbuilder.BuildJob, 1)
	q.RegisterHandler(snapshotbuilder.JobTypeBuildSnapshot, func(ctx context.Context, job queue.Job) error {
		var bj snapshotbuilder.BuildJob
		if err := json.Unmarshal(job.Payload, &bj); err != nil {
			return err
		}
		received <- bj
		return nil
	})
	s.WithQueue(q)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	r := mux.NewRouter()
	r.Use(middleware.WithOrganizationContext)
	s.MountConfigurations(r)

	req := httptest.NewRequest(http.MethodPost, "/configurations/cfg-1/snapshot", nil)
	req.Header.Set("X-Tenant-ID", "org-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	select {
	case bj := <-received:
		if bj.ConfigurationID != "cfg-1" {
			t.Fatalf("expected build job for cfg-1, got %+v", bj)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for enqueued build job to be handled")
	}
}

func TestHandleDenyTransitionsToDenied(t *testing.T) {
	r, repo, engine := newTestServer(t)
	inv, _ := engine.Create(context.Background(), "sess-1", "org-1", "", "linear", "create_issue", database.RiskLevelWrite, []byte(`{}`), time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/actions/sess-1/invocations/"+inv.ID+"/deny", nil)
	req.Header.Set("X-Tenant-ID", "org-1")
	setCaller(req, "user-1", "admin")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	reloaded, _ := repo.GetActionInvocation(context.Background(), inv.ID)
	if reloaded.Status != database.ActionStatusDenied {
		t.Fatalf("expected denied, got %s", reloaded.Status)
	}
}
