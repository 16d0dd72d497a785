package modalclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/proliferate/automation-core/internal/snapshotbuilder"
)

func TestClientCreateConfigurationSnapshotPostsRequestAndReturnsID(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"snapshotId":"snap-123"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "modal-token")
	repos := []snapshotbuilder.RepoRef{{URL: "https://github.com/acme/widgets", Branch: "main"}}

	id, err := c.CreateConfigurationSnapshot(context.Background(), "config-1", repos)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	if id != "snap-123" {
		t.Fatalf("unexpected snapshot id: %s", id)
	}
	if gotPath != "/snapshots" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer modal-token" {
		t.Fatalf("unexpected auth header: %s", gotAuth)
	}
}

func TestClientCreateConfigurationSnapshotReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("build failed"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "modal-token")
	if _, err := c.CreateConfigurationSnapshot(context.Background(), "config-1", nil); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
