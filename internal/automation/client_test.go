package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cadbridge-labs/cadbridge-go/internal/domain"
)

type staticTokens struct{ token string }

func (s staticTokens) AppToken(ctx context.Context) (string, error) { return s.token, nil }

func TestListBundlesFollowsPagination(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/appbundles" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer app-token" {
			t.Fatalf("missing bearer token, got %q", got)
		}
		calls++
		page := Page{Data: []string{"a.One+v1"}}
		if r.URL.Query().Get("page") == "" {
			page.PaginationToken = "next"
		} else {
			page.Data = []string{"a.Two+v1"}
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, staticTokens{token: "app-token"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	names, err := client.ListBundles(context.Background())
	if err != nil {
		t.Fatalf("list bundles: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 listing calls, got %d", calls)
	}
	if len(names) != 2 || names[0] != "a.One+v1" || names[1] != "a.Two+v1" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestListBundlesStopsOnRepeatedToken(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(Page{Data: []string{"a.One+v1"}, PaginationToken: "stuck"})
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, staticTokens{token: "app-token"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := client.ListBundles(context.Background()); err == nil {
		t.Fatal("expected error for listing that never drains")
	}
	if calls != 2 {
		t.Fatalf("expected 2 listing calls before giving up, got %d", calls)
	}
}

func TestListActivitiesBoundsPageCount(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(Page{Data: []string{"a.Act+v1"}, PaginationToken: fmt.Sprintf("t%d", calls)})
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, staticTokens{token: "app-token"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := client.ListActivities(context.Background()); err == nil {
		t.Fatal("expected error once the page cap is reached")
	}
	if calls != maxListPages {
		t.Fatalf("expected %d listing calls, got %d", maxListPages, calls)
	}
}

func TestSubmitWorkItemNormalizesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/workitems" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var item WorkItem
		if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
			t.Fatalf("decode work item: %v", err)
		}
		if item.ActivityID != "nick.Export+v1" {
			t.Fatalf("unexpected activity id %q", item.ActivityID)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "wi-1", "status": "Pending"})
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, staticTokens{token: "app-token"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	status, err := client.SubmitWorkItem(context.Background(), WorkItem{
		ActivityID: "nick.Export+v1",
		Arguments: map[string]domain.ArgumentReference{
			"sourceDoc": {URL: "https://example.com/in", Verb: domain.VerbGet},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if status.ID != "wi-1" || status.Status != domain.JobStatePending {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestSubmitWorkItemRejectionWrapsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"activity not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, staticTokens{token: "app-token"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	_, err = client.SubmitWorkItem(context.Background(), WorkItem{
		ActivityID: "nick.Export+v1",
		Arguments: map[string]domain.ArgumentReference{
			"sourceDoc": {URL: "https://example.com/in", Verb: domain.VerbGet},
		},
	})
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
}

func TestUploadPackageSendsFormFieldsAndFile(t *testing.T) {
	dir := t.TempDir()
	packagePath := filepath.Join(dir, "bundle.zip")
	if err := os.WriteFile(packagePath, []byte("zip-bytes"), 0o644); err != nil {
		t.Fatalf("write package: %v", err)
	}

	var gotKey, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotKey = r.FormValue("key")
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("file part: %v", err)
		}
		defer func() { _ = file.Close() }()
		gotFile = header.Filename
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewHTTPClient("http://farm.example.test", staticTokens{token: "app-token"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	target := UploadTarget{
		EndpointURL: srv.URL,
		FormData:    map[string]string{"key": "apps/bundle.zip"},
	}
	if err := client.UploadPackage(context.Background(), target, packagePath); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if gotKey != "apps/bundle.zip" {
		t.Fatalf("form field not forwarded, got %q", gotKey)
	}
	if gotFile != "bundle.zip" {
		t.Fatalf("unexpected file name %q", gotFile)
	}
}

func TestGetWorkItemStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/workitems/wi-9" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "wi-9", "status": "success", "reportUrl": "https://reports/wi-9"})
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, staticTokens{token: "app-token"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	status, err := client.GetWorkItemStatus(context.Background(), "wi-9")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != domain.JobStateSuccess || status.ReportURL == "" {
		t.Fatalf("unexpected status: %+v", status)
	}
}
