package gitlab

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
)

func TestListTreeFollowsPagination(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/api/v4/projects/group%2Fproj/repository/tree" {
			t.Errorf("unexpected path: %s", r.URL.EscapedPath())
		}
		if r.Header.Get("PRIVATE-TOKEN") != "secret" {
			t.Errorf("missing token header")
		}
		q := r.URL.Query()
		if q.Get("recursive") != "true" || q.Get("per_page") != "2" || q.Get("ref") != "main" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		page := q.Get("page")
		pages = append(pages, page)
		switch page {
		case "1":
			w.Header().Set("X-Next-Page", "2")
			_ = json.NewEncoder(w).Encode([]map[string]string{
				{"path": "README.md", "type": "blob"},
				{"path": "src", "type": "tree"},
			})
		case "2":
			w.Header().Set("X-Next-Page", "")
			_ = json.NewEncoder(w).Encode([]map[string]string{
				{"path": "src/app.py", "type": "blob"},
			})
		default:
			t.Errorf("unexpected page %s", page)
		}
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL, Token: "secret", PageSize: 2})
	entries, err := client.ListTree(context.Background(), "group/proj", "main")
	if err != nil {
		t.Fatalf("ListTree() error = %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 page requests, got %v", pages)
	}
	want := []domain.TreeEntry{
		{Path: "README.md", Kind: domain.EntryBlob},
		{Path: "src", Kind: domain.EntryTree},
		{Path: "src/app.py", Kind: domain.EntryBlob},
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestListTreeWithoutNextPageHeader(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		items := []map[string]string{}
		if page == 1 {
			items = append(items, map[string]string{"path": "a.go", "type": "blob"}, map[string]string{"path": "b.go", "type": "blob"})
		}
		if page == 2 {
			items = append(items, map[string]string{"path": "c.go", "type": "blob"})
		}
		_ = json.NewEncoder(w).Encode(items)
	}))
	defer srv.Close()

	entries, err := New(Options{BaseURL: srv.URL, PageSize: 2}).ListTree(context.Background(), "7", "HEAD")
	if err != nil {
		t.Fatalf("ListTree() error = %v", err)
	}
	if len(entries) != 3 || calls != 2 {
		t.Fatalf("expected 3 entries in 2 calls, got %d in %d", len(entries), calls)
	}
}

func TestListTreeSkipsUnknownKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"path": "a.go", "type": "blob"},
			{"path": "weird", "type": "symlink"},
			{"path": "", "type": "blob"},
		})
	}))
	defer srv.Close()

	entries, err := New(Options{BaseURL: srv.URL}).ListTree(context.Background(), "p", "HEAD")
	if err != nil {
		t.Fatalf("ListTree() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "a.go" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestGetFileDecodesBase64(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/api/v4/projects/group%2Fproj/repository/files/docs%2Fguide.md" {
			t.Errorf("unexpected path: %s", r.URL.EscapedPath())
		}
		if r.URL.Query().Get("ref") != "HEAD" {
			t.Errorf("unexpected ref: %s", r.URL.Query().Get("ref"))
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte("# Guide\n\nПривет")),
		})
	}))
	defer srv.Close()

	got, err := New(Options{BaseURL: srv.URL}).GetFile(context.Background(), "group/proj", "docs/guide.md", "")
	if err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}
	if got != "# Guide\n\nПривет" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestGetFileReplacesInvalidUTF8(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte{'o', 'k', 0xff}),
		})
	}))
	defer srv.Close()

	got, err := New(Options{BaseURL: srv.URL}).GetFile(context.Background(), "p", "f.txt", "HEAD")
	if err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}
	if got != "ok�" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
		{http.StatusRequestTimeout, domain.ErrTemporary},
		{http.StatusBadGateway, domain.ErrTemporary},
		{http.StatusServiceUnavailable, domain.ErrTemporary},
		{http.StatusBadRequest, domain.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"message":"nope"}`, tc.status)
			}))
			defer srv.Close()

			_, err := New(Options{BaseURL: srv.URL}).GetFile(context.Background(), "p", "a.go", "HEAD")
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			var statusErr *HTTPStatusError
			if !errors.As(err, &statusErr) || statusErr.StatusCode != tc.status {
				t.Fatalf("expected HTTPStatusError with %d, got %v", tc.status, err)
			}
		})
	}
}

func TestNetworkErrorIsTemporary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(Options{BaseURL: url}).ListTree(context.Background(), "p", "HEAD")
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestEmptyProjectIsInvalid(t *testing.T) {
	if _, err := New(Options{}).ListTree(context.Background(), " ", "HEAD"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
