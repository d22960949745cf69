package registryclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/enactprotocol/enact/errcode"
)

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

func TestNew_OCISchemeEnablesMirrorMode(t *testing.T) {
	c, err := New("oci://registry.example.com/enact-mirror")
	if err != nil {
		t.Fatal(err)
	}
	if c.mirror == nil {
		t.Fatal("expected mirror client to be set for an oci:// base URL")
	}
	if c.mirrorRepoPrefix != "registry.example.com/enact-mirror" {
		t.Fatalf("mirrorRepoPrefix = %q", c.mirrorRepoPrefix)
	}
}

func TestMirrorRef_StripsLeadingAtFromNamespacedName(t *testing.T) {
	c, err := New("oci://registry.example.com/enact-mirror")
	if err != nil {
		t.Fatal(err)
	}
	got := c.mirrorRef("@alice/hello", "1.0.0")
	want := "registry.example.com/enact-mirror/alice/hello:1.0.0"
	if got != want {
		t.Fatalf("mirrorRef = %q, want %q", got, want)
	}
}

func TestNew_HTTPSchemeDoesNotEnableMirrorMode(t *testing.T) {
	c, err := New("https://registry.enact.tools")
	if err != nil {
		t.Fatal(err)
	}
	if c.mirror != nil {
		t.Fatal("expected mirror client to stay nil for an https:// base URL")
	}
}

func TestSearch_DecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tools/search" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"tools": []any{}, "total": 0, "limit": 20, "offset": 0, "search_type": "browse",
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.Search(context.Background(), "", nil, 0, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.SearchType != "browse" {
		t.Fatalf("SearchType = %q, want browse", resp.SearchType)
	}
}

func TestDoRaw_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"tool": "ok"})
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithMaxRetries(3))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetTool(context.Background(), "alice/hello"); err != nil {
		t.Fatalf("GetTool: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoRaw_NeverRetries4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": string(errcode.NotFound), "message": "tool not found"},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithMaxRetries(3))
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.GetTool(context.Background(), "alice/missing")
	e, ok := errcode.As(err)
	if !ok || e.Code != errcode.NotFound {
		t.Fatalf("got %v, want NOT_FOUND", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 4xx)", calls)
	}
}
