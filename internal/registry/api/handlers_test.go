package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/enactprotocol/enact/internal/registry/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	blobs, err := store.NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlobStore: %v", err)
	}
	return &Server{Store: db, Blobs: blobs, Logger: zap.NewNop()}
}

func publishBundle(t *testing.T, router http.Handler, name string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("manifest", `{"name":"`+name+`","version":"1.0.0"}`)
	w.WriteField("raw_manifest", "---\nname: "+name+"\n")
	fw, _ := w.CreateFormFile("bundle", "bundle.tar.gz")
	fw.Write([]byte("fake bundle bytes"))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/tools/"+name+"/versions", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("publish status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandlePublishThenGetTool(t *testing.T) {
	s := newTestServer(t)
	router := NewRouter(s)

	publishBundle(t, router, "alice/hello")

	req := httptest.NewRequest(http.MethodGet, "/v1/tools/alice/hello", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get tool status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["latest_version"] != "1.0.0" {
		t.Fatalf("latest_version = %v, want 1.0.0", resp["latest_version"])
	}
}

func TestHandleDownload_YankedRequiresAcknowledgement(t *testing.T) {
	s := newTestServer(t)
	router := NewRouter(s)

	publishBundle(t, router, "alice/hello")

	yankReq := httptest.NewRequest(http.MethodPost, "/v1/tools/alice/hello/versions/1.0.0/yank",
		bytes.NewBufferString(`{"reason":"broken"}`))
	yankRec := httptest.NewRecorder()
	router.ServeHTTP(yankRec, yankReq)
	if yankRec.Code != http.StatusOK {
		t.Fatalf("yank status = %d, body = %s", yankRec.Code, yankRec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/tools/alice/hello/versions/1.0.0/download", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusGone {
		t.Fatalf("download status = %d, want 410 Gone", rec.Code)
	}

	ackReq := httptest.NewRequest(http.MethodGet, "/v1/tools/alice/hello/versions/1.0.0/download?acknowledge_yanked=1", nil)
	ackRec := httptest.NewRecorder()
	router.ServeHTTP(ackRec, ackReq)
	if ackRec.Code != http.StatusOK {
		t.Fatalf("acknowledged download status = %d, body = %s", ackRec.Code, ackRec.Body.String())
	}
	if ackRec.Body.String() != "fake bundle bytes" {
		t.Fatalf("unexpected download body: %s", ackRec.Body.String())
	}
}

func TestHandleSearch_BrowseEmpty(t *testing.T) {
	s := newTestServer(t)
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/v1/tools/search", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["total"].(float64) != 0 {
		t.Fatalf("total = %v, want 0", resp["total"])
	}
}

func TestHandleDeleteTool_RemovesToolAndBundle(t *testing.T) {
	s := newTestServer(t)
	router := NewRouter(s)

	publishBundle(t, router, "alice/hello")

	req := httptest.NewRequest(http.MethodDelete, "/v1/tools/alice/hello", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, body = %s", rec.Code, rec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/v1/tools/alice/hello", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", getRec.Code)
	}
}
