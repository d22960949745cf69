package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/enactprotocol/enact/errcode"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateTool_DuplicateNameConflicts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateTool(ctx, Tool{Name: "alice/hello", ShortName: "hello", Visibility: VisibilityPublic}); err != nil {
		t.Fatalf("CreateTool: %v", err)
	}
	_, err := s.CreateTool(ctx, Tool{Name: "alice/hello", ShortName: "hello", Visibility: VisibilityPublic})
	e, ok := errcode.As(err)
	if !ok || e.Code != errcode.Conflict {
		t.Fatalf("got %v, want CONFLICT", err)
	}
}

func TestGetToolByName_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetToolByName(context.Background(), "missing/tool")
	e, ok := errcode.As(err)
	if !ok || e.Code != errcode.NotFound {
		t.Fatalf("got %v, want NOT_FOUND", err)
	}
}

func TestPublishVersion_DuplicateConflicts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	toolID, err := s.CreateTool(ctx, Tool{Name: "alice/hello", ShortName: "hello", Visibility: VisibilityPublic})
	if err != nil {
		t.Fatal(err)
	}
	v := Version{ToolID: toolID, Version: "1.0.0", ManifestJSON: []byte(`{}`), RawManifest: []byte("---\n"), BundleHash: "sha256:abc", BundleSize: 10, BundlePath: "/tmp/x", PublishedBy: "alice"}
	if _, err := s.PublishVersion(ctx, v); err != nil {
		t.Fatalf("PublishVersion: %v", err)
	}

	_, err = s.PublishVersion(ctx, v)
	e, ok := errcode.As(err)
	if !ok || e.Code != errcode.Conflict {
		t.Fatalf("got %v, want CONFLICT", err)
	}
}

func TestYankThenUnyank(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	toolID, _ := s.CreateTool(ctx, Tool{Name: "alice/hello", ShortName: "hello", Visibility: VisibilityPublic})
	v := Version{ToolID: toolID, Version: "1.0.0", ManifestJSON: []byte(`{}`), RawManifest: []byte("---\n"), BundleHash: "sha256:abc", BundleSize: 10, BundlePath: "/tmp/x", PublishedBy: "alice"}
	versionID, _ := s.PublishVersion(ctx, v)

	if err := s.Yank(ctx, versionID, "security issue", "1.0.1"); err != nil {
		t.Fatalf("Yank: %v", err)
	}
	got, err := s.GetVersion(ctx, toolID, "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Yanked || got.YankReason != "security issue" || got.Replacement != "1.0.1" {
		t.Fatalf("unexpected version after yank: %+v", got)
	}

	if err := s.Unyank(ctx, versionID); err != nil {
		t.Fatalf("Unyank: %v", err)
	}
	got, err = s.GetVersion(ctx, toolID, "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if got.Yanked {
		t.Fatal("expected version unyanked")
	}
}

func TestSearch_BrowseByDownloadsDescending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	idLow, _ := s.CreateTool(ctx, Tool{Name: "alice/low", ShortName: "low", Visibility: VisibilityPublic})
	idHigh, _ := s.CreateTool(ctx, Tool{Name: "alice/high", ShortName: "high", Visibility: VisibilityPublic})

	v := Version{Version: "1.0.0", ManifestJSON: []byte(`{}`), RawManifest: []byte("---\n"), BundleHash: "sha256:a", BundleSize: 1, BundlePath: "/x", PublishedBy: "alice"}
	v.ToolID = idLow
	vidLow, _ := s.PublishVersion(ctx, v)
	v.ToolID = idHigh
	v.BundleHash = "sha256:b"
	vidHigh, _ := s.PublishVersion(ctx, v)

	for i := 0; i < 3; i++ {
		if err := s.RecordDownload(ctx, idHigh, vidHigh, ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.RecordDownload(ctx, idLow, vidLow, ""); err != nil {
		t.Fatal(err)
	}

	results, total, searchType, err := s.Search(ctx, "", nil, 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if searchType != "browse" {
		t.Fatalf("searchType = %q, want browse", searchType)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	if len(results) != 2 || results[0].Tool.Name != "alice/high" {
		t.Fatalf("expected high-download tool first, got %+v", results)
	}
}

func TestSearch_FullTextPrefixMatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateTool(ctx, Tool{Name: "alice/deployer", ShortName: "deployer", Description: "deploys kubernetes manifests", Visibility: VisibilityPublic})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.CreateTool(ctx, Tool{Name: "alice/unrelated", ShortName: "unrelated", Description: "does something else", Visibility: VisibilityPublic})
	if err != nil {
		t.Fatal(err)
	}

	results, _, searchType, err := s.Search(ctx, "deploy", nil, 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if searchType != "text" {
		t.Fatalf("searchType = %q, want text", searchType)
	}
	if len(results) != 1 || results[0].Tool.Name != "alice/deployer" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestSearch_ExcludesNonPublicVisibility(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateTool(ctx, Tool{Name: "alice/secret", ShortName: "secret", Visibility: VisibilityPrivate})
	if err != nil {
		t.Fatal(err)
	}

	results, total, _, err := s.Search(ctx, "", nil, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || len(results) != 0 {
		t.Fatalf("expected private tool excluded, got %+v (total=%d)", results, total)
	}
}

func TestAttachAttestation_ListReturnsNonRevoked(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	toolID, _ := s.CreateTool(ctx, Tool{Name: "alice/hello", ShortName: "hello", Visibility: VisibilityPublic})
	v := Version{ToolID: toolID, Version: "1.0.0", ManifestJSON: []byte(`{}`), RawManifest: []byte("---\n"), BundleHash: "sha256:a", BundleSize: 1, BundlePath: "/x", PublishedBy: "alice"}
	versionID, _ := s.PublishVersion(ctx, v)

	a := Attestation{ToolVersionID: versionID, Auditor: "alice", AuditorProvider: "github", Role: "author", EnvelopeJSON: []byte(`{}`), Verified: true}
	if _, err := s.AttachAttestation(ctx, a); err != nil {
		t.Fatalf("AttachAttestation: %v", err)
	}

	list, err := s.ListAttestations(ctx, versionID)
	if err != nil {
		t.Fatalf("ListAttestations: %v", err)
	}
	if len(list) != 1 || !list[0].Verified {
		t.Fatalf("unexpected attestations: %+v", list)
	}
}

func TestDeleteTool_CascadesVersionsAndAttestations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	toolID, _ := s.CreateTool(ctx, Tool{Name: "alice/hello", ShortName: "hello", Visibility: VisibilityPublic})
	v := Version{ToolID: toolID, Version: "1.0.0", ManifestJSON: []byte(`{}`), RawManifest: []byte("---\n"), BundleHash: "sha256:a", BundleSize: 1, BundlePath: "/x", PublishedBy: "alice"}
	versionID, _ := s.PublishVersion(ctx, v)
	if _, err := s.AttachAttestation(ctx, Attestation{ToolVersionID: versionID, Auditor: "alice", AuditorProvider: "github", Role: "author", EnvelopeJSON: []byte(`{}`)}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteTool(ctx, toolID); err != nil {
		t.Fatalf("DeleteTool: %v", err)
	}

	if _, err := s.GetToolByName(ctx, "alice/hello"); err == nil {
		t.Fatal("expected tool to be gone")
	}
	if _, err := s.GetVersion(ctx, toolID, "1.0.0"); err == nil {
		t.Fatal("expected version to be gone via cascade")
	}
}

func TestBlobStore_WriteThenRead(t *testing.T) {
	bs, err := NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	path, err := bs.Write("alice/hello", "1.0.0", []byte("bundle bytes"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if path != bs.Path("alice/hello", "1.0.0") {
		t.Fatalf("unexpected path: %s", path)
	}
	data, err := bs.Read("alice/hello", "1.0.0")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "bundle bytes" {
		t.Fatalf("unexpected data: %s", data)
	}
}
