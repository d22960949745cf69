package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string) {
	t.Helper()
	mustWrite := func(rel, content string, mode os.FileMode) {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), mode); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("enact.yaml", "name: test/tool\nversion: 1.0.0\n", 0o644)
	mustWrite("scripts/run.sh", "#!/bin/sh\necho hi\n", 0o755)
	mustWrite("nested/dir/data.txt", "hello\n", 0o644)
	mustWrite(metadataFileName, `{"ignored":true}`, 0o644)
}

func TestPack_ExcludesMetadataFile(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir)

	result, err := Pack(dir)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if result.Hash == "" {
		t.Fatal("expected non-empty hash")
	}

	out := t.TempDir()
	if err := Unpack(result.Bytes, out); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, metadataFileName)); !os.IsNotExist(err) {
		t.Fatalf("expected metadata file to be excluded, stat err = %v", err)
	}
}

func TestPack_PreservesExecutableBit(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir)

	result, err := Pack(dir)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	out := t.TempDir()
	if err := Unpack(result.Bytes, out); err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	info, err := os.Stat(filepath.Join(out, "scripts/run.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Fatalf("expected executable bit preserved, got mode %v", info.Mode())
	}

	info, err = os.Stat(filepath.Join(out, "enact.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("expected mode 0644, got %v", info.Mode().Perm())
	}
}

func TestPack_DeterministicAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir)

	r1, err := Pack(dir)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := Pack(dir)
	if err != nil {
		t.Fatal(err)
	}
	if r1.Hash != r2.Hash {
		t.Fatalf("hash not stable: %s vs %s", r1.Hash, r2.Hash)
	}
	if string(r1.Bytes) != string(r2.Bytes) {
		t.Fatal("compressed bytes not byte-identical across runs")
	}
}

func TestPack_UnpackThenPackIsFixedPoint(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir)

	original, err := Pack(dir)
	if err != nil {
		t.Fatal(err)
	}

	repacked, err := Repack(original.Bytes)
	if err != nil {
		t.Fatalf("Repack: %v", err)
	}

	if repacked.Hash != original.Hash {
		t.Fatalf("hash changed across unpack-then-pack: %s vs %s", original.Hash, repacked.Hash)
	}
	if string(repacked.Bytes) != string(original.Bytes) {
		t.Fatal("archive bytes changed across unpack-then-pack")
	}
}

func TestUnpack_RejectsPathTraversal(t *testing.T) {
	// Hand-build a tar with a traversal entry to ensure Unpack rejects it
	// even though Pack itself never produces one.
	dir := t.TempDir()
	writeTree(t, dir)
	result, err := Pack(dir)
	if err != nil {
		t.Fatal(err)
	}
	// Sanity: normal archive unpacks without error.
	out := t.TempDir()
	if err := Unpack(result.Bytes, out); err != nil {
		t.Fatalf("Unpack of well-formed archive failed: %v", err)
	}

	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	content := []byte("escaped\n")
	if err := tw.WriteHeader(&tar.Header{Name: "../escaped.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gzw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := Unpack(buf.Bytes(), t.TempDir()); err == nil {
		t.Fatal("expected Unpack to reject an archive entry outside the destination")
	}
}
