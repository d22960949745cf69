package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/enactprotocol/enact/errcode"
)

// BlobStore is the content-addressed filesystem layout
// <root>/bundles/<name>/<version>/bundle.tar.gz from spec §4.E.
type BlobStore struct {
	root string
}

// NewBlobStore creates a blob store rooted at root, creating it if absent.
func NewBlobStore(root string) (*BlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob store root: %w", err)
	}
	return &BlobStore{root: root}, nil
}

// Path returns the on-disk path for a tool's version bundle.
func (b *BlobStore) Path(name, version string) string {
	return filepath.Join(b.root, "bundles", name, version, "bundle.tar.gz")
}

// Write stores data at name/version atomically: written to a temp file in
// the same directory, then renamed into place. Bundles are immutable per
// spec §3, so Write refuses to replace bytes already on disk at the same
// (name, version) -- a rejected duplicate publish must never clobber the
// original.
func (b *BlobStore) Write(name, version string, data []byte) (string, error) {
	dest := b.Path(name, version)
	if _, err := os.Stat(dest); err == nil {
		return "", errcode.Newf(errcode.Conflict, "bundle already exists for this version", map[string]any{
			"name": name, "version": version,
		})
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("checking existing bundle: %w", err)
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating bundle directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".bundle-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("writing bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("renaming bundle into place: %w", err)
	}
	return dest, nil
}

// Read returns a bundle's bytes as an opaque byte sequence.
func (b *BlobStore) Read(name, version string) ([]byte, error) {
	return os.ReadFile(b.Path(name, version))
}

// Open returns a reader over the bundle, for streaming downloads.
func (b *BlobStore) Open(name, version string) (io.ReadCloser, error) {
	return os.Open(b.Path(name, version))
}

// Delete removes a tool's entire bundle directory (all versions).
func (b *BlobStore) Delete(name string) error {
	return os.RemoveAll(filepath.Join(b.root, "bundles", name))
}
