package resolver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// cacheEntryFileName is the JSON sidecar written alongside each cached
// bundle, mirroring the teacher's cache.go convention of a small metadata
// file living next to the content it describes.
const cacheEntryFileName = ".enact-cache.json"

// CacheEntry records metadata about one cached skill version.
type CacheEntry struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	RawManifest []byte    `json:"rawManifest"`
	BundleHash  string    `json:"bundleHash"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

type cacheEntryLocation struct {
	entry      CacheEntry
	dir        string
	bundlePath string
}

// cacheDirFor returns the directory a name's cache entries live under,
// mirroring the flattened directory-per-name layout the teacher uses for
// per-artifact cache state.
func cacheDirFor(cacheDir, name string) string {
	return filepath.Join(cacheDir, strings.ReplaceAll(name, "/", "__"))
}

// listCacheEntries returns every cached version directory for name.
func listCacheEntries(cacheDir, name string) ([]cacheEntryLocation, error) {
	root := cacheDirFor(cacheDir, name)
	dirEntries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []cacheEntryLocation
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		versionDir := filepath.Join(root, de.Name())
		entry, err := readCacheEntry(versionDir)
		if err != nil {
			continue
		}
		out = append(out, cacheEntryLocation{
			entry:      *entry,
			dir:        versionDir,
			bundlePath: filepath.Join(versionDir, "bundle.tar.gz"),
		})
	}
	return out, nil
}

func readCacheEntry(versionDir string) (*CacheEntry, error) {
	data, err := os.ReadFile(filepath.Join(versionDir, cacheEntryFileName))
	if err != nil {
		return nil, err
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// writeCacheEntry atomically writes a cache entry and its bundle bytes
// under <cacheDir>/<name>/<version>/, via temp-file-then-rename, the same
// idiom the teacher's WriteCacheEntry uses.
func (r *Resolver) writeCacheEntry(name, version string, rawManifest, bundle []byte) error {
	dir := filepath.Join(cacheDirFor(r.CacheDir, name), version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	entry := CacheEntry{Name: name, Version: version, RawManifest: rawManifest, FetchedAt: time.Now()}
	entryData, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}

	if err := atomicWrite(filepath.Join(dir, cacheEntryFileName), entryData); err != nil {
		return err
	}
	return atomicWrite(filepath.Join(dir, "bundle.tar.gz"), bundle)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// CleanupCache removes all expired cache entries under r.CacheDir and
// returns how many were removed.
func (r *Resolver) CleanupCache() (int, error) {
	names, err := os.ReadDir(r.CacheDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading cache directory: %w", err)
	}

	removed := 0
	for _, nameDir := range names {
		if !nameDir.IsDir() {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(r.CacheDir, nameDir.Name()))
		if err != nil {
			continue
		}
		for _, v := range versions {
			versionDir := filepath.Join(r.CacheDir, nameDir.Name(), v.Name())
			entry, err := readCacheEntry(versionDir)
			if err != nil {
				continue
			}
			if time.Since(entry.FetchedAt) > r.TTL {
				if err := os.RemoveAll(versionDir); err == nil {
					removed++
				}
			}
		}
	}
	return removed, nil
}
