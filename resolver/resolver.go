// Package resolver locates a skill by name, in order: a local tools
// directory, an on-disk cache with TTL expiry, then the registry — adapting
// the teacher's cache.go/resolve.go idioms to skill manifests instead of
// OCI plugin/toolchain/personality artifacts.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/enactprotocol/enact/errcode"
	"github.com/enactprotocol/enact/manifest"
	"github.com/enactprotocol/enact/registryclient"
)

// Source labels where a resolved skill came from.
type Source string

const (
	SourceLocal    Source = "local"
	SourceCache    Source = "cache"
	SourceRegistry Source = "registry"
)

// Resolved is a resolved skill manifest plus provenance.
type Resolved struct {
	Manifest *manifest.Manifest
	Source   Source
	Bundle   []byte // non-nil only when sourced from cache or registry
}

// Resolver resolves skill names against the local tools directory, an
// on-disk cache, and the registry, in that priority order.
type Resolver struct {
	ToolsDir string
	CacheDir string
	Client   *registryclient.Client
	TTL      time.Duration

	group singleflight.Group
}

const defaultTTL = 24 * time.Hour

// New creates a Resolver rooted at the given tools/cache directories.
func New(toolsDir, cacheDir string, client *registryclient.Client) *Resolver {
	return &Resolver{ToolsDir: toolsDir, CacheDir: cacheDir, Client: client, TTL: defaultTTL}
}

// Resolve finds a skill by name or alias, trying local, then cache, then
// registry, coalescing concurrent registry fetches for the same name.
func (r *Resolver) Resolve(ctx context.Context, name string) (*Resolved, error) {
	canonical := r.resolveAlias(name)

	if found, err := r.resolveLocal(canonical); err == nil {
		return found, nil
	}

	if found, err := r.resolveCache(canonical); err == nil {
		return found, nil
	}

	v, err, _ := r.group.Do(canonical, func() (any, error) {
		return r.resolveRegistry(ctx, canonical)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Resolved), nil
}

// resolveLocal walks the tools directory for a manifest whose declared name
// matches name exactly; file names are not compared.
func (r *Resolver) resolveLocal(name string) (*Resolved, error) {
	if r.ToolsDir == "" {
		return nil, errcode.New(errcode.NotFound, "no local tools directory configured")
	}

	var match *manifest.Manifest
	err := filepath.WalkDir(r.ToolsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".md") && !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		m, parseErr := manifest.Parse(data)
		if parseErr != nil {
			return nil
		}
		if m.Name == name {
			match = m
			return errStop
		}
		return nil
	})
	if err != nil && err != errStop {
		return nil, fmt.Errorf("walking local tools directory: %w", err)
	}
	if match == nil {
		return nil, errcode.New(errcode.NotFound, "no local manifest matching "+name)
	}
	return &Resolved{Manifest: match, Source: SourceLocal}, nil
}

var errStop = fmt.Errorf("stop walk")

// resolveCache returns an unexpired cache entry for name, at any version.
func (r *Resolver) resolveCache(name string) (*Resolved, error) {
	if r.CacheDir == "" {
		return nil, errcode.New(errcode.NotFound, "no cache directory configured")
	}

	entries, err := listCacheEntries(r.CacheDir, name)
	if err != nil || len(entries) == 0 {
		return nil, errcode.New(errcode.NotFound, "no cache entry for "+name)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].entry.FetchedAt.After(entries[j].entry.FetchedAt) })
	latest := entries[0]
	if time.Since(latest.entry.FetchedAt) > r.TTL {
		return nil, errcode.New(errcode.NotFound, "cache entry expired for "+name)
	}

	m, err := manifest.Parse(latest.entry.RawManifest)
	if err != nil {
		return nil, fmt.Errorf("parsing cached manifest: %w", err)
	}
	bundle, err := os.ReadFile(latest.bundlePath)
	if err != nil {
		return nil, fmt.Errorf("reading cached bundle: %w", err)
	}
	return &Resolved{Manifest: m, Source: SourceCache, Bundle: bundle}, nil
}

// resolveRegistry fetches the latest non-yanked version from the registry,
// writes it into the cache directory atomically, and returns it.
func (r *Resolver) resolveRegistry(ctx context.Context, name string) (*Resolved, error) {
	if r.Client == nil {
		return nil, errcode.New(errcode.NotFound, "no registry client configured")
	}

	raw, err := r.Client.GetTool(ctx, name)
	if err != nil {
		return nil, err
	}
	var toolResp struct {
		LatestVersion string `json:"latest_version"`
	}
	if err := json.Unmarshal(raw, &toolResp); err != nil || toolResp.LatestVersion == "" {
		return nil, errcode.New(errcode.NotFound, "no published version for "+name)
	}

	versionRaw, err := r.Client.GetVersion(ctx, name, toolResp.LatestVersion)
	if err != nil {
		return nil, err
	}
	var versionResp struct {
		RawManifest string `json:"raw_manifest"`
	}
	if err := json.Unmarshal(versionRaw, &versionResp); err != nil {
		return nil, fmt.Errorf("decoding version response: %w", err)
	}

	bundle, err := r.Client.Download(ctx, name, toolResp.LatestVersion, false)
	if err != nil {
		return nil, err
	}

	m, err := manifest.Parse([]byte(versionResp.RawManifest))
	if err != nil {
		return nil, fmt.Errorf("parsing registry manifest: %w", err)
	}

	if err := r.writeCacheEntry(name, toolResp.LatestVersion, []byte(versionResp.RawManifest), bundle); err != nil {
		return nil, err
	}

	return &Resolved{Manifest: m, Source: SourceRegistry, Bundle: bundle}, nil
}
