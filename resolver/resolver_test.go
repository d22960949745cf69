package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/enactprotocol/enact/errcode"
)

const testManifest = `---
name: alice/hello
version: 1.0.0
description: a test skill
---
docs body
`

func TestResolve_PrefersLocalOverCache(t *testing.T) {
	toolsDir := t.TempDir()
	cacheDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(toolsDir, "hello.md"), []byte(testManifest), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(toolsDir, cacheDir, nil)
	resolved, err := r.Resolve(context.Background(), "alice/hello")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Source != SourceLocal {
		t.Fatalf("Source = %q, want local", resolved.Source)
	}
}

func TestResolve_FallsBackToCacheWhenTTLValid(t *testing.T) {
	toolsDir := t.TempDir()
	cacheDir := t.TempDir()

	r := New(toolsDir, cacheDir, nil)
	if err := r.writeCacheEntry("alice/hello", "1.0.0", []byte(testManifest), []byte("bundle")); err != nil {
		t.Fatal(err)
	}

	resolved, err := r.Resolve(context.Background(), "alice/hello")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Source != SourceCache {
		t.Fatalf("Source = %q, want cache", resolved.Source)
	}
}

func TestResolve_CacheExpiredFallsThroughToNotFound(t *testing.T) {
	toolsDir := t.TempDir()
	cacheDir := t.TempDir()

	r := New(toolsDir, cacheDir, nil)
	r.TTL = time.Millisecond
	if err := r.writeCacheEntry("alice/hello", "1.0.0", []byte(testManifest), []byte("bundle")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	_, err := r.Resolve(context.Background(), "alice/hello")
	e, ok := errcode.As(err)
	if !ok || e.Code != errcode.NotFound {
		t.Fatalf("got %v, want NOT_FOUND (no client, expired cache)", err)
	}
}

func TestCleanupCache_RemovesExpiredEntries(t *testing.T) {
	cacheDir := t.TempDir()
	r := New("", cacheDir, nil)
	r.TTL = time.Millisecond

	if err := r.writeCacheEntry("alice/hello", "1.0.0", []byte(testManifest), []byte("bundle")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	removed, err := r.CleanupCache()
	if err != nil {
		t.Fatalf("CleanupCache: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}

func TestFavorites_AddAndRemove(t *testing.T) {
	r := New("", t.TempDir(), nil)

	if err := r.AddFavorite("alice/hello"); err != nil {
		t.Fatal(err)
	}
	favs, err := r.Favorites()
	if err != nil {
		t.Fatal(err)
	}
	if !favs["alice/hello"] {
		t.Fatal("expected alice/hello to be a favorite")
	}

	if err := r.RemoveFavorite("alice/hello"); err != nil {
		t.Fatal(err)
	}
	favs, _ = r.Favorites()
	if favs["alice/hello"] {
		t.Fatal("expected alice/hello removed from favorites")
	}
}

func TestAliases_SetAndResolve(t *testing.T) {
	r := New("", t.TempDir(), nil)
	if err := r.SetAlias("hi", "alice/hello"); err != nil {
		t.Fatal(err)
	}
	if got := r.resolveAlias("hi"); got != "alice/hello" {
		t.Fatalf("resolveAlias = %q, want alice/hello", got)
	}
}

func TestSuggest_RanksByEditDistance(t *testing.T) {
	toolsDir := t.TempDir()
	os.WriteFile(filepath.Join(toolsDir, "hello.md"), []byte(testManifest), 0o644)
	os.WriteFile(filepath.Join(toolsDir, "unrelated.md"), []byte("---\nname: x/unrelated\nversion: 1.0.0\n---\n"), 0o644)

	r := New(toolsDir, t.TempDir(), nil)
	got := r.Suggest("helo", 1)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("Suggest = %v, want [hello]", got)
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "abc", 0},
		{"kitten", "sitting", 3},
		{"", "abc", 3},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Fatalf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
