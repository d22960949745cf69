package resolver

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	favoritesFileName = "favorites.txt"
	aliasesFileName   = "aliases.txt"
)

// Favorites returns the set of names marked favorite, read from a flat
// text file (one name per line), the same record shape the corpus uses for
// small persisted sets.
func (r *Resolver) Favorites() (map[string]bool, error) {
	lines, err := readLines(filepath.Join(r.CacheDir, favoritesFileName))
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(lines))
	for _, l := range lines {
		set[l] = true
	}
	return set, nil
}

// AddFavorite marks name as a favorite.
func (r *Resolver) AddFavorite(name string) error {
	favs, err := r.Favorites()
	if err != nil {
		return err
	}
	favs[name] = true
	return writeLines(filepath.Join(r.CacheDir, favoritesFileName), sortedKeys(favs))
}

// RemoveFavorite unmarks name as a favorite.
func (r *Resolver) RemoveFavorite(name string) error {
	favs, err := r.Favorites()
	if err != nil {
		return err
	}
	delete(favs, name)
	return writeLines(filepath.Join(r.CacheDir, favoritesFileName), sortedKeys(favs))
}

// Aliases returns the alias -> canonical name mapping, read from a flat
// "alias=canonical" text file.
func (r *Resolver) Aliases() (map[string]string, error) {
	lines, err := readLines(filepath.Join(r.CacheDir, aliasesFileName))
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(lines))
	for _, l := range lines {
		alias, canonical, ok := strings.Cut(l, "=")
		if !ok {
			continue
		}
		out[alias] = canonical
	}
	return out, nil
}

// SetAlias persists alias -> canonical.
func (r *Resolver) SetAlias(alias, canonical string) error {
	aliases, err := r.Aliases()
	if err != nil {
		return err
	}
	aliases[alias] = canonical

	lines := make([]string, 0, len(aliases))
	for a, c := range aliases {
		lines = append(lines, a+"="+c)
	}
	sort.Strings(lines)
	return writeLines(filepath.Join(r.CacheDir, aliasesFileName), lines)
}

// resolveAlias returns the canonical name for name, or name unchanged if no
// alias is registered.
func (r *Resolver) resolveAlias(name string) string {
	aliases, err := r.Aliases()
	if err != nil {
		return name
	}
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// Suggest returns up to n candidate names for partial, ranked by edit
// distance over the union of local and cached names.
func (r *Resolver) Suggest(partial string, n int) []string {
	candidates := map[string]bool{}

	if r.ToolsDir != "" {
		filepath.WalkDir(r.ToolsDir, func(path string, d os.DirEntry, err error) error {
			if err == nil && !d.IsDir() {
				candidates[strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))] = true
			}
			return nil
		})
	}
	if r.CacheDir != "" {
		entries, _ := os.ReadDir(r.CacheDir)
		for _, e := range entries {
			if e.IsDir() {
				candidates[strings.ReplaceAll(e.Name(), "__", "/")] = true
			}
		}
	}

	type scored struct {
		name string
		dist int
	}
	var scores []scored
	for name := range candidates {
		scores = append(scores, scored{name, levenshtein(partial, name)})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].dist != scores[j].dist {
			return scores[i].dist < scores[j].dist
		}
		return scores[i].name < scores[j].name
	})

	if n > len(scores) {
		n = len(scores)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = scores[i].name
	}
	return out
}

// levenshtein computes the classic edit distance. No ecosystem library in
// the corpus covers this narrow a need, so it is a justified stdlib-only
// exception (see DESIGN.md).
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func writeLines(path string, lines []string) error {
	return atomicWrite(path, []byte(strings.Join(lines, "\n")+"\n"))
}
