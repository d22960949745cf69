package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/enactprotocol/enact/errcode"
)

// CreateTool inserts a new tool row, used the first time a name is
// published under. Returns CONFLICT if the name already exists.
func (s *Store) CreateTool(ctx context.Context, t Tool) (int64, error) {
	var id int64
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO tools (name, short_name, description, tags, visibility, owner_profile_id, owner_org_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.Name, t.ShortName, t.Description, strings.Join(t.Tags, ","), string(t.Visibility), t.OwnerProfileID, t.OwnerOrgID)
		if err != nil {
			if isUniqueViolation(err) {
				return errcode.Newf(errcode.Conflict, "tool already exists", map[string]any{"name": t.Name})
			}
			return fmt.Errorf("inserting tool: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// GetToolByName fetches a tool's metadata, or NOT_FOUND.
func (s *Store) GetToolByName(ctx context.Context, name string) (*Tool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, short_name, description, tags, visibility, owner_profile_id, owner_org_id, total_downloads, created_at
		 FROM tools WHERE name = ?`, name)
	return scanTool(row)
}

func scanTool(row *sql.Row) (*Tool, error) {
	var t Tool
	var tags string
	var visibility string
	var ownerProfile, ownerOrg sql.NullInt64
	var createdAt string
	err := row.Scan(&t.ID, &t.Name, &t.ShortName, &t.Description, &tags, &visibility, &ownerProfile, &ownerOrg, &t.TotalDownloads, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errcode.New(errcode.NotFound, "tool not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning tool: %w", err)
	}
	if tags != "" {
		t.Tags = strings.Split(tags, ",")
	}
	t.Visibility = Visibility(visibility)
	if ownerProfile.Valid {
		t.OwnerProfileID = &ownerProfile.Int64
	}
	if ownerOrg.Valid {
		t.OwnerOrgID = &ownerOrg.Int64
	}
	t.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
	return &t, nil
}

// Search implements the browse/full-text search behavior of spec §4.F: an
// empty query browses by total_downloads descending; a non-empty query uses
// the FTS index with each whitespace-separated term treated as a prefix
// match. Only public-visibility tools are returned.
func (s *Store) Search(ctx context.Context, query string, tags []string, limit, offset int) ([]SearchResult, int, string, error) {
	if query == "" {
		return s.browse(ctx, tags, limit, offset)
	}
	return s.searchFTS(ctx, query, tags, limit, offset)
}

func (s *Store) browse(ctx context.Context, tags []string, limit, offset int) ([]SearchResult, int, string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, short_name, description, tags, visibility, owner_profile_id, owner_org_id, total_downloads, created_at
		 FROM tools WHERE visibility = 'public' ORDER BY total_downloads DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, "", fmt.Errorf("browsing tools: %w", err)
	}
	defer rows.Close()

	results, err := scanSearchRows(rows, tags)
	if err != nil {
		return nil, 0, "", err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tools WHERE visibility = 'public'`).Scan(&total); err != nil {
		return nil, 0, "", fmt.Errorf("counting tools: %w", err)
	}
	return results, total, "browse", nil
}

func (s *Store) searchFTS(ctx context.Context, query string, tags []string, limit, offset int) ([]SearchResult, int, string, error) {
	terms := strings.Fields(query)
	for i, t := range terms {
		terms[i] = sanitizeFTSTerm(t) + "*"
	}
	matchExpr := strings.Join(terms, " ")

	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.name, t.short_name, t.description, t.tags, t.visibility, t.owner_profile_id, t.owner_org_id, t.total_downloads, t.created_at
		 FROM tools_fts f JOIN tools t ON t.id = f.rowid
		 WHERE tools_fts MATCH ? AND t.visibility = 'public'
		 ORDER BY rank LIMIT ? OFFSET ?`, matchExpr, limit, offset)
	if err != nil {
		return nil, 0, "", fmt.Errorf("searching tools: %w", err)
	}
	defer rows.Close()

	results, err := scanSearchRows(rows, tags)
	if err != nil {
		return nil, 0, "", err
	}
	return results, len(results), "text", nil
}

func scanSearchRows(rows *sql.Rows, requiredTags []string) ([]SearchResult, error) {
	var out []SearchResult
	for rows.Next() {
		var t Tool
		var tags, visibility string
		var ownerProfile, ownerOrg sql.NullInt64
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &t.ShortName, &t.Description, &tags, &visibility, &ownerProfile, &ownerOrg, &t.TotalDownloads, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if tags != "" {
			t.Tags = strings.Split(tags, ",")
		}
		t.Visibility = Visibility(visibility)
		if ownerProfile.Valid {
			t.OwnerProfileID = &ownerProfile.Int64
		}
		if ownerOrg.Valid {
			t.OwnerOrgID = &ownerOrg.Int64
		}
		t.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)

		if !hasAllTags(t.Tags, requiredTags) {
			continue
		}
		out = append(out, SearchResult{Tool: t})
	}
	return out, rows.Err()
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

// sanitizeFTSTerm strips characters that have special meaning in an FTS5
// MATCH query, since search terms come directly from callers.
func sanitizeFTSTerm(term string) string {
	var b strings.Builder
	for _, r := range term {
		switch r {
		case '"', '*', ':', '(', ')', '-':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
