package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/enactprotocol/enact/errcode"
)

// PublishVersion inserts a new version row, refusing a duplicate
// (tool_id, version) with CONFLICT.
func (s *Store) PublishVersion(ctx context.Context, v Version) (int64, error) {
	var id int64
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = insertVersionTx(ctx, tx, v)
		return err
	})
	return id, err
}

// PublishVersionWithAttestation inserts a version row and, if att is
// non-nil, a pre-signed attestation row bound to it, in a single
// transaction per spec §5 -- a rejected duplicate version never leaves a
// half-attached attestation behind.
func (s *Store) PublishVersionWithAttestation(ctx context.Context, v Version, att *Attestation) (versionID, attestationID int64, err error) {
	err = s.withWrite(ctx, func(tx *sql.Tx) error {
		var txErr error
		versionID, txErr = insertVersionTx(ctx, tx, v)
		if txErr != nil {
			return txErr
		}
		if att == nil {
			return nil
		}
		att.ToolVersionID = versionID
		attestationID, txErr = attachAttestationTx(ctx, tx, *att)
		return txErr
	})
	return versionID, attestationID, err
}

func insertVersionTx(ctx context.Context, tx *sql.Tx, v Version) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO tool_versions (tool_id, version, manifest_json, raw_manifest, bundle_hash, bundle_size, bundle_path, published_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ToolID, v.Version, string(v.ManifestJSON), v.RawManifest, v.BundleHash, v.BundleSize, v.BundlePath, v.PublishedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errcode.Newf(errcode.Conflict, "version already published", map[string]any{"version": v.Version})
		}
		return 0, fmt.Errorf("inserting version: %w", err)
	}
	return res.LastInsertId()
}

// GetVersion fetches a single version's full detail.
func (s *Store) GetVersion(ctx context.Context, toolID int64, version string) (*Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tool_id, version, manifest_json, raw_manifest, bundle_hash, bundle_size, bundle_path,
		        downloads, yanked, yank_reason, replacement, published_by, published_at
		 FROM tool_versions WHERE tool_id = ? AND version = ?`, toolID, version)
	return scanVersion(row)
}

// LatestVersion returns the most recently published non-yanked version.
func (s *Store) LatestVersion(ctx context.Context, toolID int64) (*Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tool_id, version, manifest_json, raw_manifest, bundle_hash, bundle_size, bundle_path,
		        downloads, yanked, yank_reason, replacement, published_by, published_at
		 FROM tool_versions WHERE tool_id = ? AND yanked = 0 ORDER BY published_at DESC LIMIT 1`, toolID)
	return scanVersion(row)
}

// ListVersions returns every version of a tool, newest first.
func (s *Store) ListVersions(ctx context.Context, toolID int64) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tool_id, version, manifest_json, raw_manifest, bundle_hash, bundle_size, bundle_path,
		        downloads, yanked, yank_reason, replacement, published_by, published_at
		 FROM tool_versions WHERE tool_id = ? ORDER BY published_at DESC`, toolID)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		v, err := scanVersionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func scanVersion(row *sql.Row) (*Version, error) {
	var v Version
	var yankReason, replacement sql.NullString
	var yanked int
	var publishedAt string
	err := row.Scan(&v.ID, &v.ToolID, &v.Version, &v.ManifestJSON, &v.RawManifest, &v.BundleHash, &v.BundleSize,
		&v.BundlePath, &v.Downloads, &yanked, &yankReason, &replacement, &v.PublishedBy, &publishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errcode.New(errcode.NotFound, "version not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning version: %w", err)
	}
	v.Yanked = yanked != 0
	v.YankReason = yankReason.String
	v.Replacement = replacement.String
	v.PublishedAt, _ = time.Parse("2006-01-02 15:04:05", publishedAt)
	return &v, nil
}

func scanVersionRow(rows *sql.Rows) (*Version, error) {
	var v Version
	var yankReason, replacement sql.NullString
	var yanked int
	var publishedAt string
	err := rows.Scan(&v.ID, &v.ToolID, &v.Version, &v.ManifestJSON, &v.RawManifest, &v.BundleHash, &v.BundleSize,
		&v.BundlePath, &v.Downloads, &yanked, &yankReason, &replacement, &v.PublishedBy, &publishedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning version row: %w", err)
	}
	v.Yanked = yanked != 0
	v.YankReason = yankReason.String
	v.Replacement = replacement.String
	v.PublishedAt, _ = time.Parse("2006-01-02 15:04:05", publishedAt)
	return &v, nil
}

// Yank marks a version yanked with a reason and optional replacement.
func (s *Store) Yank(ctx context.Context, versionID int64, reason, replacement string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE tool_versions SET yanked = 1, yank_reason = ?, replacement = ? WHERE id = ?`,
			reason, nullIfEmpty(replacement), versionID)
		return err
	})
}

// Unyank reverts a yank.
func (s *Store) Unyank(ctx context.Context, versionID int64) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE tool_versions SET yanked = 0, yank_reason = NULL, replacement = NULL WHERE id = ?`, versionID)
		return err
	})
}

// RecordDownload increments per-version and per-tool counters and appends a
// download-log row, all within a single transaction.
func (s *Store) RecordDownload(ctx context.Context, toolID, versionID int64, clientIdentity string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE tool_versions SET downloads = downloads + 1 WHERE id = ?`, versionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tools SET total_downloads = total_downloads + 1 WHERE id = ?`, toolID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO download_logs (tool_version_id, client_identity) VALUES (?, ?)`, versionID, nullIfEmpty(clientIdentity))
		return err
	})
}

// SetVisibility changes a tool's visibility.
func (s *Store) SetVisibility(ctx context.Context, toolID int64, v Visibility) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE tools SET visibility = ? WHERE id = ?`, string(v), toolID)
		return err
	})
}

// DeleteTool removes a tool and, by foreign-key cascade, its versions,
// attestations, and download logs.
func (s *Store) DeleteTool(ctx context.Context, toolID int64) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM tools WHERE id = ?`, toolID)
		return err
	})
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
