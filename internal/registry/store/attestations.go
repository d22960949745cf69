package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AttachAttestation inserts an attestation envelope and its verification
// booleans, attached additively to a version -- multiple attestations per
// version are allowed.
func (s *Store) AttachAttestation(ctx context.Context, a Attestation) (int64, error) {
	var id int64
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = attachAttestationTx(ctx, tx, a)
		return err
	})
	return id, err
}

// attachAttestationTx inserts an attestation row on an already-open
// transaction, so a caller can combine it with other writes (e.g. a version
// insert) atomically.
func attachAttestationTx(ctx context.Context, tx *sql.Tx, a Attestation) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO attestations
		 (tool_version_id, auditor, auditor_provider, role, envelope_json, rekor_log_id, rekor_log_index,
		  signed_at, verified, rekor_verified, certificate_verified, signature_verified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ToolVersionID, a.Auditor, a.AuditorProvider, a.Role, string(a.EnvelopeJSON),
		nullIfEmpty(a.RekorLogID), a.RekorLogIndex, a.SignedAt.UTC().Format("2006-01-02 15:04:05"),
		boolToInt(a.Verified), boolToInt(a.RekorVerified), boolToInt(a.CertificateVerified), boolToInt(a.SignatureVerified))
	if err != nil {
		return 0, fmt.Errorf("inserting attestation: %w", err)
	}
	return res.LastInsertId()
}

// ListAttestations returns non-revoked attestations for a version.
func (s *Store) ListAttestations(ctx context.Context, versionID int64) ([]Attestation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tool_version_id, auditor, auditor_provider, role, envelope_json, rekor_log_id, rekor_log_index,
		        signed_at, verified, rekor_verified, certificate_verified, signature_verified, verified_at, revoked
		 FROM attestations WHERE tool_version_id = ? AND revoked = 0 ORDER BY signed_at`, versionID)
	if err != nil {
		return nil, fmt.Errorf("listing attestations: %w", err)
	}
	defer rows.Close()

	var out []Attestation
	for rows.Next() {
		var a Attestation
		var rekorLogID sql.NullString
		var rekorLogIndex sql.NullInt64
		var signedAt string
		var verifiedAt sql.NullString
		var verified, rekorVerified, certVerified, sigVerified, revoked int
		if err := rows.Scan(&a.ID, &a.ToolVersionID, &a.Auditor, &a.AuditorProvider, &a.Role, &a.EnvelopeJSON,
			&rekorLogID, &rekorLogIndex, &signedAt, &verified, &rekorVerified, &certVerified, &sigVerified, &verifiedAt, &revoked); err != nil {
			return nil, fmt.Errorf("scanning attestation: %w", err)
		}
		a.RekorLogID = rekorLogID.String
		a.RekorLogIndex = rekorLogIndex.Int64
		a.SignedAt, _ = time.Parse("2006-01-02 15:04:05", signedAt)
		a.Verified = verified != 0
		a.RekorVerified = rekorVerified != 0
		a.CertificateVerified = certVerified != 0
		a.SignatureVerified = sigVerified != 0
		a.Revoked = revoked != 0
		if verifiedAt.Valid {
			t, _ := time.Parse("2006-01-02 15:04:05", verifiedAt.String)
			a.VerifiedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
