// Package attest implements signing and verification of in-toto statements
// binding a skill version to its manifest or bundle digest, following the
// Sigstore keyless flow: OIDC identity, a Fulcio-style ephemeral certificate,
// and a Rekor-style transparency log entry.
package attest

import (
	"crypto/ed25519"
	"crypto/x509"
	"fmt"
	"time"
)

// Role tags a signer's relationship to the signed version.
type Role string

const (
	RoleAuthor   Role = "author"
	RoleReviewer Role = "reviewer"
	RoleApprover Role = "approver"
)

// Subject identifies the artifact an attestation binds to: either the
// manifest canonical hash or the bundle hash, each namespaced by algorithm.
type Subject struct {
	Name   string            `json:"name"`
	Digest map[string]string `json:"digest"`
}

// Predicate describes the skill version being attested.
type Predicate struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	Publisher      string `json:"publisher"`
	SourceCommit   string `json:"sourceCommit,omitempty"`
	Repository     string `json:"repository,omitempty"`
	BuildTimestamp string `json:"buildTimestamp,omitempty"`
}

// Statement is the in-toto statement signed by Sign and reconstructed on
// Verify.
type Statement struct {
	Type          string    `json:"_type"`
	Subject       []Subject `json:"subject"`
	PredicateType string    `json:"predicateType"`
	Predicate     Predicate `json:"predicate"`
}

const StatementType = "https://in-toto.io/Statement/v1"
const PredicateType = "https://enact.dev/attestation/skill/v1"

// NewStatement builds a statement binding digestAlg/digestHex to predicate.
func NewStatement(subjectName, digestAlg, digestHex string, predicate Predicate) Statement {
	return Statement{
		Type:          StatementType,
		PredicateType: PredicateType,
		Predicate:     predicate,
		Subject: []Subject{
			{Name: subjectName, Digest: map[string]string{digestAlg: digestHex}},
		},
	}
}

// Certificate is the ephemeral signing certificate issued by a Fulcio-style
// CA, bound to the signer's verified OIDC identity. Raw is always a full
// DER-encoded X.509 certificate, never a bare public key.
type Certificate struct {
	Raw      []byte    `json:"raw"`
	Identity string    `json:"identity"`
	Issuer   string    `json:"issuer"`
	NotAfter time.Time `json:"notAfter"`
}

// PublicKey extracts the ed25519 public key embedded in the certificate's
// DER encoding.
func (c Certificate) PublicKey() (ed25519.PublicKey, error) {
	parsed, err := x509.ParseCertificate(c.Raw)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	pub, ok := parsed.PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate public key is %T, want ed25519.PublicKey", parsed.PublicKey)
	}
	return pub, nil
}

// LogEntry is the Rekor-style transparency log receipt for a signature.
type LogEntry struct {
	LogID          string `json:"logId"`
	LogIndex       int64  `json:"logIndex"`
	IntegratedTime int64  `json:"integratedTime"`
	Body           []byte `json:"body"`
}

// Envelope packages a signed statement with its certificate, signature and
// transparency-log proof -- the "bundle" of spec §4.C, distinct from the
// skill bundle of the bundle package.
type Envelope struct {
	Statement   Statement   `json:"statement"`
	Role        Role        `json:"role"`
	Certificate Certificate `json:"certificate"`
	Signature   []byte      `json:"signature"`
	LogEntry    LogEntry    `json:"logEntry"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Result carries the independent sub-checks from Verify plus their
// conjunction, so callers can report exactly which check failed.
type Result struct {
	CertificateVerified bool
	SignatureVerified   bool
	RekorVerified       bool
	Verified            bool
	Identity            string
	Role                Role
	FailureCode         string
}
