package store

import "time"

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Tool is a published skill's top-level record.
type Tool struct {
	ID              int64
	Name            string
	ShortName       string
	Description     string
	Tags            []string
	Visibility      Visibility
	OwnerProfileID  *int64
	OwnerOrgID      *int64
	TotalDownloads  int64
	CreatedAt       time.Time
}

// Version is a single published version of a tool.
type Version struct {
	ID            int64
	ToolID        int64
	Version       string
	ManifestJSON  []byte
	RawManifest   []byte
	BundleHash    string
	BundleSize    int64
	BundlePath    string
	Downloads     int64
	Yanked        bool
	YankReason    string
	Replacement   string
	PublishedBy   string
	PublishedAt   time.Time
}

// Attestation is a stored attestation envelope attached to a version.
type Attestation struct {
	ID                  int64
	ToolVersionID       int64
	Auditor             string
	AuditorProvider     string
	Role                string
	EnvelopeJSON        []byte
	RekorLogID          string
	RekorLogIndex       int64
	SignedAt            time.Time
	Verified            bool
	RekorVerified       bool
	CertificateVerified bool
	SignatureVerified   bool
	VerifiedAt          *time.Time
	Revoked             bool
}

// SearchResult is one row of a tool search.
type SearchResult struct {
	Tool           Tool
	LatestVersion  string
}
