package attest

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/enactprotocol/enact/errcode"
)

// IdentityProvider authenticates a signer against an external OIDC issuer,
// yielding a short-lived identity token. Production callers back this with
// sigstore-go's OIDC flow; tests supply a fake that returns a fixed token.
type IdentityProvider interface {
	Authenticate(ctx context.Context) (token string, identity string, err error)
}

// CertIssuer issues an ephemeral signing certificate bound to a verified
// OIDC identity claim, mirroring a Fulcio-style CA.
type CertIssuer interface {
	Issue(ctx context.Context, token string, pub crypto.PublicKey) (Certificate, error)
}

// TransparencyLog appends a signature to an append-only log and can later
// confirm inclusion, mirroring Rekor.
type TransparencyLog interface {
	Append(ctx context.Context, statement, signature []byte, cert Certificate) (LogEntry, error)
	VerifyInclusion(ctx context.Context, entry LogEntry) (bool, error)
}

// Signer produces an envelope for a statement using the five-step flow from
// spec §4.C: authenticate, obtain a certificate, sign, log, package.
type Signer struct {
	Identity IdentityProvider
	Certs    CertIssuer
	Log      TransparencyLog
}

// Sign executes the signing flow and returns a complete envelope.
func (s Signer) Sign(ctx context.Context, statement Statement, role Role) (Envelope, error) {
	token, identity, err := s.Identity.Authenticate(ctx)
	if err != nil {
		return Envelope{}, errcode.Newf(errcode.OIDCFailed, "authenticating signer", map[string]any{"error": err.Error()})
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Envelope{}, errcode.Newf(errcode.CertIssueFailed, "generating ephemeral key", map[string]any{"error": err.Error()})
	}

	cert, err := s.Certs.Issue(ctx, token, pub)
	if err != nil {
		return Envelope{}, errcode.Newf(errcode.CertIssueFailed, "issuing certificate", map[string]any{"error": err.Error()})
	}
	if cert.Identity == "" {
		cert.Identity = identity
	}

	payload, err := json.Marshal(statement)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshalling statement: %w", err)
	}
	signature := ed25519.Sign(priv, payload)

	entry, err := s.Log.Append(ctx, payload, signature, cert)
	if err != nil {
		return Envelope{}, errcode.Newf(errcode.LogInclusionFailed, "appending to transparency log", map[string]any{"error": err.Error()})
	}

	return Envelope{
		Statement:   statement,
		Role:        role,
		Certificate: cert,
		Signature:   signature,
		LogEntry:    entry,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
