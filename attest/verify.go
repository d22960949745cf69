package attest

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// TrustRoot verifies that a certificate chains to a trusted root, mirroring
// the Fulcio root-of-trust check independent from signature and log
// verification.
type TrustRoot interface {
	VerifyChain(ctx context.Context, cert Certificate) (bool, error)
}

// Verifier runs the three independent sub-checks from spec §4.C against an
// envelope and conjoins them into a Result.
type Verifier struct {
	Root TrustRoot
	Log  TransparencyLog
}

// Verify checks a single envelope against the given subject digest. Each
// sub-check is independent and reported in the returned Result even when the
// overall verdict is false, so callers can surface which check failed. A
// statement that does not bind the digest fails with IDENTITY_MISMATCH
// before any sub-check runs, leaving all three false.
func (v Verifier) Verify(ctx context.Context, env Envelope, digestAlg, digestHex string) Result {
	result := Result{Identity: env.Certificate.Identity, Role: env.Role}

	if !statementBindsDigest(env.Statement, digestAlg, digestHex) {
		result.FailureCode = "IDENTITY_MISMATCH"
		return result
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ok, err := v.Root.VerifyChain(gctx, env.Certificate)
		result.CertificateVerified = ok
		return err
	})

	g.Go(func() error {
		ok, err := v.Log.VerifyInclusion(gctx, env.LogEntry)
		result.RekorVerified = ok
		return err
	})

	g.Go(func() error {
		payload, err := json.Marshal(env.Statement)
		if err != nil {
			return fmt.Errorf("marshalling statement: %w", err)
		}
		pub, err := env.Certificate.PublicKey()
		if err != nil {
			return fmt.Errorf("reading certificate public key: %w", err)
		}
		result.SignatureVerified = ed25519.Verify(pub, payload, env.Signature)
		return nil
	})

	if err := g.Wait(); err != nil {
		result.FailureCode = "CERT_ISSUE_FAILED"
		return result
	}

	result.Verified = result.CertificateVerified && result.SignatureVerified && result.RekorVerified
	if !result.Verified {
		switch {
		case !result.CertificateVerified:
			result.FailureCode = "CERT_ISSUE_FAILED"
		case !result.SignatureVerified:
			result.FailureCode = "SIG_INVALID"
		case !result.RekorVerified:
			result.FailureCode = "LOG_INCLUSION_FAILED"
		}
	}
	return result
}

// VerifyAll verifies every envelope attached to a version concurrently,
// preserving input order in the returned slice.
func (v Verifier) VerifyAll(ctx context.Context, envs []Envelope, digestAlg, digestHex string) []Result {
	results := make([]Result, len(envs))
	g, gctx := errgroup.WithContext(ctx)
	for i, env := range envs {
		i, env := i, env
		g.Go(func() error {
			results[i] = v.Verify(gctx, env, digestAlg, digestHex)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func statementBindsDigest(s Statement, alg, hex string) bool {
	for _, subj := range s.Subject {
		if subj.Digest[alg] == hex {
			return true
		}
	}
	return false
}
