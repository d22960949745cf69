package attest

import (
	"context"
	"crypto/x509"
	"fmt"
	"time"

	sigstoreroot "github.com/sigstore/sigstore-go/pkg/root"
)

// FulcioTrustRoot verifies a signing certificate chains to one of a
// Sigstore trusted root's Fulcio certificate authorities, implementing
// TrustRoot against the real CA material instead of a single pinned key.
type FulcioTrustRoot struct {
	trusted *sigstoreroot.TrustedRoot
}

// NewFulcioTrustRoot loads a Sigstore trusted_root.json from path.
func NewFulcioTrustRoot(path string) (*FulcioTrustRoot, error) {
	trusted, err := sigstoreroot.NewTrustedRootFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("loading trusted root: %w", err)
	}
	return &FulcioTrustRoot{trusted: trusted}, nil
}

// VerifyChain parses cert.Raw as a DER certificate and checks it chains to
// any configured Fulcio CA whose validity period covers the leaf's. The
// chain itself is verified at the current time.
func (f *FulcioTrustRoot) VerifyChain(ctx context.Context, cert Certificate) (bool, error) {
	leaf, err := x509.ParseCertificate(cert.Raw)
	if err != nil {
		return false, fmt.Errorf("parsing certificate: %w", err)
	}

	for _, ca := range f.trusted.FulcioCertificateAuthorities() {
		if !ca.ValidityPeriodStart.IsZero() && leaf.NotBefore.Before(ca.ValidityPeriodStart) {
			continue
		}
		if !ca.ValidityPeriodEnd.IsZero() && leaf.NotAfter.After(ca.ValidityPeriodEnd) {
			continue
		}

		roots := x509.NewCertPool()
		if ca.Root != nil {
			roots.AddCert(ca.Root)
		}
		intermediates := x509.NewCertPool()
		for _, i := range ca.Intermediates {
			intermediates.AddCert(i)
		}

		if _, err := leaf.Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
			CurrentTime:   time.Now(),
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning, x509.ExtKeyUsageAny},
		}); err == nil {
			return true, nil
		}
	}
	return false, nil
}
