package trust

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"testing"

	"github.com/enactprotocol/enact/attest"
)

type fakeIdentity struct{ identity string }

func (f fakeIdentity) Authenticate(ctx context.Context) (string, string, error) {
	return "token", f.identity, nil
}

type fakeIssuer struct{}

func (fakeIssuer) Issue(ctx context.Context, token string, pub crypto.PublicKey) (attest.Certificate, error) {
	return attest.Certificate{Raw: []byte(pub.(ed25519.PublicKey))}, nil
}

type fakeLog struct{ seen map[string]bool }

func (f *fakeLog) Append(ctx context.Context, statement, signature []byte, cert attest.Certificate) (attest.LogEntry, error) {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	id := cert.Identity + string(signature[:4])
	f.seen[id] = true
	return attest.LogEntry{LogID: id}, nil
}

func (f *fakeLog) VerifyInclusion(ctx context.Context, entry attest.LogEntry) (bool, error) {
	return f.seen[entry.LogID], nil
}

type fakeRoot struct{}

func (fakeRoot) VerifyChain(ctx context.Context, cert attest.Certificate) (bool, error) {
	return true, nil
}

func signEnvelope(t *testing.T, log *fakeLog, identity string, role attest.Role) attest.Envelope {
	t.Helper()
	statement := attest.NewStatement("sha256:bundle", "sha256", "deadbeef", attest.Predicate{
		Name: "test/tool", Version: "2.0.0", Publisher: identity,
	})
	signer := attest.Signer{Identity: fakeIdentity{identity: identity}, Certs: fakeIssuer{}, Log: log}
	env, err := signer.Sign(context.Background(), statement, role)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return env
}

func TestEvaluate_PermissiveAcceptsOneSignature(t *testing.T) {
	log := &fakeLog{}
	env := signEnvelope(t, log, "provider:alice", attest.RoleAuthor)
	verifier := attest.Verifier{Root: fakeRoot{}, Log: log}

	decision := Evaluate(context.Background(), Permissive(), verifier, []attest.Envelope{env}, "sha256", "deadbeef")
	if !decision.Accepted {
		t.Fatalf("expected acceptance: %+v", decision)
	}
}

func TestEvaluate_EnterpriseRequiresAuthorAndReviewer(t *testing.T) {
	log := &fakeLog{}
	author := signEnvelope(t, log, "provider:alice", attest.RoleAuthor)

	verifier := attest.Verifier{Root: fakeRoot{}, Log: log}
	decision := Evaluate(context.Background(), Enterprise(), verifier, []attest.Envelope{author}, "sha256", "deadbeef")
	if decision.Accepted {
		t.Fatal("expected rejection: missing reviewer role and below minimum count")
	}

	reviewer := signEnvelope(t, log, "provider:bob", attest.RoleReviewer)
	decision = Evaluate(context.Background(), Enterprise(), verifier, []attest.Envelope{author, reviewer}, "sha256", "deadbeef")
	if !decision.Accepted {
		t.Fatalf("expected acceptance with author+reviewer: %+v", decision)
	}
}

func TestEvaluate_UntrustedIdentityRejected(t *testing.T) {
	log := &fakeLog{}
	env := signEnvelope(t, log, "provider:mallory", attest.RoleAuthor)
	verifier := attest.Verifier{Root: fakeRoot{}, Log: log}

	policy := Policy{TrustedAuditors: []string{"provider:alice"}, MinimumAttestations: 1}
	decision := Evaluate(context.Background(), policy, verifier, []attest.Envelope{env}, "sha256", "deadbeef")
	if decision.Accepted {
		t.Fatal("expected rejection: identity not in trusted_auditors")
	}
}

func TestEvaluateLocal_RequiresExplicitFlag(t *testing.T) {
	if EvaluateLocal(Policy{}).Accepted {
		t.Fatal("expected unsigned local manifest rejected by default")
	}
	if !EvaluateLocal(Policy{AllowLocalUnsigned: true}).Accepted {
		t.Fatal("expected acceptance when allow_local_unsigned is set")
	}
}
