// Package trust evaluates a version's attestation envelopes against a named
// or custom trust policy, deciding whether the version is accepted.
package trust

import (
	"context"
	"fmt"

	"github.com/enactprotocol/enact/attest"
)

// Policy enumerates the acceptance criteria from spec §4.D.
type Policy struct {
	TrustedAuditors     []string // "*" accepts any identity
	MinimumAttestations int
	RequiredRoles       []attest.Role
	AllowedAlgorithms   []string
	AllowLocalUnsigned  bool
}

// Permissive requires at least one valid signature from any trusted
// identity.
func Permissive() Policy {
	return Policy{TrustedAuditors: []string{"*"}, MinimumAttestations: 1}
}

// Enterprise requires at least two valid signatures covering the author and
// reviewer roles.
func Enterprise() Policy {
	return Policy{
		TrustedAuditors:     []string{"*"},
		MinimumAttestations: 2,
		RequiredRoles:       []attest.Role{attest.RoleAuthor, attest.RoleReviewer},
	}
}

// Paranoid requires at least three valid signatures covering author,
// reviewer and approver roles.
func Paranoid() Policy {
	return Policy{
		TrustedAuditors:     []string{"*"},
		MinimumAttestations: 3,
		RequiredRoles:       []attest.Role{attest.RoleAuthor, attest.RoleReviewer, attest.RoleApprover},
	}
}

// Preset resolves one of the named policy presets ("permissive",
// "enterprise", "paranoid") by name, the form a config file or flag value
// takes.
func Preset(name string) (Policy, error) {
	switch name {
	case "permissive":
		return Permissive(), nil
	case "enterprise", "":
		return Enterprise(), nil
	case "paranoid":
		return Paranoid(), nil
	default:
		return Policy{}, fmt.Errorf("unknown trust policy preset %q", name)
	}
}

// Decision reports the outcome of Evaluate along with the reason for a
// rejection.
type Decision struct {
	Accepted bool
	Reason   string
}

// Evaluate filters envs by policy and verifies each remaining one, then
// accepts iff the minimum-attestation count, required roles and trusted-
// identity constraints all hold. Algorithm filtering looks at the digest
// algorithms named in each envelope's statement subjects.
func Evaluate(ctx context.Context, policy Policy, verifier attest.Verifier, envs []attest.Envelope, digestAlg, digestHex string) Decision {
	filtered := filterByAlgorithm(envs, policy.AllowedAlgorithms, digestAlg)
	results := verifier.VerifyAll(ctx, filtered, digestAlg, digestHex)

	var accepted []attest.Result
	for _, r := range results {
		if !r.Verified {
			continue
		}
		if !identityTrusted(policy.TrustedAuditors, r.Identity) {
			continue
		}
		accepted = append(accepted, r)
	}

	if len(accepted) < policy.MinimumAttestations {
		return Decision{Accepted: false, Reason: "insufficient valid attestations"}
	}

	for _, role := range policy.RequiredRoles {
		if !hasRole(accepted, role) {
			return Decision{Accepted: false, Reason: "missing required role: " + string(role)}
		}
	}

	return Decision{Accepted: true}
}

// EvaluateLocal accepts an unsigned manifest loaded from local disk iff the
// policy explicitly allows it. This path never applies to registry-sourced
// artifacts.
func EvaluateLocal(policy Policy) Decision {
	if policy.AllowLocalUnsigned {
		return Decision{Accepted: true}
	}
	return Decision{Accepted: false, Reason: "local manifest is unsigned and allow_local_unsigned is not set"}
}

func filterByAlgorithm(envs []attest.Envelope, allowed []string, digestAlg string) []attest.Envelope {
	if len(allowed) == 0 {
		return envs
	}
	var kept []attest.Envelope
	for _, env := range envs {
		for _, subj := range env.Statement.Subject {
			if _, ok := subj.Digest[digestAlg]; !ok {
				continue
			}
			for _, a := range allowed {
				if a == digestAlg {
					kept = append(kept, env)
				}
			}
		}
	}
	return kept
}

func identityTrusted(trusted []string, identity string) bool {
	for _, t := range trusted {
		if t == "*" || t == identity {
			return true
		}
	}
	return false
}

func hasRole(results []attest.Result, role attest.Role) bool {
	for _, r := range results {
		if r.Role == role {
			return true
		}
	}
	return false
}
