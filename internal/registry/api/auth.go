package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/enactprotocol/enact/errcode"
)

// openModeAdmin is the synthetic profile every write is attributed to when
// no key-set is configured (spec §4.F "open mode").
const openModeAdmin = "admin"

type identityKey struct{}

// Authenticator checks a bearer token and resolves the caller's identity.
// A nil KeySet (zero value) runs in open mode: every request is accepted
// and attributed to openModeAdmin.
type Authenticator struct {
	KeySet map[string]string // token -> identity
}

// Identify validates the Authorization header. In open mode it always
// succeeds. In production mode a missing or unknown token is UNAUTHORIZED.
func (a Authenticator) Identify(r *http.Request) (string, error) {
	if len(a.KeySet) == 0 {
		return openModeAdmin, nil
	}

	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		return "", errcode.New(errcode.Unauthorized, "missing bearer token")
	}

	identity, ok := a.KeySet[token]
	if !ok {
		return "", errcode.New(errcode.Unauthorized, "invalid token")
	}
	return identity, nil
}

// withAuth wraps a handler, injecting the resolved identity into the
// request context or writing an UNAUTHORIZED response.
func (s *Server) withAuth(next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.Auth.Identify(r)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		next(w, r.WithContext(ctx))
	}
}

func identityFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(identityKey{}).(string); ok {
		return v
	}
	return openModeAdmin
}
