// Package api implements the registry's HTTP surface: search, tool and
// version retrieval, publish/yank/visibility mutation, and attestation
// attachment, all under a fixed path prefix, as an Enact v1 API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/enactprotocol/enact/internal/registry/store"
	"github.com/enactprotocol/enact/trust"
)

// Server holds the dependencies shared by every handler.
type Server struct {
	Store  *store.Store
	Blobs  *store.BlobStore
	Logger *zap.Logger
	Auth   Authenticator
	Policy trust.Policy // the policy this deployment recommends to clients
}

// NewRouter builds the mux.Router exposing every registry operation under
// /v1.
func NewRouter(s *Server) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(s.Logger))

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/tools/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/tools/{name:.+}/versions/{version}/attestations", s.withAuth(s.handleAttachAttestation)).Methods(http.MethodPost)
	api.HandleFunc("/tools/{name:.+}/versions/{version}/attestations", s.handleListAttestations).Methods(http.MethodGet)
	api.HandleFunc("/tools/{name:.+}/versions/{version}/download", s.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/tools/{name:.+}/versions/{version}/yank", s.withAuth(s.handleYank)).Methods(http.MethodPost)
	api.HandleFunc("/tools/{name:.+}/versions/{version}/unyank", s.withAuth(s.handleUnyank)).Methods(http.MethodPost)
	api.HandleFunc("/tools/{name:.+}/versions/{version}", s.handleGetVersion).Methods(http.MethodGet)
	api.HandleFunc("/tools/{name:.+}/versions", s.withAuth(s.handlePublish)).Methods(http.MethodPost)
	api.HandleFunc("/tools/{name:.+}/visibility", s.withAuth(s.handleSetVisibility)).Methods(http.MethodPatch)
	api.HandleFunc("/tools/{name:.+}", s.withAuth(s.handleDeleteTool)).Methods(http.MethodDelete)
	api.HandleFunc("/tools/{name:.+}", s.handleGetTool).Methods(http.MethodGet)
	api.HandleFunc("/policy", s.handleGetPolicy).Methods(http.MethodGet)

	return r
}

// handleGetPolicy reports the trust policy this deployment recommends, so
// a client without a local override can adopt the operator's choice.
func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"data": s.Policy})
}

func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}
}
