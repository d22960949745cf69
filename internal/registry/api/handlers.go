package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/enactprotocol/enact/attest"
	"github.com/enactprotocol/enact/errcode"
	"github.com/enactprotocol/enact/internal/registry/store"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	var tags []string
	if raw := q.Get("tags"); raw != "" {
		tags = strings.Split(raw, ",")
	}
	limit := intParam(q, "limit", 20)
	offset := intParam(q, "offset", 0)

	results, total, searchType, err := s.Store.Search(r.Context(), query, tags, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tools":       results,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
		"search_type": searchType,
	})
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	tool, err := s.Store.GetToolByName(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	versions, err := s.Store.ListVersions(r.Context(), tool.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	latest, err := s.Store.LatestVersion(r.Context(), tool.ID)
	if err != nil && !isNotFound(err) {
		writeError(w, err)
		return
	}

	resp := map[string]any{"tool": tool, "versions": versions}
	if latest != nil {
		resp["latest_version"] = latest.Version
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tool, err := s.Store.GetToolByName(r.Context(), vars["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	version, err := s.Store.GetVersion(r.Context(), tool.ID, vars["version"])
	if err != nil {
		writeError(w, err)
		return
	}
	attestations, err := s.Store.ListAttestations(r.Context(), version.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	var parsedManifest any
	_ = json.Unmarshal(version.ManifestJSON, &parsedManifest)

	writeJSON(w, http.StatusOK, map[string]any{
		"version":      version.Version,
		"manifest":     parsedManifest,
		"raw_manifest": string(version.RawManifest),
		"bundle_hash":  version.BundleHash,
		"bundle_size":  version.BundleSize,
		"attestations": attestations,
		"publisher":    version.PublishedBy,
		"yanked":       version.Yanked,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tool, err := s.Store.GetToolByName(r.Context(), vars["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	version, err := s.Store.GetVersion(r.Context(), tool.ID, vars["version"])
	if err != nil {
		writeError(w, err)
		return
	}

	if version.Yanked && r.URL.Query().Get("acknowledge_yanked") == "" {
		writeError(w, errcode.Newf(errcode.VersionYanked, "version is yanked", map[string]any{
			"reason": version.YankReason, "replacement": version.Replacement,
		}))
		return
	}

	data, err := s.Blobs.Read(tool.Name, version.Version)
	if err != nil {
		writeError(w, errcode.Newf(errcode.NotFound, "bundle missing from blob store", map[string]any{"error": err.Error()}))
		return
	}

	if err := s.Store.RecordDownload(r.Context(), tool.ID, version.ID, identityFromContext(r.Context())); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("ETag", `"`+version.BundleHash+`"`)
	w.Header().Set("Content-Type", "application/gzip")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]
	identity := identityFromContext(r.Context())

	if err := checkNamespaceOwnership(name, identity); err != nil {
		writeError(w, err)
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, errcode.Newf(errcode.BadRequest, "parsing multipart form", map[string]any{"error": err.Error()}))
		return
	}

	manifestJSON := []byte(r.FormValue("manifest"))
	visibility := store.Visibility(r.FormValue("visibility"))
	if visibility == "" {
		visibility = store.VisibilityPublic
	}
	rawManifest := []byte(r.FormValue("raw_manifest"))
	if len(rawManifest) == 0 {
		rawManifest = manifestJSON
	}

	var parsed struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(manifestJSON, &parsed); err != nil {
		writeError(w, errcode.Newf(errcode.ValidationError, "invalid manifest JSON", map[string]any{"error": err.Error()}))
		return
	}

	bundleData, err := readMultipartFile(r, "bundle")
	if err != nil {
		writeError(w, errcode.Newf(errcode.BadRequest, "reading bundle upload", map[string]any{"error": err.Error()}))
		return
	}
	sum := sha256.Sum256(bundleData)
	bundleHash := "sha256:" + hex.EncodeToString(sum[:])

	// An optional pre-signed attestation pair per spec §4.F: the bundle's
	// checksum manifest and the sigstore envelope that signs it.
	var versionAttestation *store.Attestation
	if raw := r.FormValue("sigstore_bundle"); raw != "" {
		var env attest.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			writeError(w, errcode.Newf(errcode.ValidationError, "invalid sigstore_bundle", map[string]any{"error": err.Error()}))
			return
		}
		if checksum := r.FormValue("checksum_manifest"); checksum != "" && !envelopeBindsChecksum(env, checksum) {
			writeError(w, errcode.Newf(errcode.ValidationError, "checksum_manifest does not match attestation subject", nil))
			return
		}
		envJSON, err := json.Marshal(env)
		if err != nil {
			writeError(w, fmt.Errorf("re-marshalling sigstore_bundle: %w", err))
			return
		}
		versionAttestation = &store.Attestation{
			Auditor:         env.Certificate.Identity,
			AuditorProvider: env.Certificate.Issuer,
			Role:            string(env.Role),
			EnvelopeJSON:    envJSON,
			RekorLogID:      env.LogEntry.LogID,
			RekorLogIndex:   env.LogEntry.LogIndex,
			SignedAt:        env.CreatedAt,
		}
	}

	tool, err := s.Store.GetToolByName(r.Context(), name)
	if err != nil {
		if !isNotFound(err) {
			writeError(w, err)
			return
		}
		toolID, createErr := s.Store.CreateTool(r.Context(), store.Tool{
			Name: name, ShortName: shortName(name), Visibility: visibility,
		})
		if createErr != nil {
			writeError(w, createErr)
			return
		}
		tool = &store.Tool{ID: toolID, Name: name}
	}

	// Bundles are immutable (spec §3): BlobStore.Write refuses to replace
	// existing bytes, so a version that later fails the uniqueness check
	// below can never have clobbered an already-published bundle.
	bundlePath, err := s.Blobs.Write(tool.Name, parsed.Version, bundleData)
	if err != nil {
		writeError(w, err)
		return
	}

	versionID, attestationID, err := s.Store.PublishVersionWithAttestation(r.Context(), store.Version{
		ToolID:       tool.ID,
		Version:      parsed.Version,
		ManifestJSON: manifestJSON,
		RawManifest:  rawManifest,
		BundleHash:   bundleHash,
		BundleSize:   int64(len(bundleData)),
		BundlePath:   bundlePath,
		PublishedBy:  identity,
	}, versionAttestation)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{
		"version_id":  versionID,
		"bundle_hash": bundleHash,
		"bundle_size": len(bundleData),
	}
	if versionAttestation != nil {
		resp["attestation_id"] = attestationID
	}
	writeJSON(w, http.StatusCreated, resp)
}

// envelopeBindsChecksum reports whether env's statement binds checksum as
// one of its subject digests, so a claimed checksum_manifest can't be
// submitted alongside an envelope that actually signs something else.
func envelopeBindsChecksum(env attest.Envelope, checksum string) bool {
	for _, subj := range env.Statement.Subject {
		for _, digest := range subj.Digest {
			if digest == checksum {
				return true
			}
		}
	}
	return false
}

func (s *Server) handleAttachAttestation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tool, err := s.Store.GetToolByName(r.Context(), vars["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	version, err := s.Store.GetVersion(r.Context(), tool.ID, vars["version"])
	if err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		Auditor             string `json:"auditor"`
		AuditorProvider     string `json:"auditorProvider"`
		Role                string `json:"role"`
		Envelope            json.RawMessage `json:"envelope"`
		RekorLogID          string `json:"rekorLogId"`
		RekorLogIndex       int64  `json:"rekorLogIndex"`
		Verified            bool   `json:"verified"`
		RekorVerified       bool   `json:"rekorVerified"`
		CertificateVerified bool   `json:"certificateVerified"`
		SignatureVerified   bool   `json:"signatureVerified"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errcode.Newf(errcode.ValidationError, "invalid attestation body", map[string]any{"error": err.Error()}))
		return
	}

	id, err := s.Store.AttachAttestation(r.Context(), store.Attestation{
		ToolVersionID:       version.ID,
		Auditor:             body.Auditor,
		AuditorProvider:     body.AuditorProvider,
		Role:                body.Role,
		EnvelopeJSON:        body.Envelope,
		RekorLogID:          body.RekorLogID,
		RekorLogIndex:       body.RekorLogIndex,
		SignedAt:            time.Now(),
		Verified:            body.Verified,
		RekorVerified:       body.RekorVerified,
		CertificateVerified: body.CertificateVerified,
		SignatureVerified:   body.SignatureVerified,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleListAttestations(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tool, err := s.Store.GetToolByName(r.Context(), vars["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	version, err := s.Store.GetVersion(r.Context(), tool.ID, vars["version"])
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := s.Store.ListAttestations(r.Context(), version.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attestations": list})
}

func (s *Server) handleYank(w http.ResponseWriter, r *http.Request) {
	s.yankOrUnyank(w, r, true)
}

func (s *Server) handleUnyank(w http.ResponseWriter, r *http.Request) {
	s.yankOrUnyank(w, r, false)
}

func (s *Server) yankOrUnyank(w http.ResponseWriter, r *http.Request, yank bool) {
	vars := mux.Vars(r)
	tool, err := s.Store.GetToolByName(r.Context(), vars["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	version, err := s.Store.GetVersion(r.Context(), tool.ID, vars["version"])
	if err != nil {
		writeError(w, err)
		return
	}

	if !yank {
		if err := s.Store.Unyank(r.Context(), version.ID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"yanked": false})
		return
	}

	var body struct {
		Reason      string `json:"reason"`
		Replacement string `json:"replacement"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	if err := s.Store.Yank(r.Context(), version.ID, body.Reason, body.Replacement); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"yanked": true, "reason": body.Reason})
}

func (s *Server) handleSetVisibility(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tool, err := s.Store.GetToolByName(r.Context(), vars["name"])
	if err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		Visibility string `json:"visibility"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errcode.Newf(errcode.BadRequest, "invalid body", nil))
		return
	}

	if err := s.Store.SetVisibility(r.Context(), tool.ID, store.Visibility(body.Visibility)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"visibility": body.Visibility})
}

func (s *Server) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tool, err := s.Store.GetToolByName(r.Context(), vars["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Blobs.Delete(tool.Name); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.DeleteTool(r.Context(), tool.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkNamespaceOwnership enforces that a publisher may only publish under
// their own username or an organization they belong to (spec §3). Full
// membership resolution is left to the profile/org tables; this checks the
// simple case where the leading segment or "@org" prefix matches identity.
func checkNamespaceOwnership(toolName, identity string) error {
	owner := toolName
	if idx := strings.Index(toolName, "/"); idx > 0 {
		owner = toolName[:idx]
	}
	owner = strings.TrimPrefix(owner, "@")
	if owner != identity && identity != openModeAdmin {
		return errcode.Newf(errcode.NamespaceMismatch, "cannot publish under another namespace", map[string]any{
			"namespace": owner, "identity": identity,
		})
	}
	return nil
}

func shortName(name string) string {
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

func intParam(q interface{ Get(string) string }, key string, def int) int {
	raw := q.Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func isNotFound(err error) bool {
	e, ok := errcode.As(err)
	return ok && e.Code == errcode.NotFound
}

func readMultipartFile(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}
