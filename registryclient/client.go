// Package registryclient is a typed HTTP wrapper over the registry service's
// /v1 API (internal/registry/api), choosing managed-deployment vs.
// self-hosted authentication and retrying transient network failures.
package registryclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/enactprotocol/enact/attest"
	"github.com/enactprotocol/enact/errcode"
	"github.com/enactprotocol/enact/internal/ocimirror"
)

// managedHosts are base URLs recognised as Enact's managed deployment; a
// client pointed at one of these sends the apikey header alongside the
// bearer token. Self-hosted deployments reject that second header.
var managedHosts = []string{
	"registry.enact.tools",
	"api.enact.tools",
}

// Client is a typed wrapper over the registry HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
	apiKey     string
	managed    bool
	maxRetries int

	// mirror is set when baseURL uses the oci:// or oci+http:// scheme
	// (spec §4.G): bundle storage is backed by a plain OCI registry
	// instead of the HTTP registry service, for Publish/Download only --
	// search, yank, visibility, and attestations have no OCI analogue and
	// still require a registry service.
	mirror           *ocimirror.Client
	mirrorRepoPrefix string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client (timeouts, transport).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAuthToken sets the bearer token sent on every request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// WithAPIKey sets the managed-deployment apikey header. Only sent when the
// client determines the base URL is a managed host.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithMaxRetries bounds the number of retry attempts for transient network
// errors and 5xx responses. Default is 3.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

const defaultMaxRetries = 3

// New creates a registry client. baseURL must be explicit; there is no
// default registry URL baked into the client (spec §9 resolution).
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errcode.New(errcode.BadRequest, "registry base URL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, errcode.Newf(errcode.BadRequest, "invalid registry base URL", map[string]any{"error": err.Error()})
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: defaultMaxRetries,
		managed:    isManagedHost(parsed.Host),
	}
	switch parsed.Scheme {
	case "oci":
		c.mirror = ocimirror.NewClient()
		c.mirrorRepoPrefix = strings.TrimPrefix(parsed.Host+parsed.Path, "/")
	case "oci+http":
		c.mirror = ocimirror.NewClient(ocimirror.WithPlainHTTP(true))
		c.mirrorRepoPrefix = strings.TrimPrefix(parsed.Host+parsed.Path, "/")
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// mirrorRef builds the OCI repository:tag reference a tool version maps to
// under the mirror's repository prefix. "@" isn't a valid OCI path
// character, so a namespaced tool name's leading "@" is dropped; the rest
// of the path (including any "/") carries through unchanged.
func (c *Client) mirrorRef(name, version string) string {
	return c.mirrorRepoPrefix + "/" + strings.TrimPrefix(name, "@") + ":" + version
}

func isManagedHost(host string) bool {
	for _, h := range managedHosts {
		if host == h {
			return true
		}
	}
	return false
}

// SearchResponse mirrors the registry's /tools/search envelope.
type SearchResponse struct {
	Tools      []json.RawMessage `json:"tools"`
	Total      int               `json:"total"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
	SearchType string            `json:"search_type"`
}

// Search queries the registry's search/browse endpoint.
func (c *Client) Search(ctx context.Context, query string, tags []string, limit, offset int) (*SearchResponse, error) {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	if len(tags) > 0 {
		q.Set("tags", strings.Join(tags, ","))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", offset))
	}

	var out SearchResponse
	if err := c.do(ctx, http.MethodGet, "/v1/tools/search?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTool fetches a tool's metadata and version list.
func (c *Client) GetTool(ctx context.Context, name string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/tools/"+name, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetVersion fetches version detail including manifest, bundle hash, and
// attestations.
func (c *Client) GetVersion(ctx context.Context, name, version string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/tools/"+name+"/versions/"+version, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Download fetches a version's bundle bytes. If acknowledgeYanked is false
// and the version is yanked, the registry returns VERSION_YANKED. In mirror
// mode there is no yank state to check -- the OCI registry holds whatever
// was last pushed under that tag.
func (c *Client) Download(ctx context.Context, name, version string, acknowledgeYanked bool) ([]byte, error) {
	if c.mirror != nil {
		res, err := c.mirror.Pull(ctx, c.mirrorRef(name, version))
		if err != nil {
			return nil, fmt.Errorf("pulling %s/%s from oci mirror: %w", name, version, err)
		}
		return res.BundleArchive, nil
	}

	path := "/v1/tools/" + name + "/versions/" + version + "/download"
	if acknowledgeYanked {
		path += "?acknowledge_yanked=true"
	}
	resp, err := c.doRaw(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errorFromResponse(resp)
	}
	return io.ReadAll(resp.Body)
}

// PublishResult is returned by Publish.
type PublishResult struct {
	VersionID  int64  `json:"version_id"`
	BundleHash string `json:"bundle_hash"`
	BundleSize int    `json:"bundle_size"`
}

// Publish uploads a manifest and bundle as a multipart request, or pushes
// them to the OCI mirror when the client was constructed with an oci://
// base URL. rawManifest and visibility have no OCI analogue and are
// ignored in mirror mode.
func (c *Client) Publish(ctx context.Context, name string, manifestJSON, rawManifest, bundle []byte, visibility string) (*PublishResult, error) {
	if c.mirror != nil {
		return c.publishViaMirror(ctx, name, manifestJSON, bundle)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("manifest", string(manifestJSON)); err != nil {
		return nil, fmt.Errorf("writing manifest field: %w", err)
	}
	if len(rawManifest) > 0 {
		if err := w.WriteField("raw_manifest", string(rawManifest)); err != nil {
			return nil, fmt.Errorf("writing raw_manifest field: %w", err)
		}
	}
	if visibility != "" {
		if err := w.WriteField("visibility", visibility); err != nil {
			return nil, fmt.Errorf("writing visibility field: %w", err)
		}
	}
	fw, err := w.CreateFormFile("bundle", "bundle.tar.gz")
	if err != nil {
		return nil, fmt.Errorf("creating bundle field: %w", err)
	}
	if _, err := fw.Write(bundle); err != nil {
		return nil, fmt.Errorf("writing bundle field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	resp, err := c.doRaw(ctx, http.MethodPost, "/v1/tools/"+name+"/versions", &buf, w.FormDataContentType())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errorFromResponse(resp)
	}

	var out PublishResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding publish response: %w", err)
	}
	return &out, nil
}

func (c *Client) publishViaMirror(ctx context.Context, name string, manifestJSON, bundle []byte) (*PublishResult, error) {
	var parsed struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(manifestJSON, &parsed); err != nil {
		return nil, fmt.Errorf("reading version from manifest: %w", err)
	}
	if parsed.Version == "" {
		return nil, errcode.New(errcode.ValidationError, "manifest has no version")
	}

	if _, err := c.mirror.Push(ctx, c.mirrorRef(name, parsed.Version), manifestJSON, bundle); err != nil {
		return nil, fmt.Errorf("pushing %s/%s to oci mirror: %w", name, parsed.Version, err)
	}

	sum := sha256.Sum256(bundle)
	return &PublishResult{
		BundleHash: "sha256:" + hex.EncodeToString(sum[:]),
		BundleSize: len(bundle),
	}, nil
}

// Yank marks a version yanked with a reason and optional replacement.
func (c *Client) Yank(ctx context.Context, name, version, reason, replacement string) error {
	body, _ := json.Marshal(map[string]string{"reason": reason, "replacement": replacement})
	return c.do(ctx, http.MethodPost, "/v1/tools/"+name+"/versions/"+version+"/yank", bytes.NewReader(body), nil)
}

// Unyank reverts a yank.
func (c *Client) Unyank(ctx context.Context, name, version string) error {
	return c.do(ctx, http.MethodPost, "/v1/tools/"+name+"/versions/"+version+"/unyank", nil, nil)
}

// attestationBody is the JSON shape internal/registry/api's
// handleAttachAttestation decodes: verification booleans and identity
// fields alongside the nested signed envelope.
type attestationBody struct {
	Auditor             string          `json:"auditor"`
	AuditorProvider     string          `json:"auditorProvider"`
	Role                string          `json:"role"`
	Envelope            json.RawMessage `json:"envelope"`
	RekorLogID          string          `json:"rekorLogId"`
	RekorLogIndex       int64           `json:"rekorLogIndex"`
	Verified            bool            `json:"verified"`
	RekorVerified       bool            `json:"rekorVerified"`
	CertificateVerified bool            `json:"certificateVerified"`
	SignatureVerified   bool            `json:"signatureVerified"`
}

// AttachAttestation attaches a signed attestation envelope to a version,
// along with the verification result the caller computed against it, so
// the registry's identity-trust check has a populated auditor/provider to
// evaluate (trust.Evaluate).
func (c *Client) AttachAttestation(ctx context.Context, name, version string, envelope attest.Envelope, result attest.Result) error {
	envJSON, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshalling envelope: %w", err)
	}
	body, err := json.Marshal(attestationBody{
		Auditor:             envelope.Certificate.Identity,
		AuditorProvider:     envelope.Certificate.Issuer,
		Role:                string(envelope.Role),
		Envelope:            envJSON,
		RekorLogID:          envelope.LogEntry.LogID,
		RekorLogIndex:       envelope.LogEntry.LogIndex,
		Verified:            result.Verified,
		RekorVerified:       result.RekorVerified,
		CertificateVerified: result.CertificateVerified,
		SignatureVerified:   result.SignatureVerified,
	})
	if err != nil {
		return fmt.Errorf("marshalling attestation body: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/v1/tools/"+name+"/versions/"+version+"/attestations", bytes.NewReader(body), nil)
}

// ListAttestations lists non-revoked attestations for a version.
func (c *Client) ListAttestations(ctx context.Context, name, version string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/tools/"+name+"/versions/"+version+"/attestations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetVisibility changes a tool's visibility.
func (c *Client) SetVisibility(ctx context.Context, name, visibility string) error {
	body, _ := json.Marshal(map[string]string{"visibility": visibility})
	return c.do(ctx, http.MethodPatch, "/v1/tools/"+name+"/visibility", bytes.NewReader(body), nil)
}

// DeleteTool deletes a tool, all versions, attestations, and blobs.
func (c *Client) DeleteTool(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/tools/"+name, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("reading request body: %w", err)
		}
	}

	var reader io.Reader
	if bodyBytes != nil {
		reader = bytes.NewReader(bodyBytes)
	}
	resp, err := c.doRaw(ctx, method, path, reader, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// doRaw performs one request with bounded exponential-backoff retry on
// transient network errors and 5xx responses. 4xx responses are never
// retried (spec §4.G).
func (c *Client) doRaw(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("buffering request body for retry: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 && attempt < c.maxRetries {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %s", resp.Status)
			continue
		}
		return resp, nil
	}
	return nil, errcode.Newf(errcode.NetworkError, "request failed after retries", map[string]any{"error": lastErr.Error()})
}

func (c *Client) applyAuth(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if c.managed && c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
}

func sleepBackoff(ctx context.Context, attempt int) error {
	base := time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base) / 2 + 1))
	select {
	case <-time.After(base + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errorFromResponse(resp *http.Response) error {
	var body struct {
		Error struct {
			Code    errcode.Code   `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details,omitempty"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error.Code == "" {
		return errcode.Newf(errcode.BadRequest, resp.Status, nil)
	}
	return errcode.Newf(body.Error.Code, body.Error.Message, body.Error.Details)
}
