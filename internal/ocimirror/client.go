package ocimirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	godigest "github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

// Client pushes and pulls skill artifacts to and from a plain OCI registry.
type Client struct {
	plainHTTP  bool
	authClient *auth.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPlainHTTP disables TLS, for local registries during development.
func WithPlainHTTP(plain bool) ClientOption {
	return func(c *Client) { c.plainHTTP = plain }
}

// WithRegistryAuthEnv sets an environment variable name holding a
// base64-encoded Docker config JSON to check before falling back to
// Docker/Podman config files.
func WithRegistryAuthEnv(envName string) ClientOption {
	return func(c *Client) { c.authClient = newAuthClient(envName) }
}

// NewClient creates an OCI mirror client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{authClient: newAuthClient("")}
	for _, o := range opts {
		o(c)
	}
	return c
}

// PushResult is the digest of the pushed manifest.
type PushResult struct {
	Digest string
}

// Push uploads a manifest blob and a pre-packed bundle archive to ref (which
// must include a tag), tagging the resulting OCI manifest.
func (c *Client) Push(ctx context.Context, ref string, manifestJSON []byte, bundleArchive []byte) (*PushResult, error) {
	repo, tag, err := c.newRepository(ref)
	if err != nil {
		return nil, err
	}
	if tag == "" {
		return nil, fmt.Errorf("reference %q must include a tag", ref)
	}

	configDesc := ocispec.Descriptor{
		MediaType: MediaTypeManifestConfig,
		Digest:    godigest.FromBytes(manifestJSON),
		Size:      int64(len(manifestJSON)),
	}
	if err := repo.Push(ctx, configDesc, bytes.NewReader(manifestJSON)); err != nil {
		return nil, fmt.Errorf("pushing manifest config: %w", err)
	}

	layerDesc := ocispec.Descriptor{
		MediaType: MediaTypeBundleContent,
		Digest:    godigest.FromBytes(bundleArchive),
		Size:      int64(len(bundleArchive)),
	}
	if err := repo.Push(ctx, layerDesc, bytes.NewReader(bundleArchive)); err != nil {
		return nil, fmt.Errorf("pushing bundle layer: %w", err)
	}

	annotations := annotationsFromManifest(manifestJSON)

	ociManifest := ocispec.Manifest{
		Versioned:   specs.Versioned{SchemaVersion: 2},
		MediaType:   ocispec.MediaTypeImageManifest,
		Config:      configDesc,
		Layers:      []ocispec.Descriptor{layerDesc},
		Annotations: annotations,
	}
	ociManifestJSON, err := json.Marshal(ociManifest)
	if err != nil {
		return nil, fmt.Errorf("marshalling OCI manifest: %w", err)
	}
	manifestDesc := ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageManifest,
		Digest:    godigest.FromBytes(ociManifestJSON),
		Size:      int64(len(ociManifestJSON)),
	}
	if err := repo.Push(ctx, manifestDesc, bytes.NewReader(ociManifestJSON)); err != nil {
		return nil, fmt.Errorf("pushing OCI manifest: %w", err)
	}
	if err := repo.Tag(ctx, manifestDesc, tag); err != nil {
		return nil, fmt.Errorf("tagging manifest as %s: %w", tag, err)
	}

	return &PushResult{Digest: manifestDesc.Digest.String()}, nil
}

// PullResult carries the downloaded manifest config and bundle archive.
type PullResult struct {
	Digest        string
	ManifestJSON  []byte
	BundleArchive []byte
}

// Pull downloads the OCI manifest referenced by ref plus its manifest-config
// and bundle-content blobs.
func (c *Client) Pull(ctx context.Context, ref string) (*PullResult, error) {
	repo, tag, err := c.newRepository(ref)
	if err != nil {
		return nil, err
	}
	if tag == "" {
		return nil, fmt.Errorf("reference %q must include a tag or digest", ref)
	}

	manifestDesc, err := repo.Resolve(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", ref, err)
	}

	manifestRC, err := repo.Fetch(ctx, manifestDesc)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest for %s: %w", ref, err)
	}
	defer manifestRC.Close()

	var ociManifest ocispec.Manifest
	if err := json.NewDecoder(manifestRC).Decode(&ociManifest); err != nil {
		return nil, fmt.Errorf("parsing manifest for %s: %w", ref, err)
	}

	configRC, err := repo.Fetch(ctx, ociManifest.Config)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest config for %s: %w", ref, err)
	}
	defer configRC.Close()
	manifestJSON, err := io.ReadAll(configRC)
	if err != nil {
		return nil, fmt.Errorf("reading manifest config for %s: %w", ref, err)
	}

	var contentLayer *ocispec.Descriptor
	for i := range ociManifest.Layers {
		if ociManifest.Layers[i].MediaType == MediaTypeBundleContent {
			contentLayer = &ociManifest.Layers[i]
			break
		}
	}
	if contentLayer == nil {
		return nil, fmt.Errorf("no bundle layer found in %s", ref)
	}

	layerRC, err := repo.Fetch(ctx, *contentLayer)
	if err != nil {
		return nil, fmt.Errorf("fetching bundle layer for %s: %w", ref, err)
	}
	defer layerRC.Close()
	bundleArchive, err := io.ReadAll(layerRC)
	if err != nil {
		return nil, fmt.Errorf("reading bundle layer for %s: %w", ref, err)
	}

	return &PullResult{
		Digest:        manifestDesc.Digest.String(),
		ManifestJSON:  manifestJSON,
		BundleArchive: bundleArchive,
	}, nil
}

func (c *Client) newRepository(ref string) (*remote.Repository, string, error) {
	repo, err := remote.NewRepository(ref)
	if err != nil {
		return nil, "", fmt.Errorf("parsing reference %q: %w", ref, err)
	}
	tag := repo.Reference.Reference
	repo.PlainHTTP = c.plainHTTP
	repo.Client = c.authClient
	return repo, tag, nil
}

// annotationsFromManifest extracts standard OCI annotations from the
// manifest config blob's "name", "version" and "description" fields.
func annotationsFromManifest(manifestJSON []byte) map[string]string {
	var fields struct {
		Name        string `json:"name"`
		Version     string `json:"version"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(manifestJSON, &fields); err != nil {
		return nil
	}
	annotations := make(map[string]string)
	if fields.Name != "" {
		annotations[ocispec.AnnotationTitle] = fields.Name
	}
	if fields.Version != "" {
		annotations[ocispec.AnnotationVersion] = fields.Version
	}
	if fields.Description != "" {
		annotations[ocispec.AnnotationDescription] = fields.Description
	}
	if len(annotations) == 0 {
		return nil
	}
	return annotations
}
