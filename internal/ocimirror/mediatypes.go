// Package ocimirror lets the registry client push skill bundles to and pull
// them from a plain OCI registry, so a skill can be distributed through any
// container registry as an alternative to the HTTP registry service. The
// registry service itself does not use this package.
package ocimirror

// Media types for an enact skill artifact: the manifest frontmatter as the
// OCI config blob, the deterministic bundle tarball as the single content
// layer.
const (
	MediaTypeManifestConfig = "application/vnd.enact.skill.manifest.v1+json"
	MediaTypeBundleContent  = "application/vnd.enact.skill.bundle.v1.tar+gzip"
)
