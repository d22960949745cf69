package manifest

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/enactprotocol/enact/errcode"
)

// delimiter is the frontmatter fence line, matching the teacher corpus's
// convention for frontmatter-plus-body documents.
const delimiter = "---"

var nameRe = regexp.MustCompile(`^(@[a-z0-9-]+/)?[a-z0-9-]+(/[a-z0-9-]+)*$`)

// templateTokenRe matches a whole-element "{{param}}" token, optionally
// surrounded by whitespace inside the braces.
var templateTokenRe = regexp.MustCompile(`^\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}$`)

// anyTemplateRe matches "{{...}}" occurring anywhere in a string, used to
// detect mixed (partial) template usage.
var anyTemplateRe = regexp.MustCompile(`\{\{[^{}]*\}\}`)

// Parse parses a manifest document (frontmatter-plus-body, or a bare
// structured document with no frontmatter) and validates it against the
// fixed schema described in spec §4.A.
func Parse(data []byte) (*Manifest, error) {
	frontmatter, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	if err := checkDuplicateKeys(frontmatter); err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := yaml.Unmarshal(frontmatter, &fields); err != nil {
		return nil, errcode.Newf(errcode.SchemaViolation, "parsing manifest frontmatter", map[string]any{"error": err.Error()})
	}

	var m Manifest
	if err := yaml.Unmarshal(frontmatter, &m); err != nil {
		return nil, errcode.Newf(errcode.SchemaViolation, "decoding manifest fields", map[string]any{"error": err.Error()})
	}
	m.Body = body
	m.Raw = data
	m.fields = fields

	if err := validate(&m); err != nil {
		return nil, err
	}

	return &m, nil
}

// splitFrontmatter separates a "---"-delimited frontmatter block from the
// documentation body. When the file does not start with the delimiter, the
// whole document is treated as the structured document with an empty body.
func splitFrontmatter(data []byte) (frontmatter []byte, body string, err error) {
	text := string(data)
	trimmed := strings.TrimLeft(text, "\xef\xbb\xbf \t\r\n")
	if !strings.HasPrefix(trimmed, delimiter) {
		return data, "", nil
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != delimiter {
		return data, "", nil
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delimiter {
			fm := strings.Join(lines[1:i], "\n")
			rest := strings.Join(lines[i+1:], "\n")
			return []byte(fm), strings.TrimLeft(rest, "\n"), nil
		}
	}

	return nil, "", errcode.New(errcode.SchemaViolation, "unterminated frontmatter block")
}

// checkDuplicateKeys walks the frontmatter's top-level mapping and its
// "scripts" sub-mapping for duplicate keys, which YAML otherwise silently
// resolves last-write-wins.
func checkDuplicateKeys(frontmatter []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(frontmatter, &doc); err != nil {
		return errcode.Newf(errcode.SchemaViolation, "parsing manifest frontmatter", map[string]any{"error": err.Error()})
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}

	if err := duplicateKeysIn(root, ""); err != nil {
		return err
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		val := root.Content[i+1]
		if key.Value == "scripts" && val.Kind == yaml.MappingNode {
			seen := map[string]bool{}
			for j := 0; j+1 < len(val.Content); j += 2 {
				name := val.Content[j].Value
				if seen[name] {
					return errcode.Newf(errcode.DuplicateScript, fmt.Sprintf("duplicate script %q", name), map[string]any{"script": name})
				}
				seen[name] = true
			}
		}
	}
	return nil
}

func duplicateKeysIn(mapping *yaml.Node, context string) error {
	seen := map[string]bool{}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		if seen[key] {
			return errcode.Newf(errcode.SchemaViolation, fmt.Sprintf("duplicate key %q", key), map[string]any{"key": key, "context": context})
		}
		seen[key] = true
	}
	return nil
}

// validate enforces the required fields, name/version grammar, and
// array-command template-token-boundary rule from spec §4.A.
func validate(m *Manifest) error {
	if m.Name == "" || !nameRe.MatchString(m.Name) {
		return errcode.Newf(errcode.InvalidName, fmt.Sprintf("invalid skill name %q", m.Name), map[string]any{"name": m.Name})
	}

	if m.Version == "" {
		return errcode.New(errcode.InvalidVersion, "version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return errcode.Newf(errcode.InvalidVersion, fmt.Sprintf("invalid semantic version %q", m.Version), map[string]any{"version": m.Version, "error": err.Error()})
	}

	if m.Command.IsArgv() {
		if err := validateArgvTemplates(m.Command.Argv); err != nil {
			return err
		}
	}

	for name, s := range m.Scripts {
		if s.Command.IsArgv() {
			if err := validateArgvTemplates(s.Command.Argv); err != nil {
				return fmt.Errorf("script %q: %w", name, err)
			}
		}
	}

	return nil
}

// validateArgvTemplates enforces that every "{{param}}" occurrence is its
// own whole argv element, never concatenated with surrounding literal text.
func validateArgvTemplates(argv []string) error {
	for _, elem := range argv {
		if !anyTemplateRe.MatchString(elem) {
			continue
		}
		if !templateTokenRe.MatchString(elem) {
			return errcode.Newf(errcode.MixedTemplate, fmt.Sprintf("template token concatenated with literal text in %q", elem), map[string]any{"element": elem})
		}
	}
	return nil
}

// bytesEqual reports whether two raw manifest byte slices are identical.
// Nothing in the module calls it.
func bytesEqual(a, b []byte) bool { return bytes.Equal(a, b) }
