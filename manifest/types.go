// Package manifest parses and validates Enact skill manifests and produces
// the deterministic canonical byte form used as the signing input for
// attestations.
package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Command is a skill's execution command. Exactly one of String or Argv is
// set, mirroring the manifest's "string or array" command field.
type Command struct {
	String string
	Argv   []string
}

// IsArgv reports whether the command was declared in array form.
func (c Command) IsArgv() bool { return c.Argv != nil }

// Empty reports whether no command was declared at all.
func (c Command) Empty() bool { return c.Argv == nil && c.String == "" }

// UnmarshalYAML accepts either a scalar string or a sequence of strings.
func (c *Command) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		c.String = s
		c.Argv = nil
		return nil
	case yaml.SequenceNode:
		var argv []string
		if err := node.Decode(&argv); err != nil {
			return err
		}
		c.Argv = argv
		c.String = ""
		return nil
	default:
		return fmt.Errorf("command: expected string or array, got %v", node.Kind)
	}
}

// MarshalYAML renders back to the form it was declared in.
func (c Command) MarshalYAML() (interface{}, error) {
	if c.IsArgv() {
		return c.Argv, nil
	}
	return c.String, nil
}

// EnvVarSpec describes one entry of a manifest's "env_vars" mapping.
type EnvVarSpec struct {
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Secret      bool   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Default     string `yaml:"default,omitempty" json:"default,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// Author is a manifest author entry.
type Author struct {
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	Email string `yaml:"email,omitempty" json:"email,omitempty"`
}

// Script is one entry of a manifest's "scripts" mapping: either a bare
// command string, or a structured record with its own schema.
type Script struct {
	Command      Command        `yaml:"command,omitempty" json:"command,omitempty"`
	Description  string         `yaml:"description,omitempty" json:"description,omitempty"`
	InputSchema  map[string]any `yaml:"input_schema,omitempty" json:"input_schema,omitempty"`
	OutputSchema map[string]any `yaml:"output_schema,omitempty" json:"output_schema,omitempty"`
}

// UnmarshalYAML accepts either a bare command string/array or a full
// structured record.
func (s *Script) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode, yaml.SequenceNode:
		var cmd Command
		if err := node.Decode(&cmd); err != nil {
			return err
		}
		s.Command = cmd
		return nil
	case yaml.MappingNode:
		type plain Script
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*s = Script(p)
		return nil
	default:
		return fmt.Errorf("script: unsupported node kind %v", node.Kind)
	}
}

// Manifest is the parsed, validated form of a skill manifest document.
//
// Field tags use the canonical snake_case key names from spec §4.A, so YAML
// decoding reads the same keys that canonicalisation emits. Canonicalize
// encodes the decoded frontmatter map (fields), not this struct.
type Manifest struct {
	Name            string                `yaml:"name" json:"name"`
	Description     string                `yaml:"description,omitempty" json:"description,omitempty"`
	Command         Command               `yaml:"command,omitempty" json:"command,omitempty"`
	ProtocolVersion string                `yaml:"protocol_version,omitempty" json:"protocol_version,omitempty"`
	Version         string                `yaml:"version" json:"version"`
	Timeout         string                `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Tags            []string              `yaml:"tags,omitempty" json:"tags,omitempty"`
	InputSchema     map[string]any        `yaml:"input_schema,omitempty" json:"input_schema,omitempty"`
	OutputSchema    map[string]any        `yaml:"output_schema,omitempty" json:"output_schema,omitempty"`
	Annotations     map[string]string     `yaml:"annotations,omitempty" json:"annotations,omitempty"`
	EnvVars         map[string]EnvVarSpec `yaml:"env_vars,omitempty" json:"env_vars,omitempty"`
	Examples        []any                 `yaml:"examples,omitempty" json:"examples,omitempty"`
	Resources       map[string]any        `yaml:"resources,omitempty" json:"resources,omitempty"`
	Authors         []Author              `yaml:"authors,omitempty" json:"authors,omitempty"`
	Enact           map[string]any        `yaml:"enact,omitempty" json:"enact,omitempty"`

	From    string            `yaml:"from,omitempty" json:"from,omitempty"`
	Build   []string          `yaml:"build,omitempty" json:"build,omitempty"`
	Scripts map[string]Script `yaml:"scripts,omitempty" json:"scripts,omitempty"`
	License string            `yaml:"license,omitempty" json:"license,omitempty"`

	// Body is the free-form documentation text following the frontmatter
	// block (or the whole file, when no frontmatter delimiter is present).
	// Canonicalised under the "doc" key.
	Body string `yaml:"-" json:"-"`

	// Raw is the exact original bytes of the document, preserved for use
	// as attestation subject material when the signing policy binds to
	// the manifest rather than the bundle (spec §4.C).
	Raw []byte `yaml:"-" json:"-"`

	// fields holds the fully decoded frontmatter, including any keys not
	// modeled above, for use by Canonicalize.
	fields map[string]any
}

// Action is a named sub-command derived from a manifest's "scripts" entry,
// expanded to look like a standalone manifest for execution purposes
// (spec §3, §4.A).
type Action struct {
	Name         string
	Command      Command
	InputSchema  map[string]any
	OutputSchema map[string]any
	Description  string
}
