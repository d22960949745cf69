// Package interp implements the two command-interpolation modes from spec
// §4.J: legacy string templates substituted into a shell command, and
// argv-array templates substituted as whole, never-split elements.
package interp

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/enactprotocol/enact/errcode"
)

var dollarTokenRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
var braceTokenRe = regexp.MustCompile(`^\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}$`)
var embeddedTokenRe = regexp.MustCompile(`\{\{\s*[A-Za-z_][A-Za-z0-9_]*\s*\}\}`)

// Input is the bound value for a single parameter.
type Input struct {
	Value    any
	Present  bool
	Required bool
}

// InterpolateString substitutes "${name}" tokens in command with the
// shell-quoted form of the corresponding input. Values are JSON-serialized
// first when not already strings. This mode is retained only for manifests
// that still use a bare string command; its safety depends entirely on the
// quoting performed here.
func InterpolateString(command string, inputs map[string]Input) (string, error) {
	var missing []string

	result := dollarTokenRe.ReplaceAllStringFunc(command, func(token string) string {
		name := dollarTokenRe.FindStringSubmatch(token)[1]
		in, ok := inputs[name]
		if !ok || !in.Present {
			if ok && in.Required {
				missing = append(missing, name)
			}
			return token
		}
		return shellQuote(stringify(in.Value))
	})

	if len(missing) > 0 {
		return "", errcode.Newf(errcode.MissingParam, "missing required parameters", map[string]any{"params": missing})
	}
	return result, nil
}

// InterpolateArgv substitutes "{{param}}" tokens in an argv slice. Each
// templated element is replaced as a single argv element -- never split,
// never shell-interpreted. A required parameter with no bound value raises
// MISSING_PARAM; an optional one without a value is omitted entirely from
// the result. A "{{param}}" reference embedded inside a larger element
// (rather than the whole element) is never substituted -- there is no
// value-never-split guarantee for a partial replacement -- and is rejected
// with SCHEMA_VIOLATION instead of being shipped into argv unexpanded.
func InterpolateArgv(argv []string, inputs map[string]Input) ([]string, error) {
	var out []string
	var missing []string

	for _, elem := range argv {
		m := braceTokenRe.FindStringSubmatch(elem)
		if m == nil {
			if embeddedTokenRe.MatchString(elem) {
				return nil, errcode.Newf(errcode.SchemaViolation,
					"template reference must be a whole argv element, not embedded in a larger string",
					map[string]any{"element": elem})
			}
			out = append(out, elem)
			continue
		}
		name := m[1]
		in, ok := inputs[name]
		if !ok || !in.Present {
			if ok && in.Required {
				missing = append(missing, name)
			}
			continue
		}
		out = append(out, stringify(in.Value))
	}

	if len(missing) > 0 {
		return nil, errcode.Newf(errcode.MissingParam, "missing required parameters", map[string]any{"params": missing})
	}
	return out, nil
}

// stringify renders v as its substitution text: strings pass through
// unchanged, everything else is JSON-serialized.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	out, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(out)
}

// shellQuote wraps s in single quotes, escaping embedded single quotes per
// the POSIX shell convention ' -> '\''.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
