package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalKeyOrder is the fixed key prefix from spec §4.A. It is a
// package-level variable rather than an inlined literal so a future
// manifest revision can append new keys without disturbing the order of
// existing ones -- and therefore without invalidating signatures already
// recorded against manifests that never used the new keys (spec §9).
var canonicalKeyOrder = []string{
	"name", "description", "command", "protocol_version", "version",
	"timeout", "tags", "input_schema", "output_schema", "annotations",
	"env_vars", "examples", "resources", "doc", "authors", "enact",
}

// Canonicalize produces the deterministic canonical byte form of a
// manifest: the fixed key prefix in order, then any remaining keys
// lexicographically, with object keys sorted recursively at every level.
// "signatures" is stripped before canonicalisation, since it is never part
// of the signed content.
func Canonicalize(m *Manifest) ([]byte, error) {
	fields := cloneFields(m.fields)
	delete(fields, "signatures")
	if m.Body != "" {
		fields["doc"] = m.Body
	}

	var buf bytes.Buffer
	buf.WriteByte('{')

	written := 0
	emit := func(key string) error {
		val, ok := fields[key]
		if !ok {
			return nil
		}
		if written > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		if err := encodeCanonicalValue(&buf, val); err != nil {
			return err
		}
		written++
		return nil
	}

	seen := make(map[string]bool, len(canonicalKeyOrder))
	for _, key := range canonicalKeyOrder {
		seen[key] = true
		if err := emit(key); err != nil {
			return nil, err
		}
	}

	var rest []string
	for key := range fields {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		if err := emit(key); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// CanonicalHash returns the hex-encoded SHA-256 digest of the canonical
// byte form -- the signing input described in spec §4.A and §4.C.
func CanonicalHash(m *Manifest) (string, error) {
	canonical, err := Canonicalize(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// encodeCanonicalValue writes v as JSON, sorting object keys recursively at
// every level so the byte form is identical across independent
// implementations regardless of source map iteration order.
func encodeCanonicalValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kJSON)
			buf.WriteByte(':')
			if err := encodeCanonicalValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case map[string]string:
		m := make(map[string]any, len(val))
		for k, v := range val {
			m[k] = v
		}
		return encodeCanonicalValue(buf, m)

	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonicalValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	case []string:
		elems := make([]any, len(val))
		for i, e := range val {
			elems[i] = e
		}
		return encodeCanonicalValue(buf, elems)

	default:
		out, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("encoding canonical value: %w", err)
		}
		buf.Write(out)
		return nil
	}
}

// cloneFields makes a shallow copy of the decoded frontmatter map so
// Canonicalize never mutates the Manifest it was given.
func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
