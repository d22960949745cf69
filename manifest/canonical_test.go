package manifest

import (
	"encoding/json"
	"testing"
)

func TestCanonicalize_KeyOrderAndSortedNested(t *testing.T) {
	data := doc(
		"version: 1.0.0\n"+
			"name: test/tool\n"+
			"tags: [b, a]\n"+
			"annotations:\n  zeta: 1\n  alpha: 2\n"+
			"description: hi\n",
		"docs here\n",
	)
	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	canonical, err := Canonicalize(m)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(canonical, &generic); err != nil {
		t.Fatalf("canonical form is not valid JSON: %v", err)
	}

	// Key order in the raw bytes must follow the fixed prefix.
	s := string(canonical)
	nameIdx := indexOf(s, `"name"`)
	descIdx := indexOf(s, `"description"`)
	versionIdx := indexOf(s, `"version"`)
	docIdx := indexOf(s, `"doc"`)
	if !(nameIdx < descIdx && descIdx < versionIdx && versionIdx < docIdx) {
		t.Fatalf("canonical key order violated: %s", s)
	}

	annIdx := indexOf(s, `"annotations"`)
	alphaIdx := indexOf(s, `"alpha"`)
	zetaIdx := indexOf(s, `"zeta"`)
	if annIdx < 0 || alphaIdx < annIdx || zetaIdx < alphaIdx {
		t.Fatalf("nested keys not sorted: %s", s)
	}
}

func TestCanonicalize_StripsSignatures(t *testing.T) {
	data := doc("name: test/tool\nversion: 1.0.0\nsignatures:\n  - sig1\n", "")
	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	canonical, err := Canonicalize(m)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if indexOf(string(canonical), "signatures") >= 0 {
		t.Fatalf("signatures should be stripped: %s", canonical)
	}
}

func TestCanonicalize_Deterministic(t *testing.T) {
	data := doc("name: test/tool\nversion: 1.0.0\ntags: [x, y, z]\n", "body\n")
	m1, _ := Parse(data)
	m2, _ := Parse(data)

	c1, err := Canonicalize(m1)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := Canonicalize(m2)
	if err != nil {
		t.Fatal(err)
	}
	if string(c1) != string(c2) {
		t.Fatalf("canonical form not deterministic:\n%s\nvs\n%s", c1, c2)
	}
}

func TestCanonicalHash_RoundTrip(t *testing.T) {
	data := doc("name: test/tool\nversion: 1.0.0\n", "doc body\n")
	m, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	h1, err := CanonicalHash(m)
	if err != nil {
		t.Fatal(err)
	}

	// canonicalise(parse(serialize(M))) == canonicalise(M): re-parsing the
	// manifest's own raw bytes must reproduce the same hash.
	m2, err := Parse(m.Raw)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := CanonicalHash(m2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hash mismatch across reparse: %s vs %s", h1, h2)
	}
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
