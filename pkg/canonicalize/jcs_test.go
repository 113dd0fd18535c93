package canonicalize

import "testing"

func TestJCS_Sorting(t *testing.T) {
	input := map[string]interface{}{
		"plugin": "mixin",
		"class":  "com.example.Target",
		"level":  "compute-frames",
	}

	expected := `{"class":"com.example.Target","level":"compute-frames","plugin":"mixin"}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	input := map[string]string{
		"generic": "Map<String, List<Entry>> & friends",
	}

	expected := `{"generic":"Map<String, List<Entry>> & friends"}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_StructTags(t *testing.T) {
	type entry struct {
		Class  string   `json:"class"`
		Fields []string `json:"fields,omitempty"`
	}

	b, err := JCS(entry{Class: "com.example.Foo"})
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != `{"class":"com.example.Foo"}` {
		t.Errorf("unexpected canonical form: %s", string(b))
	}
}

func TestCanonicalHash_Deterministic(t *testing.T) {
	v := map[string]interface{}{"b": 2, "a": 1}

	h1, err := CanonicalHash(v)
	if err != nil {
		t.Fatalf("CanonicalHash failed: %v", err)
	}
	h2, err := CanonicalHash(map[string]interface{}{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("CanonicalHash failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash not stable across key order: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected sha256 hex digest, got %q", h1)
	}
}

func TestNormalizeClassName(t *testing.T) {
	// U+00E9 vs e + U+0301 spell the same identifier
	composed := "com.example.Café"
	decomposed := "com.example.Café"

	if NormalizeClassName(composed) != NormalizeClassName(decomposed) {
		t.Errorf("NFC forms differ: %q vs %q",
			NormalizeClassName(composed), NormalizeClassName(decomposed))
	}

	plain := "com.example.Target"
	if NormalizeClassName(plain) != plain {
		t.Errorf("ASCII name must pass through unchanged")
	}
}
