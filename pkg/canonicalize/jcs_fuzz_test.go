package canonicalize

import (
	"bytes"
	"encoding/json"
	"testing"
)

func FuzzJCS(f *testing.F) {
	f.Add([]byte(`{"a":1,"b":2}`))
	f.Add([]byte(`{"z":{"y":"foo","x":"bar"},"a":1}`))
	f.Add([]byte(`{"class":"com/example/Target","fields":["plugin","mixin","before"]}`))
	f.Add([]byte(`{"num":123.456,"bool":true,"null":null}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"unicode":"こんにちは","emoji":"🚀"}`))
	f.Add([]byte(`{"escape":"line1\nline2\ttab"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			t.Skip("invalid JSON input")
			return
		}

		b1, err := JCS(v)
		if err != nil {
			return
		}

		b2, err := JCS(v)
		if err != nil {
			t.Fatal("JCS returned error on second call but not first")
		}
		if !bytes.Equal(b1, b2) {
			t.Fatalf("JCS not deterministic: %s vs %s", b1, b2)
		}

		// Canonical output must round trip through another transform unchanged
		var v2 interface{}
		if err := json.Unmarshal(b1, &v2); err != nil {
			t.Fatalf("canonical output is not valid JSON: %v", err)
		}
		b3, err := JCS(v2)
		if err != nil {
			t.Fatalf("re-canonicalization failed: %v", err)
		}
		if !bytes.Equal(b1, b3) {
			t.Fatalf("JCS not idempotent: %s vs %s", b1, b3)
		}
	})
}
