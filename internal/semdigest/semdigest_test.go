package semdigest

import (
	"strings"
	"testing"
)

func TestDigestIsOrderInsensitiveForObjectKeys(t *testing.T) {
	a, err := Digest(PrefixSemantic, map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Digest(PrefixSemantic, map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("digests differ across key order: %q vs %q", a, b)
	}
}

func TestDigestIsOrderInsensitiveForArrays(t *testing.T) {
	a, err := Digest(PrefixSemantic, []any{"x", "y", "z"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Digest(PrefixSemantic, []any{"z", "x", "y"})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("digests differ across array element order: %q vs %q", a, b)
	}
}

func TestDigestDistinguishesDifferentValues(t *testing.T) {
	a, err := Digest(PrefixSemantic, map[string]any{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Digest(PrefixSemantic, map[string]any{"a": 2})
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("expected distinct values to digest differently")
	}
}

func TestDigestAppliesPrefix(t *testing.T) {
	d, err := Digest(PrefixContract, map[string]any{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(d, string(PrefixContract)) {
		t.Errorf("digest %q does not start with prefix %q", d, PrefixContract)
	}
}

func TestMustDigestPanicsOnUnmarshalableValue(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected MustDigest to panic on an unmarshalable value")
		}
	}()
	MustDigest(PrefixSemantic, make(chan int))
}

func TestDigestStringsIsOrderSensitive(t *testing.T) {
	a := DigestStrings(PrefixTransport, "issue.add", "claim")
	b := DigestStrings(PrefixTransport, "claim", "issue.add")
	if a == b {
		t.Error("expected DigestStrings to be sensitive to argument order")
	}
}

func TestDigestStringsDeterministic(t *testing.T) {
	a := DigestStrings(PrefixTransport, "x", "y", "z")
	b := DigestStrings(PrefixTransport, "x", "y", "z")
	if a != b {
		t.Errorf("expected identical inputs to digest identically, got %q vs %q", a, b)
	}
}

func TestDigestStringsSeparatesConcatenationAmbiguity(t *testing.T) {
	a := DigestStrings(PrefixTransport, "ab", "c")
	b := DigestStrings(PrefixTransport, "a", "bc")
	if a == b {
		t.Error("expected NUL-separated joins to distinguish \"ab\",\"c\" from \"a\",\"bc\"")
	}
}
