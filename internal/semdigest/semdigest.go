// Package semdigest implements the canonicalized, order-insensitive JSON
// content digest used across the store's snapshot ref, the coherence
// checker's obligation witnesses, and the transport kernel's dispatch
// digests.
//
// Canonicalization recursively sorts object keys and hashes array
// elements by their own digest rather than position, so that
// semantically-equal-but-differently-ordered JSON values collapse to the
// same digest.
package semdigest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Prefix identifies which family of semantic digest a hash belongs to:
// "sem1_" for arbitrary witnesses, "sqw1_"/"sqlw1_" for square/law
// witnesses, "cohctr1_" for the coherence contract digest, "ts1_" for
// transport semantic digests.
type Prefix string

const (
	PrefixSemantic  Prefix = "sem1_"
	PrefixSquare    Prefix = "sqw1_"
	PrefixLaw       Prefix = "sqlw1_"
	PrefixContract  Prefix = "cohctr1_"
	PrefixTransport Prefix = "ts1_"
)

// Digest canonicalizes v (any JSON-marshalable value) and returns
// prefix+hex(sha256(canonical bytes)).
func Digest(prefix Prefix, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("semdigest: marshal: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("semdigest: unmarshal: %w", err)
	}
	canonical := canonicalize(decoded)
	sum := sha256.Sum256([]byte(canonical))
	return string(prefix) + hex.EncodeToString(sum[:]), nil
}

// MustDigest panics on marshal failure; used where v is a struct literal
// known to be JSON-marshalable (tests, constant tables).
func MustDigest(prefix Prefix, v any) string {
	d, err := Digest(prefix, v)
	if err != nil {
		panic(err)
	}
	return d
}

// DigestStrings digests an ordered sequence of strings by joining them
// with a NUL separator: used for the transport dispatch digest and
// action-row digests, where argument order is itself part of the
// meaning and must not be canonicalized away.
func DigestStrings(prefix Prefix, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return string(prefix) + hex.EncodeToString(h.Sum(nil))
}

// canonicalize produces a deterministic string encoding of v: object keys
// sorted lexically, array elements digested by content then emitted in
// digest-sorted order so permutations of an array collapse to one
// encoding.
func canonicalize(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			out += quote(k) + ":" + canonicalize(val[k])
		}
		return out + "}"
	case []any:
		elems := make([]string, 0, len(val))
		for _, e := range val {
			elems = append(elems, canonicalize(e))
		}
		sort.Strings(elems)
		out := "["
		for i, e := range elems {
			if i > 0 {
				out += ","
			}
			out += e
		}
		return out + "]"
	case string:
		return quote(val)
	case nil:
		return "null"
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		// numbers decoded by encoding/json as float64
		raw, _ := json.Marshal(val)
		return string(raw)
	}
}

func quote(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}
