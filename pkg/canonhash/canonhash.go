// Package canonhash produces deterministic fingerprints of request
// payloads: objects are serialized with sorted keys and no extraneous
// whitespace, then hashed with sha256. Two payloads are "the same" for
// idempotency purposes iff their fingerprints match.
package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Canonicalize returns the canonical JSON encoding of v. The value is
// round-tripped through JSON first so struct inputs and map inputs with
// equal content canonicalize identically, and numbers keep their literal
// form instead of collapsing to float64.
func Canonicalize(v any) ([]byte, error) {
	enc, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(string(enc)))
	dec.UseNumber()
	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return nil, err
	}

	var b strings.Builder
	if err := writeCanonical(&b, normalized); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// SumHex returns the lowercase hex sha256 of the canonical encoding of v.
func SumHex(v any) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			ks, _ := json.Marshal(k)
			b.Write(ks)
			b.WriteByte(':')
			if err := writeCanonical(b, t[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil
	case []any:
		b.WriteByte('[')
		for i := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, t[i]); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	case json.Number:
		b.WriteString(t.String())
		return nil
	default:
		bb, err := json.Marshal(t)
		if err != nil {
			return err
		}
		b.Write(bb)
		return nil
	}
}
