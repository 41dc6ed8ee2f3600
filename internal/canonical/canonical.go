// Package canonical produces deterministic, redacted JSON for hashing.
// Semantically identical payloads hash identically regardless of field
// order or the value of any redacted field.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// Field names whose values never participate in a hash.
var defaultRedactFields = map[string]struct{}{
	"apiKey":     {},
	"token":      {},
	"password":   {},
	"secret":     {},
	"privateKey": {},
}

// Marshal returns the canonical JSON encoding of v: map keys sorted,
// redacted fields replaced, no insignificant whitespace.
func Marshal(v any) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	if err := writeValue(&sb, norm); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

// Hash returns the sha256 of the canonical encoding, hex with 0x prefix.
// A plain string hashes as its raw bytes so pre-canonicalized inputs can
// be re-hashed without double encoding.
func Hash(v any) (string, error) {
	var input []byte
	if s, ok := v.(string); ok {
		input = []byte(s)
	} else {
		b, err := Marshal(v)
		if err != nil {
			return "", err
		}
		input = b
	}
	sum := sha256.Sum256(input)
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// MustHash is Hash for values that are known to be JSON-encodable.
func MustHash(v any) string {
	h, err := Hash(v)
	if err != nil {
		panic(fmt.Sprintf("canonical: hash: %v", err))
	}
	return h
}

// HashString returns the bare-hex sha256 of a raw string.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// normalize round-trips v through encoding/json so structs, maps and
// slices all collapse to the same generic shape, then applies redaction.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return redact(generic), nil
}

func redact(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if _, sensitive := defaultRedactFields[k]; sensitive {
				out[k] = redactedPlaceholder
				continue
			}
			out[k] = redact(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redact(item)
		}
		return out
	default:
		return v
	}
}

func writeValue(sb *strings.Builder, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(keyJSON)
			sb.WriteByte(':')
			if err := writeValue(sb, val[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
		return nil
	case []any:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeValue(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
		return nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return err
		}
		sb.Write(raw)
		return nil
	}
}
