package ap2

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf16"

	"github.com/gowebpki/jcs"
)

// Canonicalize renders v deterministically: object keys are sorted and
// emitted as JSON strings, list order is kept, and scalars use their JSON
// literal with ECMAScript number formatting. Two values holding the same
// keys and values always produce the same string.
func Canonicalize(v Value) (string, error) {
	var b strings.Builder
	if err := writeCanonical(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

// HashState returns the lowercase hex SHA-256 of the canonical form of v.
func HashState(v Value) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

func writeCanonical(b *strings.Builder, v Value) error {
	switch v.kind {
	case KindNull:
		b.WriteString("null")
	case KindBool:
		if v.b {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return fmt.Errorf("ap2: cannot canonicalize non-finite number %v", v.n)
		}
		lit, err := scalarLiteral(v.n)
		if err != nil {
			return err
		}
		b.WriteString(lit)
	case KindString:
		lit, err := scalarLiteral(v.s)
		if err != nil {
			return err
		}
		b.WriteString(lit)
	case KindList:
		b.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case KindObject:
		keys := make([]string, 0, len(v.fields))
		for k := range v.fields {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, compareUTF16)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			lit, err := scalarLiteral(k)
			if err != nil {
				return err
			}
			b.WriteString(lit)
			b.WriteByte(':')
			if err := writeCanonical(b, v.fields[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("ap2: cannot canonicalize %s value", v.kind)
	}
	return nil
}

// scalarLiteral renders a string or number through JCS. JCS only accepts
// structured documents, so the scalar travels inside a one-element array.
func scalarLiteral(x any) (string, error) {
	raw, err := json.Marshal([]any{x})
	if err != nil {
		return "", fmt.Errorf("ap2: encode scalar: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("ap2: canonicalize scalar: %w", err)
	}
	return string(out[1 : len(out)-1]), nil
}

// compareUTF16 orders keys by UTF-16 code units, matching the key order
// JavaScript and JCS implementations produce.
func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	return slices.Compare(ua, ub)
}
