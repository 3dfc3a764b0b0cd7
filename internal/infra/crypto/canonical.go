package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// CanonicalizeJSON re-encodes a JSON document canonically: object keys sorted
// by code point at every level, no whitespace, ES6 number rendering.
func CanonicalizeJSON(input []byte) ([]byte, error) {
	tree, err := parseDocument(input)
	if err != nil {
		return nil, err
	}
	return encodeCanonical(tree)
}

// CanonicalizeAny canonicalizes a value tree. Values outside the generic
// JSON shapes are passed through encoding/json first.
func CanonicalizeAny(v any) ([]byte, error) {
	switch raw := v.(type) {
	case json.RawMessage:
		return CanonicalizeJSON(raw)
	case []byte:
		return CanonicalizeJSON(raw)
	}
	return encodeCanonical(v)
}

func encodeCanonical(v any) ([]byte, error) {
	var enc canonicalEncoder
	if err := enc.value(v); err != nil {
		return nil, err
	}
	return enc.out, nil
}

// parseDocument decodes exactly one JSON value, keeping numbers as
// json.Number so no precision is lost before formatting.
func parseDocument(input []byte) (any, error) {
	// encoding/json would silently replace invalid bytes.
	if !utf8.Valid(input) {
		return nil, errInvalidUTF8
	}
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid JSON: trailing data")
	}
	return tree, nil
}

var errInvalidUTF8 = errors.New("invalid JSON: string is not valid UTF-8")

type canonicalEncoder struct {
	out []byte
}

func (e *canonicalEncoder) value(v any) error {
	switch x := v.(type) {
	case nil:
		e.out = append(e.out, "null"...)
	case bool:
		e.out = strconv.AppendBool(e.out, x)
	case string:
		return e.str(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return fmt.Errorf("invalid JSON number %q: %w", x.String(), err)
		}
		return e.number(f)
	case float64:
		return e.number(x)
	case map[string]any:
		return e.object(x)
	case []any:
		return e.array(x)
	default:
		if f, ok := plainNumber(v); ok {
			return e.number(f)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("unsupported value %T: %w", v, err)
		}
		tree, err := parseDocument(raw)
		if err != nil {
			return err
		}
		return e.value(tree)
	}
	return nil
}

func (e *canonicalEncoder) object(obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	// UTF-8 byte order is code point order.
	slices.Sort(keys)
	e.out = append(e.out, '{')
	for i, k := range keys {
		if i > 0 {
			e.out = append(e.out, ',')
		}
		if err := e.str(k); err != nil {
			return err
		}
		e.out = append(e.out, ':')
		if err := e.value(obj[k]); err != nil {
			return err
		}
	}
	e.out = append(e.out, '}')
	return nil
}

func (e *canonicalEncoder) array(items []any) error {
	e.out = append(e.out, '[')
	for i := range items {
		if i > 0 {
			e.out = append(e.out, ',')
		}
		if err := e.value(items[i]); err != nil {
			return err
		}
	}
	e.out = append(e.out, ']')
	return nil
}

var shortEscapes = map[rune]string{
	'\b': `\b`,
	'\f': `\f`,
	'\n': `\n`,
	'\r': `\r`,
	'\t': `\t`,
}

// str rejects invalid UTF-8 instead of substituting U+FFFD.
func (e *canonicalEncoder) str(s string) error {
	if !utf8.ValidString(s) {
		return errInvalidUTF8
	}
	e.out = append(e.out, '"')
	for _, r := range s {
		switch {
		case r == '"' || r == '\\':
			e.out = append(e.out, '\\', byte(r))
		case r >= 0x20:
			e.out = utf8.AppendRune(e.out, r)
		default:
			if esc, ok := shortEscapes[r]; ok {
				e.out = append(e.out, esc...)
			} else {
				e.out = fmt.Appendf(e.out, `\u%04x`, r)
			}
		}
	}
	e.out = append(e.out, '"')
	return nil
}

func (e *canonicalEncoder) number(f float64) error {
	s, err := formatNumber(f)
	if err != nil {
		return err
	}
	e.out = append(e.out, s...)
	return nil
}

// plainNumber converts Go integer and float32 values that carry no custom
// JSON encoding.
func plainNumber(v any) (float64, bool) {
	if _, custom := v.(json.Marshaler); custom {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32:
		return rv.Float(), true
	}
	return 0, false
}

// formatNumber renders f like ECMAScript Number.prototype.toString: the
// shortest round-trip digits, switching to exponent form when the decimal
// point would sit more than 21 places right or 6 places left of them.
func formatNumber(f float64) (string, error) {
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		return "", errors.New("invalid JSON number: NaN and Inf have no JSON form")
	case f == 0:
		return "0", nil
	}

	var b strings.Builder
	if f < 0 {
		b.WriteByte('-')
		f = -f
	}
	digits, exp := shortestDigits(f)
	point := exp + 1

	switch {
	case point > 21 || point <= -6:
		b.WriteString(digits[:1])
		if len(digits) > 1 {
			b.WriteByte('.')
			b.WriteString(digits[1:])
		}
		b.WriteByte('e')
		if exp > 0 {
			b.WriteByte('+')
		}
		b.WriteString(strconv.Itoa(exp))
	case point >= len(digits):
		b.WriteString(digits)
		b.WriteString(strings.Repeat("0", point-len(digits)))
	case point > 0:
		b.WriteString(digits[:point])
		b.WriteByte('.')
		b.WriteString(digits[point:])
	default:
		b.WriteString("0.")
		b.WriteString(strings.Repeat("0", -point))
		b.WriteString(digits)
	}
	return b.String(), nil
}

// shortestDigits splits f into its significant decimal digits and the
// exponent of the first one.
func shortestDigits(f float64) (string, int) {
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, expPart, _ := strings.Cut(s, "e")
	exp, _ := strconv.Atoi(expPart)
	return strings.Replace(mantissa, ".", "", 1), exp
}
