package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Number is a float that survives the JSON encodings evaluation backends use
// for non-finite values: quoted "inf"/"-inf"/"Infinity"/"nan" strings as well
// as plain numbers. Bare Infinity/NaN tokens are rewritten to quoted strings
// by the decoder before unmarshalling.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f, err := parseNumberString(s)
		if err != nil {
			return err
		}
		*n = Number(f)
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", b)
	}
	*n = Number(f)
	return nil
}

// MarshalJSON implements json.Marshaler. Non-finite values are written as
// quoted strings since JSON has no literal for them.
func (n Number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-inf"`), nil
	case math.IsNaN(f):
		return []byte(`"nan"`), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func parseNumberString(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inf", "+inf", "infinity", "+infinity":
		return math.Inf(1), nil
	case "-inf", "-infinity":
		return math.Inf(-1), nil
	case "nan":
		return math.NaN(), nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return f, nil
}

// Scalar is a report value that may arrive as a string, number, or boolean.
// It keeps the textual form so the report renders exactly what was sent.
type Scalar string

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0:
		return errors.New("empty scalar")
	case bytes.Equal(b, []byte("null")):
		*s = ""
		return nil
	case b[0] == '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = Scalar(str)
		return nil
	case b[0] == '{' || b[0] == '[':
		return fmt.Errorf("scalar expected, got %s", b)
	}
	*s = Scalar(b)
	return nil
}

// MarshalJSON implements json.Marshaler. Values that are valid JSON numbers
// or booleans are written bare; everything else is quoted.
func (s Scalar) MarshalJSON() ([]byte, error) {
	str := string(s)
	if str == "true" || str == "false" {
		return []byte(str), nil
	}
	if _, err := strconv.ParseFloat(str, 64); err == nil && json.Valid([]byte(str)) {
		return []byte(str), nil
	}
	return json.Marshal(str)
}

// String returns the textual form.
func (s Scalar) String() string {
	return string(s)
}

var nonFiniteTokens = [][]byte{
	[]byte("-Infinity"),
	[]byte("Infinity"),
	[]byte("NaN"),
}

// quoteNonFinite rewrites the bare Infinity, -Infinity and NaN tokens that
// Python's json module emits into quoted strings, leaving string contents
// untouched.
func quoteNonFinite(raw []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(raw) + 8)

	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}
		if tok := matchToken(raw[i:]); tok != nil && tokenBoundary(raw, i, len(tok)) {
			out.WriteByte('"')
			out.Write(tok)
			out.WriteByte('"')
			i += len(tok) - 1
			continue
		}
		out.WriteByte(c)
	}
	return out.Bytes()
}

func matchToken(b []byte) []byte {
	for _, tok := range nonFiniteTokens {
		if bytes.HasPrefix(b, tok) {
			return tok
		}
	}
	return nil
}

func tokenBoundary(raw []byte, start, n int) bool {
	if start > 0 && isIdentByte(raw[start-1]) {
		return false
	}
	end := start + n
	return end >= len(raw) || !isIdentByte(raw[end])
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
