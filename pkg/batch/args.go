package batch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Arg is one unvalidated input as the transport received it, in JSON text form: a body field's
// raw value, or a path segment wrapped by Segment. The zero Arg means the input was absent.
type Arg string

// Segment wraps a URL path segment as a JSON string token.
func Segment(s string) Arg {
	b, _ := json.Marshal(s)
	return Arg(b)
}

// Raw keeps a body field's raw JSON value.
func Raw(m json.RawMessage) Arg { return Arg(m) }

// Int builds a numeric Arg, mostly for callers that already hold typed values.
func Int(n int64) Arg { return Arg(strconv.FormatInt(n, 10)) }

type tokenKind int

const (
	tokenAbsent tokenKind = iota
	tokenNumber
	tokenString
	tokenOther
)

// numberText matches decimal numbers, including the forms JSON allows and leading zeros or
// a plus sign inside strings.
var numberText = regexp.MustCompile(`^[+-]?\d+(\.\d+)?([eE][+-]?\d+)?$`)

// maxExponent bounds scientific notation; 1e100 is already past uint256.
const maxExponent = 100

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// token classifies the raw value and returns its text: the literal for numbers, the decoded
// value for strings.
func (a Arg) token() (tokenKind, string) {
	raw := bytes.TrimSpace([]byte(a))
	if len(raw) == 0 || string(raw) == "null" {
		return tokenAbsent, ""
	}
	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return tokenOther, string(raw)
		}
		return tokenString, s
	case c == '-' || (c >= '0' && c <= '9'):
		if !json.Valid(raw) {
			return tokenOther, string(raw)
		}
		return tokenNumber, string(raw)
	default:
		return tokenOther, string(raw)
	}
}

// display renders the argument for error messages.
func (a Arg) display() string {
	kind, text := a.token()
	switch kind {
	case tokenAbsent:
		return "missing value"
	case tokenString:
		return fmt.Sprintf("%q", text)
	default:
		return text
	}
}

var (
	errNotNumeric = errors.New("not numeric")
	errNotWhole   = errors.New("not a whole number")
	errOutOfRange = errors.New("out of range")
)

// integer converts numeric text to an exact integer. It fails with errNotNumeric,
// errNotWhole for fractions, or errOutOfRange when the magnitude is past uint256.
func integer(text string) (*big.Int, error) {
	text = strings.TrimSpace(text)
	if !numberText.MatchString(text) {
		return nil, errNotNumeric
	}
	if i := strings.IndexAny(text, "eE"); i >= 0 {
		mantissa, expText := text[:i], text[i+1:]
		exp, err := strconv.Atoi(expText)
		if err != nil || exp > maxExponent || exp < -maxExponent {
			m, _ := new(big.Rat).SetString(mantissa)
			switch {
			case m.Sign() == 0:
				return new(big.Int), nil
			case strings.HasPrefix(expText, "-"):
				return nil, errNotWhole
			default:
				return nil, errOutOfRange
			}
		}
	}
	r, ok := new(big.Rat).SetString(text)
	if !ok {
		return nil, errNotNumeric
	}
	if !r.IsInt() {
		return nil, errNotWhole
	}
	v := new(big.Int).Set(r.Num())
	if new(big.Int).Abs(v).Cmp(maxUint256) > 0 {
		return nil, errOutOfRange
	}
	return v, nil
}

// parseID accepts a positive integer given as a number or a numeric string.
func parseID(op string, a Arg) (*big.Int, error) {
	kind, text := a.token()
	if kind == tokenAbsent {
		return nil, invalidArgument(op, "batch id is required")
	}
	if kind != tokenNumber && kind != tokenString {
		return nil, invalidArgument(op, "batch id %s is not a positive integer", a.display())
	}
	id, err := integer(text)
	if errors.Is(err, errOutOfRange) {
		return nil, invalidArgument(op, "batch id %s is out of range", a.display())
	}
	if err != nil || id.Sign() <= 0 {
		return nil, invalidArgument(op, "batch id %s is not a positive integer", a.display())
	}
	return id, nil
}

// parseStage accepts a number or numeric string that the ledger's uint8 parameter can carry.
// Values past Distributed are left for the ledger to reject.
func parseStage(op string, a Arg) (uint8, error) {
	kind, text := a.token()
	if kind == tokenAbsent {
		return 0, invalidArgument(op, "stage is required")
	}
	if kind != tokenNumber && kind != tokenString {
		return 0, invalidArgument(op, "stage %s is not numeric", a.display())
	}
	v, err := integer(text)
	switch {
	case errors.Is(err, errOutOfRange):
		return 0, invalidArgument(op, "stage %s is out of range 0-255", a.display())
	case errors.Is(err, errNotWhole):
		return 0, invalidArgument(op, "stage %s is not a whole number", a.display())
	case err != nil:
		return 0, invalidArgument(op, "stage %s is not numeric", a.display())
	}
	if v.Sign() < 0 || !v.IsUint64() || v.Uint64() > 255 {
		return 0, invalidArgument(op, "stage %s is out of range 0-255", v)
	}
	return uint8(v.Uint64()), nil
}

// parseInventory accepts only a JSON number holding a non-negative integer.
func parseInventory(op string, a Arg) (*big.Int, error) {
	kind, text := a.token()
	if kind == tokenAbsent {
		return nil, invalidArgument(op, "inventory is required")
	}
	if kind != tokenNumber {
		return nil, invalidArgument(op, "inventory %s is not a number", a.display())
	}
	v, err := integer(text)
	switch {
	case errors.Is(err, errOutOfRange):
		return nil, invalidArgument(op, "inventory %s is out of range", text)
	case err != nil:
		return nil, invalidArgument(op, "inventory %s is not a whole number", text)
	case v.Sign() < 0:
		return nil, invalidArgument(op, "inventory %s must not be negative", text)
	}
	return v, nil
}

// parseName accepts a non-blank string, trimmed and NFC-normalized.
func parseName(op, field string, a Arg) (string, error) {
	kind, text := a.token()
	switch kind {
	case tokenAbsent:
		return "", invalidArgument(op, "%s is required", field)
	case tokenString:
	default:
		return "", invalidArgument(op, "%s must be a string", field)
	}
	name := norm.NFC.String(strings.TrimSpace(text))
	if name == "" {
		return "", invalidArgument(op, "%s must not be blank", field)
	}
	return name, nil
}
