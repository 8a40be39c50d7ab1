// Package numeric converts ledger integers into JSON values that survive transport through
// decoders limited to IEEE-754 doubles.
package numeric

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
)

// MaxSafeInteger is the largest integer a double represents exactly (2^53 - 1).
const MaxSafeInteger = 1<<53 - 1

var (
	maxSafe = big.NewInt(MaxSafeInteger)
	minSafe = big.NewInt(-MaxSafeInteger)
)

// IsSafe reports whether v is inside the safe-integer range. A nil value counts as zero.
func IsSafe(v *big.Int) bool {
	if v == nil {
		return true
	}
	return v.Cmp(minSafe) >= 0 && v.Cmp(maxSafe) <= 0
}

// Int is an integer field with a small expected domain (ids, stages, counts, timestamps).
// It marshals as a plain JSON number while the value is safe and falls back to an exact
// decimal string otherwise, so no value is ever rounded.
type Int struct {
	v *big.Int
}

// NewInt copies v. A nil v is treated as zero.
func NewInt(v *big.Int) Int {
	if v == nil {
		return Int{v: new(big.Int)}
	}
	return Int{v: new(big.Int).Set(v)}
}

// IntFromUint64 wraps an unsigned 64-bit ledger value.
func IntFromUint64(u uint64) Int {
	return Int{v: new(big.Int).SetUint64(u)}
}

// IntFromInt64 wraps a signed value.
func IntFromInt64(i int64) Int {
	return Int{v: big.NewInt(i)}
}

// BigInt returns a copy of the underlying value.
func (i Int) BigInt() *big.Int {
	if i.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(i.v)
}

// Safe reports whether the value marshals as a JSON number.
func (i Int) Safe() bool { return IsSafe(i.v) }

func (i Int) String() string { return i.BigInt().String() }

// MarshalJSON implements json.Marshaler.
func (i Int) MarshalJSON() ([]byte, error) {
	s := i.String()
	if i.Safe() {
		return []byte(s), nil
	}
	return []byte(strconv.Quote(s)), nil
}

// UnmarshalJSON accepts both encodings produced by MarshalJSON.
func (i *Int) UnmarshalJSON(data []byte) error {
	v, err := parseJSONInteger(data)
	if err != nil {
		return err
	}
	i.v = v
	return nil
}

// Decimal is an integer field whose domain may exceed the safe range (block numbers, gas
// figures, wei prices). It always marshals as a decimal string.
type Decimal struct {
	v *big.Int
}

// NewDecimal copies v. A nil v is treated as zero.
func NewDecimal(v *big.Int) Decimal {
	if v == nil {
		return Decimal{v: new(big.Int)}
	}
	return Decimal{v: new(big.Int).Set(v)}
}

// DecimalFromUint64 wraps an unsigned 64-bit ledger value.
func DecimalFromUint64(u uint64) Decimal {
	return Decimal{v: new(big.Int).SetUint64(u)}
}

// BigInt returns a copy of the underlying value.
func (d Decimal) BigInt() *big.Int {
	if d.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(d.v)
}

func (d Decimal) String() string { return d.BigInt().String() }

// MarshalJSON implements json.Marshaler.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

// UnmarshalJSON accepts a decimal string or a JSON integer.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	v, err := parseJSONInteger(data)
	if err != nil {
		return err
	}
	d.v = v
	return nil
}

func parseJSONInteger(data []byte) (*big.Int, error) {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return new(big.Int), nil
	}
	text := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return nil, err
		}
	}
	v, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil, fmt.Errorf("numeric: %q is not a base-10 integer", text)
	}
	return v, nil
}
