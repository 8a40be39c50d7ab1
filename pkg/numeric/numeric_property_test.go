package numeric

import (
	"encoding/json"
	"math/big"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: safe values decode back to the identical number through a float64 decoder,
// unsafe values come out as the exact decimal string.
func TestIntTransportIsLossless(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("uint64 values survive a float64 JSON decoder", prop.ForAll(
		func(u uint64) bool {
			data, err := json.Marshal(IntFromUint64(u))
			if err != nil {
				return false
			}
			var decoded any
			if err := json.Unmarshal(data, &decoded); err != nil {
				return false
			}
			if u <= MaxSafeInteger {
				f, ok := decoded.(float64)
				return ok && uint64(f) == u
			}
			s, ok := decoded.(string)
			return ok && s == strconv.FormatUint(u, 10)
		},
		gen.UInt64(),
	))

	properties.Property("safe range values stay numbers", prop.ForAll(
		func(i int64) bool {
			data, err := json.Marshal(IntFromInt64(i))
			if err != nil {
				return false
			}
			return string(data) == strconv.FormatInt(i, 10)
		},
		gen.Int64Range(-MaxSafeInteger, MaxSafeInteger),
	))

	properties.Property("decimals always carry the exact value as a string", prop.ForAll(
		func(u uint64) bool {
			data, err := json.Marshal(DecimalFromUint64(u))
			if err != nil {
				return false
			}
			var s string
			if err := json.Unmarshal(data, &s); err != nil {
				return false
			}
			v, ok := new(big.Int).SetString(s, 10)
			return ok && v.IsUint64() && v.Uint64() == u
		},
		gen.UInt64(),
	))

	properties.TestingRun(t)
}
