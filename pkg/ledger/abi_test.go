package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseABI(t *testing.T) {
	parsed, err := ParseABI()
	require.NoError(t, err)

	for _, name := range []string{MethodCreateBatch, MethodUpdateStage, MethodUpdateInventory, MethodDistributeBatch, MethodGetBatch, MethodBatchCount} {
		_, ok := parsed.Methods[name]
		assert.True(t, ok, "missing method %s", name)
	}

	getBatch := parsed.Methods[MethodGetBatch]
	assert.True(t, getBatch.IsConstant())
	require.Len(t, getBatch.Outputs, 6)
	assert.Equal(t, "stage", getBatch.Outputs[2].Name)
	assert.Equal(t, "uint8", getBatch.Outputs[2].Type.String())

	assert.False(t, parsed.Methods[MethodDistributeBatch].IsConstant())
	assert.Len(t, parsed.Events, 4)
}

func TestBackoffCapsAtMax(t *testing.T) {
	b := backoff{base: 100, max: 1000}
	assert.EqualValues(t, 100, b.delay(0))
	assert.EqualValues(t, 400, b.delay(2))
	assert.EqualValues(t, 1000, b.delay(5))
	assert.EqualValues(t, 1000, b.delay(64))
}
