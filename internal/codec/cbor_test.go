package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministic(t *testing.T) {
	t.Parallel()

	v := map[interface{}]interface{}{"value": 100, uint(1): "x", "channel_id": 1}
	b1, err := Marshal(v)
	require.NoError(t, err)
	for i := 0; i < 16; i++ {
		b2, err := Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, b1, b2)
	}
	d, err := Diagnose(b1)
	require.NoError(t, err)
	assert.Equal(t, `{1: "x", "value": 100, "channel_id": 1}`, d)

	var m map[interface{}]interface{}
	require.NoError(t, Unmarshal(b1, &m))
	assert.Equal(t, uint64(100), m["value"])
	assert.Equal(t, "x", m[uint64(1)])
}
