package metadata

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAny(t *testing.T) {
	t.Run("Scalars", func(t *testing.T) {
		tests := []struct {
			name     string
			input    any
			expected Value
		}{
			{"nil", nil, Null()},
			{"Value", Int(1), Int(1)},
			{"bool", true, Bool(true)},
			{"string", "hello", String("hello")},
			{"float64 fractional", 3.14, Float(3.14)},
			{"float64 integral", 42.0, Int(42)},
			{"float32", float32(1.5), Float(1.5)},
			{"int", int(1), Int(1)},
			{"int64", int64(-7), Int(-7)},
			{"uint32", uint32(math.MaxUint32), Int(int64(math.MaxUint32))},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				v, err := FromAny(tc.input)
				require.NoError(t, err)
				assert.Equal(t, tc.expected.Key(), v.Key())
			})
		}
	})

	t.Run("Uint64 Range", func(t *testing.T) {
		_, err := FromAny(uint64(math.MaxUint64))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of range")
	})

	t.Run("Slices", func(t *testing.T) {
		v, err := FromAny([]any{"a", 1.0, true})
		require.NoError(t, err)
		assert.Equal(t, KindArray, v.Kind)
		assert.Len(t, v.A, 3)

		v, err = FromAny([]string{"x", "y"})
		require.NoError(t, err)
		assert.Equal(t, "a:s:x\x1fs:y", v.Key())
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := FromAny(struct{}{})
		assert.Error(t, err)
	})
}

func TestDocumentFromAny(t *testing.T) {
	doc, err := DocumentFromAny(map[string]any{"name": "x", "n": 2.0})
	require.NoError(t, err)
	assert.Equal(t, "x", doc["name"].StringValue())
	assert.Equal(t, int64(2), doc["n"].I64)

	back := DocumentToAny(doc)
	assert.Equal(t, map[string]any{"name": "x", "n": int64(2)}, back)

	_, err = DocumentFromAny(map[string]any{"bad": make(chan int)})
	assert.ErrorContains(t, err, `attribute "bad"`)
}
