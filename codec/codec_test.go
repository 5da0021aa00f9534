package codec

import (
	"testing"

	"github.com/hupe1980/gridcache/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type page struct {
	ID    uint64            `json:"id"`
	Attrs metadata.Document `json:"attrs"`
}

func TestCodecsAreInterchangeable(t *testing.T) {
	in := page{ID: 42, Attrs: metadata.Document{
		"name":  metadata.String("Main Street"),
		"lanes": metadata.Int(2),
	}}

	for _, name := range []string{"json", "go-json"} {
		enc, ok := ByName(name)
		require.True(t, ok)
		data := MustMarshal(enc, in)

		for _, decName := range []string{"json", "go-json"} {
			dec, _ := ByName(decName)
			var out page
			require.NoError(t, dec.Unmarshal(data, &out), "%s -> %s", name, decName)
			assert.Equal(t, in.ID, out.ID)
			assert.Equal(t, "Main Street", out.Attrs["name"].StringValue())
			assert.Equal(t, int64(2), out.Attrs["lanes"].I64)
		}
	}

	_, ok := ByName("gob")
	assert.False(t, ok)
	assert.Equal(t, "go-json", Default.Name())
}
