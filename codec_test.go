package jetbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}

	c := JSONCodec{}
	assert.Equal(t, "json", c.Name())

	data, err := c.Marshal(payload{Name: "x", N: 7})
	require.NoError(t, err)

	var out payload
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, payload{Name: "x", N: 7}, out)
}

func TestCodecRegistry(t *testing.T) {
	_, err := NewCodec("json")
	require.NoError(t, err)

	_, err = NewCodec("nope")
	assert.Error(t, err)

	assert.Error(t, RegisterCodec("", func() Codec { return JSONCodec{} }))
	assert.Error(t, RegisterCodec("x", nil))
}

func TestDecodeUsesInjectedCodec(t *testing.T) {
	msg := &Message{Payload: []byte(`{"a":1}`)}

	// No codec in context falls back to JSON.
	v, err := Decode[map[string]int](context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1}, v)

	ctx := injectCodec(context.Background(), JSONCodec{})
	v, err = Decode[map[string]int](ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1}, v)
}
