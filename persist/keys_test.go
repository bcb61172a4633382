package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeysEquality(t *testing.T) {
	a := Key("Namespace", "a").With("Name", "x")
	b := Key("name", "x").With("namespace", "a")
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())

	c := Key("Namespace", "a").With("Name", "y")
	assert.False(t, a.Equal(c))
	assert.NotEqual(t, a.canonical(), c.canonical())
}

func TestKeysNormalizeIntegerWidths(t *testing.T) {
	a := Key("Id", 7)
	b := Key("Id", int64(7))
	c := Key("Id", uint16(7))
	assert.True(t, a.Equal(b))
	assert.True(t, a.Equal(c))
	assert.Equal(t, a.Hash(), c.Hash())
}

func TestKeysDifferentLengths(t *testing.T) {
	assert.False(t, Key("A", 1).Equal(Key("A", 1).With("B", 2)))
	assert.False(t, Key("A", 1).Equal(Key("B", 1)))
}

func TestKeysWithReplaces(t *testing.T) {
	k := Key("Id", 1).With("id", 2)
	assert.Equal(t, 1, k.Len())
	v, ok := k.Get("ID")
	assert.True(t, ok)
	assert.Equal(t, int64(2), v)
	assert.Equal(t, "{id=2}", k.String())
}
