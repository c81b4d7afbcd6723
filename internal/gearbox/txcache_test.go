package gearbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gearboxd/internal/datastore"
)

func TestTxCache(t *testing.T) {
	a, b := NewTxCache(), NewTxCache()
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())

	t.Run("mapping request is idempotent", func(t *testing.T) {
		c := NewTxCache()
		assert.False(t, c.Flag(keyUpdateMapping))
		c.requestMapping("piu1")
		c.requestMapping("piu2")
		c.requestMapping("piu1")
		assert.True(t, c.Flag(keyUpdateMapping))
		assert.Equal(t, []string{"piu1", "piu2"}, c.mappingModules())
	})

	t.Run("once", func(t *testing.T) {
		c := NewTxCache()
		assert.True(t, c.Once("k"))
		assert.False(t, c.Once("k"))
	})

	t.Run("assignments are copied", func(t *testing.T) {
		c := NewTxCache()
		_, ok := c.assignment("piu1")
		assert.False(t, ok)

		staged := []string{"oid:0x0", "oid:0x0"}
		c.setAssignment("piu1", staged)
		staged[0] = "changed"

		got, ok := c.assignment("piu1")
		require.True(t, ok)
		assert.Equal(t, []string{"oid:0x0", "oid:0x0"}, got)
		got[1] = "changed"
		again, _ := c.assignment("piu1")
		assert.Equal(t, "oid:0x0", again[1])

		_, ok = c.assignment("piu2")
		assert.False(t, ok, "assignments are kept per module")
	})

	t.Run("config snapshot", func(t *testing.T) {
		c := NewTxCache()
		assert.Nil(t, c.Config())
		c.Set(keyConfig, datastore.Tree{"/a": "1"})
		assert.Equal(t, "1", c.Config().Get("/a", ""))
	})
}
