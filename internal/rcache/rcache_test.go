package rcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopehoist/bundlecore/internal/ast"
)

func modID(path string) ast.ModuleId { return ast.ModuleId{Path: path} }

// Key is deterministic for identical inputs and changes whenever any one
// of its three components changes.
func TestKey_DeterministicAndSensitiveToEachComponent(t *testing.T) {
	base := Key("hash1", modID("a.js"), []string{"default"})
	again := Key("hash1", modID("a.js"), []string{"default"})
	assert.Equal(t, base, again)

	assert.NotEqual(t, base, Key("hash2", modID("a.js"), []string{"default"}))
	assert.NotEqual(t, base, Key("hash1", modID("b.js"), []string{"default"}))
	assert.NotEqual(t, base, Key("hash1", modID("a.js"), []string{"named"}))
}

// Key is order-sensitive over usedExports, since the join is what the
// original hashes, not a normalized set.
func TestKey_UsedExportsOrderSensitive(t *testing.T) {
	a := Key("hash1", modID("a.js"), []string{"x", "y"})
	b := Key("hash1", modID("a.js"), []string{"y", "x"})
	assert.NotEqual(t, a, b)
}

func TestStore_SetGetDelete(t *testing.T) {
	s := NewStore()
	key := Key("hash1", modID("a.js"), nil)

	_, ok := s.Get(key)
	assert.False(t, ok)

	s.Set(key, Entry{ID: modID("a.js"), Code: "const x = 1;"})
	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "const x = 1;", got.Code)

	s.Delete(key)
	_, ok = s.Get(key)
	assert.False(t, ok)
}
