package disk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachePutGet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, c.Put("crates/serde", []byte("hello")))

	got, ok := c.Get("crates/serde")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)

	hexHash := digest.Canonical.FromString("crates/serde").Encoded()
	_, err = os.Stat(filepath.Join(dir, hexHash[:defaultShardPrefixLen], hexHash))
	assert.NoError(t, err, "expected sharded cache file")
}

func TestCacheOverwrite(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, c.Put("k", []byte("one")))
	require.NoError(t, c.Put("k", []byte("two")))

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("two"), got)
}

func TestCacheMiss(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	_, ok := c.Get("absent")
	assert.False(t, ok)
	_, ok = c.Get("")
	assert.False(t, ok)
	assert.Error(t, c.Put("", []byte("x")))
}

func TestCacheExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c, err := New(t.TempDir(), WithTTL(time.Hour), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	require.NoError(t, c.Put("k", []byte("v")))
	_, ok := c.Get("k")
	require.True(t, ok, "fresh entry")

	now = now.Add(2 * time.Hour)
	_, ok = c.Get("k")
	assert.False(t, ok, "expired entry")
}

func TestCacheNoShard(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithShardPrefixLen(0))
	require.NoError(t, err)

	require.NoError(t, c.Put("k", []byte("v")))
	hexHash := digest.Canonical.FromString("k").Encoded()
	_, err = os.Stat(filepath.Join(dir, hexHash))
	assert.NoError(t, err)
}

func TestCacheDelete(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, c.Put("k", []byte("v")))
	require.NoError(t, c.Delete("k"))
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.NoError(t, c.Delete("k"), "deleting a missing entry")
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New("")
	assert.Error(t, err)

	_, err = New(t.TempDir(), WithShardPrefixLen(-1))
	assert.Error(t, err)
}
