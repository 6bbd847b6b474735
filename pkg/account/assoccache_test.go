package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssocCacheEviction(t *testing.T) {
	c := newAssocCache[int](2)
	c.put("a", 1)
	c.put("b", 2)
	c.put("c", 3)

	_, ok := c.get("a")
	assert.False(t, ok, "oldest entry must be evicted")
	v, ok := c.get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, c.len())
}

func TestAssocCacheRecencyOnGet(t *testing.T) {
	c := newAssocCache[int](2)
	c.put("a", 1)
	c.put("b", 2)

	// Touch a, making b the eviction candidate.
	_, _ = c.get("a")
	c.put("c", 3)

	_, ok := c.get("b")
	assert.False(t, ok)
	_, ok = c.get("a")
	assert.True(t, ok)
}

func TestAssocCachePutRefreshes(t *testing.T) {
	c := newAssocCache[int](2)
	c.put("a", 1)
	c.put("b", 2)
	c.put("a", 10)
	c.put("c", 3)

	v, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = c.get("b")
	assert.False(t, ok)
}

func TestAssocCacheRemoveClear(t *testing.T) {
	c := newAssocCache[int](4)
	c.put("a", 1)
	c.put("b", 2)
	c.remove("a")
	_, ok := c.get("a")
	assert.False(t, ok)

	c.clear()
	assert.Zero(t, c.len())
}
