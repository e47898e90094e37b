// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.
package slabmanager

import (
	"testing"

	"github.com/fmstephe/coreslab/internal/slab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSlab() *slab.Slab {
	return slab.New(8, 8, 1, make([]byte, 64))
}

func TestCache_PushPopIsLIFO(t *testing.T) {
	m := New(4)

	assert.Equal(t, 4, m.Depth())

	_, ok := m.TryPop()
	assert.False(t, ok, "empty cache has nothing to pop")

	assert.True(t, m.TryPush(1))
	assert.True(t, m.TryPush(2))
	assert.True(t, m.TryPush(3))

	addr, ok := m.TryPop()
	require.True(t, ok)
	assert.Equal(t, uint64(3), addr)

	addr, ok = m.TryPop()
	require.True(t, ok)
	assert.Equal(t, uint64(2), addr)
}

func TestCache_PushFailsWhenFull(t *testing.T) {
	m := New(2)

	assert.True(t, m.TryPush(1))
	assert.True(t, m.TryPush(2))
	assert.False(t, m.TryPush(3))
}

func TestCache_ZeroDepthNeverCaches(t *testing.T) {
	m := New(0)

	assert.False(t, m.TryPush(1))
	_, ok := m.TryPop()
	assert.False(t, ok)
}

func TestPushFrontAndHead_FIFOOrderAmongSlabs(t *testing.T) {
	m := New(1)

	s1, s2, s3 := newTestSlab(), newTestSlab(), newTestSlab()
	m.PushFront(s1)
	m.PushFront(s2)
	m.PushFront(s3)

	// PushFront is implemented as tail-append: the first slab published
	// stays at the head until explicitly advanced past.
	assert.Same(t, s1, m.Head())
}

func TestAdvanceHead_OnlySucceedsWhenHeadMatches(t *testing.T) {
	m := New(1)
	s1, s2 := newTestSlab(), newTestSlab()
	m.PushFront(s1)
	m.PushFront(s2)

	advanced := m.AdvanceHead(s2)
	assert.False(t, advanced, "s1 is still head, not s2")
	assert.Same(t, s1, m.Head())

	advanced = m.AdvanceHead(s1)
	assert.True(t, advanced)
	assert.Same(t, s2, m.Head())

	advanced = m.AdvanceHead(s2)
	assert.True(t, advanced)
	assert.Nil(t, m.Head(), "list must be empty, and tail reset, after its only slab is advanced past")

	// With the list empty, pushing a fresh slab becomes the sole head
	// again.
	s3 := newTestSlab()
	m.PushFront(s3)
	assert.Same(t, s3, m.Head())
}
