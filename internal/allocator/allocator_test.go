// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.
package allocator

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	a, err := New(Config{SlabSize: 4096, RegionSize: 4096 * 64})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, a.Destroy())
	})
	return a
}

func TestAllocate_RejectsOversizeRequest(t *testing.T) {
	a := newTestAllocator(t)
	_, ok := a.Allocate(10000)
	assert.False(t, ok)
}

func TestAllocate_NeverHandsOutTheSameAddressTwiceLive(t *testing.T) {
	a := newTestAllocator(t)

	seen := make(map[uintptr]bool)
	for range 2000 {
		addr, ok := a.Allocate(24)
		require.True(t, ok)
		require.False(t, seen[addr], "address %#x handed out twice while live", addr)
		seen[addr] = true
	}
}

func TestAllocateFree_AddressIsWithinArena(t *testing.T) {
	a := newTestAllocator(t)

	addr, ok := a.Allocate(100)
	require.True(t, ok)
	assert.True(t, a.InRange(addr))

	a.Free(addr)
}

func TestFreeThenAllocate_SlotIsReused(t *testing.T) {
	a := newTestAllocator(t)

	addr1, ok := a.Allocate(16)
	require.True(t, ok)
	a.Free(addr1)

	addr2, ok := a.Allocate(16)
	require.True(t, ok)
	assert.Equal(t, addr1, addr2, "the freed slot should come back out of the same (class, core) cache")
}

// TestAllocate_WritesDoNotOverlap exercises an S1-style scenario from
// spec.md 8: the first byte of each of 500 live allocations is written with
// byte(i), and every one of those bytes must still be intact once all 500
// allocations have been made.
func TestAllocate_WritesDoNotOverlap(t *testing.T) {
	a := newTestAllocator(t)

	type live struct {
		addr uintptr
		fill byte
	}

	var lives []live
	for i := range 500 {
		addr, ok := a.Allocate(32)
		require.True(t, ok)
		fill := byte(i)
		*(*byte)(unsafe.Pointer(addr)) = fill
		lives = append(lives, live{addr: addr, fill: fill})
	}

	for _, l := range lives {
		got := *(*byte)(unsafe.Pointer(l.addr))
		assert.Equal(t, l.fill, got)
	}
}

// TestConcurrentAllocateFree runs many goroutines hammering Allocate/Free on
// a shared Allocator - the cross-core hand-off protocol spec.md 8's S3/S4/S5
// scenarios describe. Run with -race.
func TestConcurrentAllocateFree(t *testing.T) {
	a := newTestAllocator(t)

	const goroutines = 32
	const opsPerGoroutine = 500

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var held []uintptr
			for i := range opsPerGoroutine {
				if len(held) > 0 && i%3 == 0 {
					addr := held[len(held)-1]
					held = held[:len(held)-1]
					a.Free(addr)
					continue
				}
				addr, ok := a.Allocate(16)
				if !ok {
					continue
				}
				held = append(held, addr)
			}
			for _, addr := range held {
				a.Free(addr)
			}
		}()
	}
	wg.Wait()
}

// TestCrossCoreFree allocates on one goroutine (pinned to whatever CPU it
// lands on) and frees on many others, so frees land in the free caches of
// whatever CPUs those goroutines run on and, once a cache is full, in the
// slab's cross-core freed bitmap. All 200 slots fit in one slab that stays
// owned, so no ownership claim takes place here.
func TestCrossCoreFree(t *testing.T) {
	a := newTestAllocator(t)

	const n = 200
	addrs := make([]uintptr, n)
	for i := range n {
		addr, ok := a.Allocate(8)
		require.True(t, ok)
		addrs[i] = addr
	}

	var wg sync.WaitGroup
	for _, addr := range addrs {
		wg.Add(1)
		go func(addr uintptr) {
			defer wg.Done()
			a.Free(addr)
		}(addr)
	}
	wg.Wait()

	// After the cross-goroutine frees, n further allocations of the same
	// class must still succeed.
	for range n {
		_, ok := a.Allocate(8)
		require.True(t, ok)
	}
}

func TestReset_ReturnsAllocatorToFreshState(t *testing.T) {
	a := newTestAllocator(t)

	first, ok := a.Allocate(16)
	require.True(t, ok)
	a.Free(first)

	statsBefore := a.Stats()
	require.Greater(t, statsBefore.SlabsAcquired, uint64(0))

	a.Reset()

	statsAfter := a.Stats()
	assert.Equal(t, uint64(0), statsAfter.SlabsAcquired)

	second, ok := a.Allocate(16)
	require.True(t, ok)
	assert.Equal(t, first, second, "a fresh allocator hands out the same first address")
}

func TestDebugChecks_FreeOfUnknownAddressPanics(t *testing.T) {
	a, err := New(Config{SlabSize: 4096, DebugChecks: true})
	require.NoError(t, err)
	defer a.Destroy()

	assert.Panics(t, func() { a.Free(0xdeadbeef) })
}

func TestWithoutDebugChecks_FreeOfUnknownAddressIsANoOp(t *testing.T) {
	a := newTestAllocator(t)
	assert.NotPanics(t, func() { a.Free(0xdeadbeef) })
}
