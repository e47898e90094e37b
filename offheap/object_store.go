// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package offheap

import (
	"fmt"

	"github.com/fmstephe/coreslab/internal/allocator"
)

// defaultSlabSize matches the slab footprint the end-to-end scenarios this
// allocator's design is phrased against use.
const defaultSlabSize = 1 << 15

// Store is the typed, generation-checked surface built over the raw
// per-core slab allocator. It is what AllocObject, AllocSlice and the string
// allocation functions all allocate through.
//
// Unlike the raw allocator.Allocator underneath (where a double-free or a
// use-after-free is undefined behaviour, matching a C-style allocator),
// Store reserves two extra header bytes on every allocation and uses them
// to catch double-frees and use-after-frees on a best-effort basis - see
// genheader.go.
type Store struct {
	alloc *allocator.Allocator
}

// New returns a new *Store using the default slab size.
//
// This store manages allocation and freeing of any offheap allocated objects.
func New() *Store {
	return NewSized(defaultSlabSize)
}

// NewSized returns a new *Store.
//
// The size of each slab, the contiguous chunk of memory where allocations
// are organised, is set to be at least slabSize. If slabSize is not a power
// of two, it is rounded up to the nearest power of two and then used.
//
// Some users may have real need for a Store with a non-standard slab size.
// But the motivating use of this function was to allow the creation of
// Stores with small slab sizes to allow faster tests with reduced memory
// usage. Most users will probably prefer to use the default New() above.
func NewSized(slabSize int) *Store {
	a, err := allocator.New(allocator.Config{
		SlabSize: uint64(slabSize),
	})
	if err != nil {
		panic(err)
	}
	return &Store{alloc: a}
}

func (s *Store) allocBytes(size uint64) (uintptr, bool) {
	return s.alloc.Allocate(size)
}

func (s *Store) freeBytes(addr uintptr) {
	s.alloc.Free(addr)
}

// slotSizeFor returns the fixed slot size backing an allocation whose
// logical payload is dataSize bytes plus the generation header. It is used
// to place the header at a position stable across slot reuse - see
// genHeaderPtrs.
func (s *Store) slotSizeFor(dataSize uintptr) uintptr {
	slotSize, err := s.alloc.SlotSize(uint64(dataSize) + uint64(genHeaderSize))
	if err != nil {
		panic(fmt.Errorf("offheap: %w", err))
	}
	return uintptr(slotSize)
}

// Destroy releases the memory allocated by the Store back to the operating
// system. After this method is called the Store is completely unusable.
//
// There may be some use-cases for this in real systems. But the motivating
// use case for this method was allowing us to release memory of Stores
// created in unit tests (we create a lot of them). Without this method the
// tests, especially the fuzz tests, would OOM very quickly. Right now I
// would expect that most (all?) Stores will live for the entire lifecycle
// of the program they are used in, so this method probably won't be used in
// most cases.
func (s *Store) Destroy() error {
	return s.alloc.Destroy()
}

// Stats returns a point-in-time snapshot of this Store's arena utilisation.
func (s *Store) Stats() allocator.Stats {
	return s.alloc.Stats()
}
