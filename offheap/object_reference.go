// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package offheap

import (
	"fmt"
	"unsafe"
)

// AllocObject allocates a new object of type T and returns a RefObject
// through which it can be accessed.
//
// T must contain no conventional Go pointers - no strings, slices, maps,
// channels, interfaces or pointer fields, checked via reflection at
// allocation time. Allocating a type that fails this check panics.
func AllocObject[T any](s *Store) RefObject[T] {
	if err := containsNoPointers[T](); err != nil {
		panic(fmt.Errorf("cannot allocate generic type containing pointers %w", err))
	}

	dataSize := unsafe.Sizeof(*new(T))
	addr, ok := s.allocBytes(uint64(dataSize) + uint64(genHeaderSize))
	if !ok {
		panic(fmt.Errorf("offheap: out of memory allocating object of size %d", dataSize))
	}

	slotSize := s.slotSizeFor(dataSize)
	gen := claimGeneration(addr, slotSize)
	return RefObject[T]{addr: addr, gen: gen, slotSize: slotSize}
}

// FreeObject releases the memory used by an object allocated via
// AllocObject. After this call r must never be used again; doing so will
// panic on a best-effort basis (see Store's doc comment for the exact
// guarantee).
func FreeObject[T any](s *Store, r RefObject[T]) {
	releaseGeneration(r.addr, r.slotSize, r.gen)
	s.freeBytes(r.addr)
}

// RefObject is a reference to an object allocated off the managed Go heap.
// It behaves like a conventional pointer through which the allocated value
// can be retrieved via Value().
//
// It is acceptable, and encouraged, to use RefObject in fields of types
// which will themselves be managed by a Store. This is acceptable because
// RefObject contains no conventional Go pointers.
type RefObject[T any] struct {
	addr uintptr
	gen  byte

	// slotSize is the size-class slot backing addr, captured at
	// allocation time so the generation header is always found at the
	// same position regardless of which occupant of this slot created
	// it - see genHeaderPtrs.
	slotSize uintptr
}

// Value returns a pointer to the referenced object. It panics if the object
// has been freed, or if its slot has since been reused by a later
// allocation.
func (r RefObject[T]) Value() *T {
	checkGeneration(r.addr, r.slotSize, r.gen)
	return (*T)(unsafe.Pointer(r.addr))
}

// IsNil reports whether this RefObject does not point to an allocated
// object.
func (r RefObject[T]) IsNil() bool {
	return r.addr == 0
}
