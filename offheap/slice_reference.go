// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package offheap

import (
	"fmt"
	"math/bits"
	"unsafe"
)

// AllocSlice allocates a new slice with the desired length and capacity. The
// capacity of the actual slice may not be the same as requestedCapacity, but
// it will never be smaller than requestedCapacity.
//
// The contents of the slice will be arbitrary. Unlike Go slices, slices
// acquired via AllocSlice do _not_ have their contents zeroed out beyond
// whatever the backing memory already held.
func AllocSlice[T any](s *Store, length, requestedCapacity int) RefSlice[T] {
	if err := containsNoPointers[T](); err != nil {
		panic(fmt.Errorf("cannot allocate generic type containing pointers %w", err))
	}

	capacity := capacityForSlice(requestedCapacity)
	dataSize := sizeForSlice[T](capacity)

	addr, ok := s.allocBytes(uint64(dataSize) + uint64(genHeaderSize))
	if !ok {
		panic(fmt.Errorf("offheap: out of memory allocating slice of capacity %d", capacity))
	}

	slotSize := s.slotSizeFor(dataSize)
	gen := claimGeneration(addr, slotSize)
	return RefSlice[T]{addr: addr, length: length, capacity: capacity, gen: gen, slotSize: slotSize}
}

// ConcatSlices allocates a new slice containing the elements of slices
// concatenated together.
func ConcatSlices[T any](s *Store, slices ...[]T) RefSlice[T] {
	totalLength := 0
	for _, slice := range slices {
		totalLength += len(slice)
	}

	r := AllocSlice[T](s, totalLength, totalLength)
	newSlice := r.Value()

	newSlice = newSlice[:0]
	for _, slice := range slices {
		newSlice = append(newSlice, slice...)
	}

	return r
}

// Append returns a new RefSlice pointing to a slice whose size and contents
// is the same as append(into.Value(), value).
//
// After this function returns into is no longer a valid RefSlice, and will
// behave as if FreeSlice(...) was called on it. Internally there is an
// optimisation which _may_ reuse the existing allocation slot if there is
// already enough capacity. But externally this function behaves as if a new
// allocation is made and the old one freed.
func Append[T any](s *Store, into RefSlice[T], value T) RefSlice[T] {
	addr, capacity, gen, slotSize := resizeAndInvalidate[T](s, into, 1)

	newRef := RefSlice[T]{addr: addr, length: into.length, capacity: capacity, gen: gen, slotSize: slotSize}
	newRef.length++
	slice := newRef.Value()
	slice[len(slice)-1] = value

	return newRef
}

// AppendSlice returns a new RefSlice pointing to a slice whose size and
// contents is the same as append(into.Value(), fromSlice...).
//
// After this function returns into is no longer a valid RefSlice, and will
// behave as if FreeSlice(...) was called on it. Internally there is an
// optimisation which _may_ reuse the existing allocation slot if there is
// already enough capacity. But externally this function behaves as if a new
// allocation is made and the old one freed.
func AppendSlice[T any](s *Store, into RefSlice[T], fromSlice []T) RefSlice[T] {
	addr, capacity, gen, slotSize := resizeAndInvalidate[T](s, into, len(fromSlice))

	newRef := RefSlice[T]{addr: addr, length: into.length, capacity: capacity, gen: gen, slotSize: slotSize}
	newRef.length += len(fromSlice)
	intoSlice := newRef.Value()
	copy(intoSlice[into.length:], fromSlice)

	return newRef
}

// FreeSlice releases the allocation referenced by r. After this call
// returns r must never be used again.
func FreeSlice[T any](s *Store, r RefSlice[T]) {
	releaseGeneration(r.addr, r.slotSize, r.gen)
	s.freeBytes(r.addr)
}

// RefSlice is a reference to a slice allocated off the managed Go heap. This
// reference allows access to the allocated slice via Value().
//
// It is acceptable, and encouraged, to use RefSlice in fields of types which
// will be managed by a Store. This is acceptable because RefSlice does not
// contain any conventional Go pointers, unlike native slices.
type RefSlice[T any] struct {
	addr     uintptr
	length   int
	capacity int
	gen      byte

	// slotSize is the size-class slot backing addr, captured at
	// allocation time so the generation header is always found at the
	// same position regardless of which occupant of this slot created
	// it - see genHeaderPtrs.
	slotSize uintptr
}

// Value returns the slice pointed to by this RefSlice.
//
// Care must be taken not to use this slice after FreeSlice(...), Append(...)
// or AppendSlice(...) has consumed this RefSlice.
func (r *RefSlice[T]) Value() []T {
	checkGeneration(r.addr, r.slotSize, r.gen)
	slice := unsafe.Slice((*T)(unsafe.Pointer(r.addr)), r.capacity)
	return slice[:r.length]
}

// IsNil reports whether this RefSlice does not point to an allocated slice.
func (r *RefSlice[T]) IsNil() bool {
	return r.addr == 0
}

// sizeForSlice is the number of payload bytes a slice of T with the given
// capacity occupies, not including the genHeaderSize trailer.
func sizeForSlice[T any](capacity int) uintptr {
	return uintptr(capacity) * unsafe.Sizeof(*new(T))
}

// capacityForSlice rounds requested up to the next power of two, matching
// the doubling growth native Go slices use; spec.md leaves the exact growth
// policy of the typed surface unspecified. Requests of 0 and 1 are returned
// unchanged. The resulting byte size is still served from the allocator's
// own size classes, which are not powers of two.
func capacityForSlice(requested int) int {
	if requested <= 1 {
		return requested
	}
	return 1 << bits.Len(uint(requested-1))
}

// resizeAndInvalidate grows (or reuses) the allocation behind old to fit
// old.length+extra elements, copying old's content across and invalidating
// old - FreeSlice(old) followed by this call would be undefined, since old
// is released as part of this operation. Since the raw allocator has no
// Realloc primitive (spec.md 4.5's bump provider hands out fresh slabs
// only; growing an existing allocation in place was never part of its
// contract), growth beyond the existing capacity always goes through a
// fresh allocation and a copy; growth that still fits is served from the
// same address under a new generation, which is externally indistinguishable
// from a fresh allocation.
func resizeAndInvalidate[T any](s *Store, old RefSlice[T], extra int) (newAddr uintptr, newCapacity int, gen byte, slotSize uintptr) {
	newLength := old.length + extra
	if newLength < old.length {
		panic(fmt.Errorf("resize (oldLength %d extra %d) has overflowed int", old.length, extra))
	}

	newCapacity = capacityForSlice(newLength)

	if newCapacity <= old.capacity {
		gen = reclaimInPlace(old.addr, old.slotSize, old.gen)
		return old.addr, old.capacity, gen, old.slotSize
	}

	oldDataSize := sizeForSlice[T](old.capacity)
	newDataSize := sizeForSlice[T](newCapacity)
	addr, ok := s.allocBytes(uint64(newDataSize) + uint64(genHeaderSize))
	if !ok {
		panic(fmt.Errorf("offheap: out of memory growing slice to capacity %d", newCapacity))
	}

	oldBytes := unsafe.Slice((*byte)(unsafe.Pointer(old.addr)), oldDataSize)
	newBytes := unsafe.Slice((*byte)(unsafe.Pointer(addr)), oldDataSize)
	copy(newBytes, oldBytes)

	releaseGeneration(old.addr, old.slotSize, old.gen)
	s.freeBytes(old.addr)

	newSlotSize := s.slotSizeFor(newDataSize)
	gen = claimGeneration(addr, newSlotSize)
	return addr, newCapacity, gen, newSlotSize
}

// reclaimInPlace invalidates oldGen and claims a fresh generation over the
// same address, without moving or touching the payload bytes - the
// in-place counterpart of resizeAndInvalidate's copy-and-free path.
func reclaimInPlace(addr, slotSize uintptr, oldGen byte) byte {
	releaseGeneration(addr, slotSize, oldGen)
	return claimGeneration(addr, slotSize)
}
