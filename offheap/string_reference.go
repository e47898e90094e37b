// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package offheap

import (
	"fmt"
	"unsafe"
)

// AllocStringFromString allocates a new string off the managed heap and
// copies value's bytes into it.
func AllocStringFromString(s *Store, value string) RefString {
	return allocString(s, unsafe.Slice(unsafe.StringData(value), len(value)))
}

// AllocStringFromBytes allocates a new string off the managed heap and
// copies value's bytes into it.
func AllocStringFromBytes(s *Store, value []byte) RefString {
	return allocString(s, value)
}

func allocString(s *Store, value []byte) RefString {
	dataSize := uintptr(len(value))

	addr, ok := s.allocBytes(uint64(dataSize) + uint64(genHeaderSize))
	if !ok {
		panic(fmt.Errorf("offheap: out of memory allocating string of length %d", dataSize))
	}

	if dataSize > 0 {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), dataSize)
		copy(dst, value)
	}

	slotSize := s.slotSizeFor(dataSize)
	gen := claimGeneration(addr, slotSize)
	return RefString{addr: addr, length: len(value), gen: gen, slotSize: slotSize}
}

// ConcatStrings allocates a new string containing the elements of strs
// concatenated together.
func ConcatStrings(s *Store, strs ...string) RefString {
	totalLength := 0
	for _, str := range strs {
		totalLength += len(str)
	}

	addr, ok := s.allocBytes(uint64(totalLength) + uint64(genHeaderSize))
	if !ok {
		panic(fmt.Errorf("offheap: out of memory allocating string of length %d", totalLength))
	}

	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), totalLength)
	offset := 0
	for _, str := range strs {
		offset += copy(dst[offset:], str)
	}

	slotSize := s.slotSizeFor(uintptr(totalLength))
	gen := claimGeneration(addr, slotSize)
	return RefString{addr: addr, length: totalLength, gen: gen, slotSize: slotSize}
}

// AppendString returns a new RefString pointing at a string whose contents
// are the same as into.Value()+add.
//
// After this function returns into is no longer a valid RefString, and will
// behave as if FreeString(...) was called on it.
func AppendString(s *Store, into RefString, add string) RefString {
	oldDataSize := uintptr(into.length)
	newLength := into.length + len(add)

	addr, ok := s.allocBytes(uint64(newLength) + uint64(genHeaderSize))
	if !ok {
		panic(fmt.Errorf("offheap: out of memory growing string to length %d", newLength))
	}

	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), newLength)
	if oldDataSize > 0 {
		src := unsafe.Slice((*byte)(unsafe.Pointer(into.addr)), oldDataSize)
		copy(dst, src)
	}
	copy(dst[oldDataSize:], add)

	releaseGeneration(into.addr, into.slotSize, into.gen)
	s.freeBytes(into.addr)

	slotSize := s.slotSizeFor(uintptr(newLength))
	gen := claimGeneration(addr, slotSize)
	return RefString{addr: addr, length: newLength, gen: gen, slotSize: slotSize}
}

// FreeString releases the allocation referenced by r. After this call
// returns r must never be used again.
func FreeString(s *Store, r RefString) {
	releaseGeneration(r.addr, r.slotSize, r.gen)
	s.freeBytes(r.addr)
}

// RefString is a reference to a string allocated off the managed Go heap.
// This reference allows access to the allocated string via Value().
//
// It is acceptable, and encouraged, to use RefString in fields of types
// which will be managed by a Store. This is acceptable because RefString
// does not contain any conventional Go pointers, unlike a native string.
type RefString struct {
	addr   uintptr
	length int
	gen    byte

	// slotSize is the size-class slot backing addr, captured at
	// allocation time so the generation header is always found at the
	// same position regardless of which occupant of this slot created
	// it - see genHeaderPtrs.
	slotSize uintptr
}

// Value returns the string pointed to by this RefString.
//
// Care must be taken not to use this string after FreeString(...) or
// AppendString(...) has consumed this RefString.
func (r RefString) Value() string {
	checkGeneration(r.addr, r.slotSize, r.gen)
	if r.length == 0 {
		return ""
	}
	bytes := unsafe.Slice((*byte)(unsafe.Pointer(r.addr)), r.length)
	return unsafe.String(&bytes[0], len(bytes))
}

// IsNil reports whether this RefString does not point to an allocated
// string.
func (r RefString) IsNil() bool {
	return r.addr == 0
}
