// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package offheap

import "unsafe"

// genHeaderSize is the number of bytes Store reserves, beyond the bytes a
// caller asked for, on every allocation: one freed flag and one generation
// counter. The raw allocator underneath treats a double-free or a
// use-after-free as undefined behaviour, the same as a C allocator (see
// DESIGN.md's discussion of this split) - this header is how Store gives
// callers a best-effort panic instead.
const genHeaderSize = uintptr(2)

// genHeaderPtrs locates the header within the slot at addr. slotSize is the
// fixed size-class slot backing this allocation (see Store.slotSizeFor), not
// the caller's logical payload size: the allocator buckets requests into a
// small, shared set of size classes, so two allocations whose payload sizes
// differ can still land in the same physical slot on reuse (one freed, the
// other a fresh claim of the same address from the free cache or a
// reclaim). The header must therefore sit at a position fixed by the slot's
// class, identical for every occupant that class ever holds - the end of
// the slot - never at a position derived from a particular occupant's
// payload size, or two occupants with different payload sizes sharing a
// slot would see the header at different offsets and corrupt each other's
// data.
func genHeaderPtrs(addr, slotSize uintptr) (freed, gen *byte) {
	freed = (*byte)(unsafe.Pointer(addr + slotSize - genHeaderSize))
	gen = (*byte)(unsafe.Pointer(addr + slotSize - genHeaderSize + 1))
	return freed, gen
}

// claimGeneration is called once, immediately after a fresh allocation, to
// compute the generation byte this use of the slot will carry. Freshly
// mmap'd memory reads as all zero, so a slot's first ever occupant always
// claims generation 0. If the slot's freed flag is still set from a prior
// occupant, the generation advances, so any Reference that prior occupant
// left lying around no longer matches.
func claimGeneration(addr, slotSize uintptr) (gen byte) {
	freed, genPtr := genHeaderPtrs(addr, slotSize)
	gen = *genPtr
	if *freed != 0 {
		gen++
	}
	*freed = 0
	*genPtr = gen
	return gen
}

// checkGeneration panics if the slot at addr has been freed, or reused by a
// later allocation, since the Reference holding wantGen was created.
func checkGeneration(addr, slotSize uintptr, wantGen byte) {
	freed, genPtr := genHeaderPtrs(addr, slotSize)
	if *freed != 0 || *genPtr != wantGen {
		panic("offheap: use of freed reference")
	}
}

// releaseGeneration marks the slot at addr freed. It panics if the slot was
// already free, or has been reused under a later generation - both mean the
// caller is double-freeing.
func releaseGeneration(addr, slotSize uintptr, wantGen byte) {
	freed, genPtr := genHeaderPtrs(addr, slotSize)
	if *freed != 0 || *genPtr != wantGen {
		panic("offheap: double free")
	}
	*freed = 1
}
