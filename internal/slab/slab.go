// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package slab implements the allocator's unit of capacity: a fixed-size,
// self-aligned region holding equal-size slots, two parallel bitmaps (one
// owned exclusively by the core that holds the slab, one touched by any
// core that frees into it) and the owner-state flag gating the hand-off
// protocol between them.
package slab

import (
	"fmt"
	"math/bits"
	"sync/atomic"
)

// Outcome is the result of an intra-slab allocation attempt.
type Outcome int

const (
	// Success means slot holds a freshly reserved index.
	Success Outcome = iota
	// Full means the owner-local bitmap has no free slot.
	Full
	// Migrated means the calling critical section observed migration
	// partway through and must be retried from the top.
	Migrated
)

// OwnerState gates slab-manager list membership and the cross-core claim
// race described in spec.md 4.2.
type OwnerState uint32

const (
	// Owned means some core currently holds this slab in its active
	// slab-manager list.
	Owned OwnerState = 0
	// Unowned means no core holds this slab; the next cross-core free
	// must claim it before it can be used again.
	Unowned OwnerState = 1
)

// Slab is one contiguous, naturally-aligned region of object slots plus its
// bitmap metadata. A Slab's address is always aligned to len(Payload), so
// that masking any interior pointer with ^(slabSize-1) recovers the slab's
// base address (see the allocator package's registry.lookup).
//
// A Slab is never moved or destroyed individually; the whole arena backing
// it is released in bulk by the slab provider at allocator teardown.
type Slab struct {
	// ObjectSize is the chunk size this slab serves. Written once at
	// construction and read by any core recovering slot geometry - see
	// spec.md 4.2's "templated variant with a per-slab object_size
	// header", the canonical layout per spec.md 9.
	ObjectSize uint64

	// Next links this slab onto its owning core's slab-manager list.
	// Mutated only by the owning core, inside a restartable critical
	// section.
	Next *Slab

	// availSummary has bit i set iff availGroups[i] still has a free
	// slot. Owner-local: touched only by the owning core.
	availSummary uint64
	availGroups  []uint64

	// freedSummary/freedGroups mirror the owner-local bitmap but are
	// touched by any core freeing an object that lives in this slab, via
	// atomic read-modify-write.
	freedSummary atomic.Uint64
	freedGroups  []atomic.Uint64

	// state is OwnerState, but stored as a uint32 so it can be mutated
	// with an atomic compare-and-swap by claimers.
	state atomic.Uint32

	capacity uint64

	// Payload holds capacity equal-size slots of ObjectSize bytes each.
	Payload []byte
}

// New constructs a fresh Slab over payload, ready to serve capacity slots of
// objectSize bytes. The slab begins fully available and OWNED, as required
// by spec.md 3's lifecycle invariant.
func New(objectSize, capacity, numGroups uint64, payload []byte) *Slab {
	s := &Slab{
		ObjectSize:  objectSize,
		capacity:    capacity,
		availGroups: make([]uint64, numGroups),
		freedGroups: make([]atomic.Uint64, numGroups),
		Payload:     payload,
	}

	for g := uint64(0); g < numGroups; g++ {
		bitsInGroup := capacity - g*64
		if bitsInGroup >= 64 {
			s.availGroups[g] = ^uint64(0)
		} else {
			s.availGroups[g] = (uint64(1) << bitsInGroup) - 1
		}
	}
	s.availSummary = (uint64(1) << numGroups) - 1
	s.state.Store(uint32(Owned))

	return s
}

// Capacity is the number of slots this slab holds.
func (s *Slab) Capacity() uint64 {
	return s.capacity
}

// State returns the slab's current owner-state.
func (s *Slab) State() OwnerState {
	return OwnerState(s.state.Load())
}

// Allocate reserves one slot from this slab's owner-local bitmap. It must be
// called from inside a restartable critical section keyed on the section's
// start CPU; isMigrated reports whether that section has since observed
// migration, in which case Allocate aborts and returns Migrated rather than
// commit a partial update.
//
// Algorithm (spec.md 4.2): read the summary word; if zero, the slab is
// Full. Otherwise find the lowest set group bit g. If group g's word is
// actually zero, the summary bit is stale (left over from a cooperating
// retire) - clear it and retry. Otherwise take group g's lowest set bit s,
// clear it, and return g*64+s.
func (s *Slab) Allocate(isMigrated func() bool) (slot uint64, outcome Outcome) {
	for {
		if isMigrated() {
			return 0, Migrated
		}

		summary := s.availSummary
		if summary == 0 {
			return 0, Full
		}

		g := uint64(bits.TrailingZeros64(summary))
		group := s.availGroups[g]

		if group == 0 {
			// Stale summary bit: a previous retire emptied this
			// group but left the summary bit set. Clean it up
			// and retry; being migrated between here and the
			// store below is safe, it only leaves a stale bit
			// for the next attempt to clean up again.
			s.availSummary = summary &^ (uint64(1) << g)
			continue
		}

		if isMigrated() {
			return 0, Migrated
		}

		bit := uint64(bits.TrailingZeros64(group))
		s.availGroups[g] = group &^ (uint64(1) << bit)

		return g*64 + bit, Success
	}
}

// Free marks slot as free in this slab's cross-core freed bitmap. It may be
// called from any core, without a critical section, via atomic
// read-modify-write. It reports whether the slab was UNOWNED at the moment
// of the free - the caller must attempt ClaimOwnership when this is true.
func (s *Slab) Free(slot uint64) (wasUnowned bool) {
	g := slot / 64
	bit := slot % 64
	mask := uint64(1) << bit

	if before := atomicOr(&s.freedGroups[g], mask); before == 0 {
		atomicOr(&s.freedSummary, uint64(1)<<g)
	}

	return OwnerState(s.state.Load()) == Unowned
}

// atomicOr sets bits in word and returns the value word held just before the
// set, so callers can detect the zero-to-nonzero transition (spec.md 4.2's
// "group's freed word was observed to be zero before the set").
func atomicOr(word *atomic.Uint64, bits uint64) uint64 {
	for {
		old := word.Load()
		if word.CompareAndSwap(old, old|bits) {
			return old
		}
	}
}

// TryReclaim is called by the owning core when its owner-local summary word
// reached zero (Allocate returned Full). It drains the cross-core freed
// bitmap into the owner-local bitmap. If nothing has been freed since the
// slab went full, it instead transitions the slab to UNOWNED and reports
// empty=true, signalling the caller to drop the slab from its list.
func (s *Slab) TryReclaim() (empty bool) {
	reclaimed := s.freedSummary.Swap(0)
	if reclaimed == 0 {
		s.state.Store(uint32(Unowned))
		return true
	}

	remaining := reclaimed
	for remaining != 0 {
		g := uint64(bits.TrailingZeros64(remaining))
		remaining &^= uint64(1) << g

		slots := s.freedGroups[g].Swap(0)
		s.availGroups[g] = slots
	}

	s.availSummary = reclaimed
	return false
}

// ClaimOwnership atomically transitions the slab from UNOWNED to OWNED. It
// reports true only for the single caller that performed the transition;
// only that caller may link the slab onto a slab manager.
func (s *Slab) ClaimOwnership() (claimed bool) {
	return s.state.CompareAndSwap(uint32(Unowned), uint32(Owned))
}

// SlotOffset returns the byte offset, within Payload, of slot.
func (s *Slab) SlotOffset(slot uint64) uint64 {
	return slot * s.ObjectSize
}

// SlotFromOffset recovers a slot index from a byte offset into Payload. It
// returns an error if the offset does not land on a slot boundary or lies
// outside the slab, matching spec.md 4.2's recovery arithmetic and the
// debug-build address validation in spec.md 4.4.
func (s *Slab) SlotFromOffset(offset uint64) (uint64, error) {
	if s.ObjectSize == 0 || offset%s.ObjectSize != 0 {
		return 0, fmt.Errorf("offset %d is not slot-aligned for object size %d", offset, s.ObjectSize)
	}
	slot := offset / s.ObjectSize
	if slot >= s.capacity {
		return 0, fmt.Errorf("slot %d is out of range for capacity %d", slot, s.capacity)
	}
	return slot, nil
}
