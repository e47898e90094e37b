// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package slabprovider hands out fresh, naturally-aligned slab-sized regions
// from a single mmap'd arena. It is the allocator's only point of contact
// with the operating system's virtual memory, mirroring the narrow "bump
// allocator" interface spec.md 4.5 and 5 describe: one reservation up front,
// one atomically-advancing cursor, and an advisory release hint at teardown
// rather than any attempt to hand pages back to the kernel eagerly.
package slabprovider

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Provider carves fixed-size, naturally-aligned slabs out of one backing
// mmap reservation. All of Provider's exported methods are safe to call
// concurrently from any core; the cursor is the only mutable state, and it
// only ever moves forward.
type Provider struct {
	slabSize uint64

	// raw is the full mmap reservation, unaligned. base is the first
	// slabSize-aligned address inside raw; the slop between raw's start
	// and base (and the unused tail past the last whole slab) is mapped
	// but never handed out.
	raw  []byte
	base uintptr

	// capacitySlabs is the number of whole, aligned slabSize regions
	// that fit between base and the end of raw.
	capacitySlabs uint64

	// cursor is the index, in units of slabSize, of the next region to
	// hand out. Advanced with a single atomic fetch-add - the "single
	// atomically-advancing cursor" of spec.md 4.5.
	cursor atomic.Uint64
}

// New reserves an arena able to carve out at least minSlabs slabs of
// slabSize bytes each, both rounded as needed, and returns a Provider ready
// to hand them out. slabSize must be a power of two; callers construct it via
// sizeclass.NewTable, which guarantees this.
func New(slabSize uint64, minSlabs uint64) (*Provider, error) {
	if slabSize == 0 || slabSize&(slabSize-1) != 0 {
		return nil, fmt.Errorf("slab size %d is not a power of two", slabSize)
	}
	if minSlabs == 0 {
		minSlabs = 1
	}

	// Over-reserve by one extra slab so that, whatever alignment the
	// kernel happens to hand back, at least minSlabs aligned regions are
	// guaranteed to fit inside the mapping.
	want := (minSlabs + 1) * slabSize

	raw, err := unix.Mmap(-1, 0, int(want), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("slabprovider: mmap %d bytes: %w", want, err)
	}

	rawAddr := uintptr(unsafe.Pointer(&raw[0]))
	base := alignUp(rawAddr, uintptr(slabSize))
	offset := uint64(base - rawAddr)

	capacitySlabs := (uint64(len(raw)) - offset) / slabSize

	return &Provider{
		slabSize:      slabSize,
		raw:           raw,
		base:          base,
		capacitySlabs: capacitySlabs,
	}, nil
}

// alignUp rounds addr up to the next multiple of align, which must be a
// power of two.
func alignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// AcquireSlab bumps the cursor and returns the next slabSize-aligned region
// as a byte slice. It returns an error once the arena is exhausted; callers
// (the allocator facade) treat this the same as any other out-of-memory
// condition - spec.md makes no promise of unbounded backing memory.
func (p *Provider) AcquireSlab() ([]byte, error) {
	idx := p.cursor.Add(1) - 1
	if idx >= p.capacitySlabs {
		return nil, fmt.Errorf("slabprovider: arena exhausted after %d slabs", p.capacitySlabs)
	}

	start := p.base + uintptr(idx*p.slabSize)
	return unsafe.Slice((*byte)(unsafe.Pointer(start)), p.slabSize), nil
}

// SlabSize is the fixed size, in bytes, of every region this Provider hands
// out.
func (p *Provider) SlabSize() uint64 {
	return p.slabSize
}

// Base returns the address of the first aligned slab in the arena. Used by
// the allocator facade to recognise addresses it owns (spec.md 4.4's
// InRange) and to recover a slab's base from an interior address by masking
// with ^(slabSize-1).
func (p *Provider) Base() uintptr {
	return p.base
}

// HighWaterMark returns the address one byte past the last slab ever handed
// out by AcquireSlab. Addresses at or beyond it have never been touched by
// this Provider.
func (p *Provider) HighWaterMark() uintptr {
	return p.base + uintptr(p.SlabsAcquired()*p.slabSize)
}

// SlabsAcquired is the number of slabs handed out by AcquireSlab so far,
// clipped to the arena's capacity.
func (p *Provider) SlabsAcquired() uint64 {
	issued := p.cursor.Load()
	if issued > p.capacitySlabs {
		issued = p.capacitySlabs
	}
	return issued
}

// CapacitySlabs is the total number of slabs this Provider's arena can ever
// hand out.
func (p *Provider) CapacitySlabs() uint64 {
	return p.capacitySlabs
}

// End returns the address one byte past the last slab the arena has room
// for, whether or not it has been handed out yet - the fixed upper bound for
// allocator.Allocator.InRange.
func (p *Provider) End() uintptr {
	return p.base + uintptr(p.capacitySlabs*p.slabSize)
}

// ResetCursor rewinds the bump cursor to the start of the arena, so the next
// AcquireSlab call hands out the first slab again. Callers (allocator.Reset)
// are responsible for ensuring nothing still references previously issued
// slabs.
func (p *Provider) ResetCursor() {
	p.cursor.Store(0)
}

// Release advises the kernel that the whole arena's pages are no longer
// needed. This is strictly an advisory hint, matching spec.md's Non-goal of
// returning memory to the OS beyond such a hint - the mapping itself stays
// live until Destroy, so any outstanding Slab built over it remains valid to
// read or write, it may simply fault pages back in.
func (p *Provider) Release() error {
	return unix.Madvise(p.raw, unix.MADV_DONTNEED)
}

// Destroy unmaps the entire arena. It must only be called once every Slab
// handed out by this Provider has gone out of use; spec.md 4.5 leaves
// individual slab release out of scope, so teardown is all-or-nothing.
func (p *Provider) Destroy() error {
	return unix.Munmap(p.raw)
}
