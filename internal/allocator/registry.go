// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package allocator

import (
	"sync/atomic"
	"unsafe"

	"github.com/fmstephe/coreslab/internal/slab"
)

// registry recovers the *slab.Slab owning an interior address. A real C
// allocator gets this for free: the slab's metadata sits at a fixed offset
// inside the very region the masked address points at. This implementation
// keeps slab metadata as ordinary Go values instead of embedding it in the
// mmap'd region (see slab.Slab's doc comment and DESIGN.md), so recovering a
// *slab.Slab from an address needs a side table instead of a pointer cast.
//
// Each slot is written once per acquisition of its slab (reset clears them
// all), by the goroutine that just acquired that slab from the provider,
// before the slab is published anywhere else - so lookups never race with
// the store that fills their slot.
type registry struct {
	base     uintptr
	slabSize uint64
	slots    []atomic.Pointer[slab.Slab]
}

func newRegistry(base uintptr, slabSize, capacitySlabs uint64) *registry {
	return &registry{
		base:     base,
		slabSize: slabSize,
		slots:    make([]atomic.Pointer[slab.Slab], capacitySlabs),
	}
}

// store records s as the owner of payload's region. payload must be a slice
// returned by the same provider whose geometry this registry was built
// from.
func (r *registry) store(payload []byte, s *slab.Slab) {
	addr := uintptr(unsafe.Pointer(&payload[0]))
	idx := (addr - r.base) / uintptr(r.slabSize)
	r.slots[idx].Store(s)
}

// lookup recovers the slab owning addr, by masking addr down to its slab's
// aligned base - spec.md 4.2's "address AND ~(slab_size-1)" - then indexing
// the side table built at that base's offset into the arena.
func (r *registry) lookup(addr uintptr) (*slab.Slab, bool) {
	if addr < r.base {
		return nil, false
	}
	base := addr &^ (uintptr(r.slabSize) - 1)
	idx := (base - r.base) / uintptr(r.slabSize)
	if idx >= uintptr(len(r.slots)) {
		return nil, false
	}
	s := r.slots[idx].Load()
	return s, s != nil
}

// reset clears every slot, so a freshly reset allocator recovers no slab
// from any address until new slabs are acquired and stored again.
func (r *registry) reset() {
	for i := range r.slots {
		r.slots[i].Store(nil)
	}
}
