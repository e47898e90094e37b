// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package allocator is the facade spec.md 4.4 describes: it routes requests
// by size class, drives each class's per-core slab manager through the
// try-pop/slow-path/publish sequence, recovers a slab from a live address,
// and dispatches frees by size class. Everything below it - slabs, slab
// managers, the bump provider, restartable sections - is plumbing; this is
// the only type most callers touch directly, and the only type the offheap
// package above it wraps.
package allocator

import (
	"fmt"
	"unsafe"

	"github.com/fmstephe/coreslab/internal/cpulocal"
	"github.com/fmstephe/coreslab/internal/slab"
	"github.com/fmstephe/coreslab/internal/slabmanager"
	"github.com/fmstephe/coreslab/internal/slabprovider"
	"github.com/fmstephe/coreslab/internal/sizeclass"
)

// defaultRegionSize and defaultSlabSize match the literal values spec.md's
// end-to-end scenarios (8) are phrased against.
const (
	defaultRegionSize          = 2 << 30 // 2 GiB
	defaultSlabSize            = 32768
	defaultCacheSizeLowerBound = 13
)

// Config holds the construction-time options spec.md 6 lists as "recognized
// configuration options".
type Config struct {
	// RegionSize is the total arena reserved up front. It bounds the
	// maximum simultaneous live bytes this allocator can serve. Zero
	// selects defaultRegionSize.
	RegionSize uint64

	// SlabSize is the fixed per-slab footprint shared by every size
	// class (rounded up to a power of two). Zero selects
	// defaultSlabSize, the value spec.md's scenarios are phrased
	// against.
	SlabSize uint64

	// CacheSizeLowerBound is the minimum depth of each (size class,
	// core) free cache; the implementation may round it up. Zero
	// selects defaultCacheSizeLowerBound.
	CacheSizeLowerBound int

	// DebugChecks enables the address validation spec.md 4.4 and 7
	// describe as present only in debug builds: Free panics on an
	// address outside the arena or not slot-aligned within its slab,
	// instead of the release path's silent no-op on a caller error that
	// is, per spec.md's Non-goals, undefined behaviour regardless.
	DebugChecks bool
}

func (c Config) withDefaults() Config {
	if c.RegionSize == 0 {
		c.RegionSize = defaultRegionSize
	}
	if c.SlabSize == 0 {
		c.SlabSize = defaultSlabSize
	}
	if c.CacheSizeLowerBound <= 0 {
		c.CacheSizeLowerBound = defaultCacheSizeLowerBound
	}
	return c
}

// Allocator is one arena plus the per-(size class, core) grid of managers
// routing traffic into it. The zero value is not usable; construct with
// New.
type Allocator struct {
	cfg      Config
	table    sizeclass.Table
	provider *slabprovider.Provider
	registry *registry

	// managers[classIdx][cpu] is private to that (class, cpu) pair;
	// never touched outside a cpulocal.Section keyed on cpu.
	managers [][]*slabmanager.Manager
}

// New reserves an arena and builds an Allocator ready to serve the
// configured size classes.
func New(cfg Config) (*Allocator, error) {
	cfg = cfg.withDefaults()

	table := sizeclass.NewTable(cfg.SlabSize)

	minSlabs := cfg.RegionSize / table.SlabSize()
	if minSlabs == 0 {
		minSlabs = 1
	}

	provider, err := slabprovider.New(table.SlabSize(), minSlabs)
	if err != nil {
		return nil, fmt.Errorf("allocator: %w", err)
	}

	a := &Allocator{
		cfg:      cfg,
		table:    table,
		provider: provider,
		registry: newRegistry(provider.Base(), provider.SlabSize(), provider.CapacitySlabs()),
	}
	a.managers = a.newManagerGrid()

	return a, nil
}

func (a *Allocator) newManagerGrid() [][]*slabmanager.Manager {
	grid := make([][]*slabmanager.Manager, a.table.NumClasses())
	for c := range grid {
		row := make([]*slabmanager.Manager, cpulocal.NumCPU)
		for cpu := range row {
			row[cpu] = slabmanager.New(a.cfg.CacheSizeLowerBound)
		}
		grid[c] = row
	}
	return grid
}

func (a *Allocator) managerFor(classIdx, cpu int) *slabmanager.Manager {
	return a.managers[classIdx][cpu]
}

// notMigrated stands in for the restartable-section migration check slab.Slab.
// Allocate expects. Under the per-CPU-spinlock emulation in cpulocal, the
// calling goroutine holds its starting CPU's lock for the whole section, so
// the migration this check exists to detect can never be observed partway
// through - see cpulocal's package doc. The hook stays in the call for
// interface fidelity with spec.md 4.2 and so a future rseq-backed
// cpulocal.Section can report real migrations without changing this package.
func notMigrated() bool {
	return false
}

// Allocate reserves byteCount bytes and returns their address, or ok=false
// if byteCount exceeds the largest configured size class or the arena is
// exhausted.
func (a *Allocator) Allocate(byteCount uint64) (addr uintptr, ok bool) {
	class, err := a.table.ClassFor(byteCount)
	if err != nil {
		return 0, false
	}

	type outcome struct {
		addr uintptr
		ok   bool
	}

	out := cpulocal.Section(func(cpu int) (outcome, bool) {
		mgr := a.managerFor(class.Index, cpu)

		if cached, hit := mgr.TryPop(); hit {
			return outcome{addr: uintptr(cached), ok: true}, false
		}

		addr, ok := a.allocateSlow(class, mgr)
		return outcome{addr: addr, ok: ok}, false
	})

	return out.addr, out.ok
}

// SlotSize returns the fixed slot size (size-class object size) that would
// serve a request of byteCount bytes, without allocating. Every address
// Allocate(byteCount) can ever return for a given byteCount - and every
// address a slot is later reused for via the free cache or a reclaim, since
// slots never change size class over their lifetime - resolves to the same
// SlotSize. Callers that need a position inside the slot stable across
// reuse (for example a trailing header) must key it off SlotSize, not off
// byteCount itself, because two different byteCount values can round up to
// the same class.
func (a *Allocator) SlotSize(byteCount uint64) (uint64, error) {
	class, err := a.table.ClassFor(byteCount)
	if err != nil {
		return 0, err
	}
	return class.ObjectSize, nil
}

// allocateSlow implements spec.md 4.4's slow path: pull from the current
// core's slab list, creating or reclaiming slabs as needed, until a slot is
// reserved or the arena is exhausted. It must be called from inside the
// cpulocal.Section that owns mgr.
func (a *Allocator) allocateSlow(class sizeclass.Class, mgr *slabmanager.Manager) (uintptr, bool) {
	for {
		head := mgr.Head()

		if head == nil {
			s, err := a.newSlab(class)
			if err != nil {
				return 0, false
			}
			mgr.PushFront(s)
			continue
		}

		slot, result := head.Allocate(notMigrated)
		switch result {
		case slab.Success:
			return a.slotAddress(head, slot), true

		case slab.Full:
			if mgr.AdvanceHead(head) {
				if !head.TryReclaim() {
					mgr.PushFront(head)
				}
			}
			continue

		default: // slab.Migrated: unreachable under the lock-based
			// emulation (see notMigrated), kept for completeness.
			continue
		}
	}
}

// newSlab acquires a fresh region from the bump provider and constructs a
// slab over it, recording it in the registry so future Free calls can find
// it again.
func (a *Allocator) newSlab(class sizeclass.Class) (*slab.Slab, error) {
	payload, err := a.provider.AcquireSlab()
	if err != nil {
		return nil, err
	}
	s := slab.New(class.ObjectSize, class.Capacity, class.NumGroups, payload)
	a.registry.store(payload, s)
	return s, nil
}

// slotAddress returns the live address of slot within s.
func (a *Allocator) slotAddress(s *slab.Slab, slot uint64) uintptr {
	base := uintptr(unsafe.Pointer(&s.Payload[0]))
	return base + uintptr(s.SlotOffset(slot))
}

// Free releases the allocation at addr. An addr that was never returned by
// Allocate, or that has already been freed, is undefined behaviour per
// spec.md's Non-goals. With Config.DebugChecks set, Free panics when addr
// lies in no slab acquired so far or is not slot-aligned within its slab;
// a double free of a valid slot address is not detected.
func (a *Allocator) Free(addr uintptr) {
	s, found := a.registry.lookup(addr)
	if !found {
		if a.cfg.DebugChecks {
			panic(fmt.Errorf("allocator: free of address %#x outside the arena", addr))
		}
		return
	}

	base := uintptr(unsafe.Pointer(&s.Payload[0]))
	slot, err := s.SlotFromOffset(uint64(addr - base))
	if err != nil {
		if a.cfg.DebugChecks {
			panic(fmt.Errorf("allocator: %w", err))
		}
		return
	}

	class, err := a.table.ClassFor(s.ObjectSize)
	if err != nil {
		if a.cfg.DebugChecks {
			panic(fmt.Errorf("allocator: %w", err))
		}
		return
	}

	cpulocal.Section(func(cpu int) (struct{}, bool) {
		mgr := a.managerFor(class.Index, cpu)

		if mgr.TryPush(uint64(addr)) {
			return struct{}{}, false
		}

		if wasUnowned := s.Free(slot); wasUnowned {
			if s.ClaimOwnership() {
				mgr.PushFront(s)
			}
		}

		return struct{}{}, false
	})
}

// InRange reports whether addr falls inside this allocator's arena. It does
// not imply addr is currently live - only that it lies within the reserved
// region.
func (a *Allocator) InRange(addr uintptr) bool {
	return addr >= a.provider.Base() && addr < a.provider.End()
}

// Reset zeroes every byte ever handed out and rewinds the allocator to its
// freshly-constructed state: the next Allocate call acquires slabs starting
// from the lowest arena offset again, and returns the same addresses a brand
// new Allocator would. Callers must ensure no goroutine still holds a live
// reference into the arena when calling Reset.
func (a *Allocator) Reset() {
	hw := a.provider.HighWaterMark()
	base := a.provider.Base()
	if hw > base {
		touched := unsafe.Slice((*byte)(unsafe.Pointer(base)), uint64(hw-base))
		clear(touched)
	}

	a.provider.ResetCursor()
	a.registry.reset()
	a.managers = a.newManagerGrid()
}

// Stats is a point-in-time snapshot of arena utilisation, useful for tests
// and diagnostics; it is not part of the concurrency-critical path.
type Stats struct {
	NumClasses    int
	SlabSize      uint64
	SlabsAcquired uint64
	SlabsCapacity uint64
}

// Stats reports the allocator's current utilisation.
func (a *Allocator) Stats() Stats {
	return Stats{
		NumClasses:    a.table.NumClasses(),
		SlabSize:      a.provider.SlabSize(),
		SlabsAcquired: a.provider.SlabsAcquired(),
		SlabsCapacity: a.provider.CapacitySlabs(),
	}
}

// Destroy releases the arena back to the operating system. No further calls
// to this Allocator are valid afterwards.
func (a *Allocator) Destroy() error {
	if err := a.provider.Release(); err != nil {
		return fmt.Errorf("allocator: %w", err)
	}
	return a.provider.Destroy()
}
