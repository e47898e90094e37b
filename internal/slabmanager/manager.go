// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package slabmanager implements the per-(size class, logical core) list of
// slabs with spare capacity, plus the small LIFO cache of recently freed
// object addresses that lets most allocations and frees skip the slab's
// bitmap engine entirely.
package slabmanager

import "github.com/fmstephe/coreslab/internal/slab"

// Manager is owned by exactly one (size class, logical core) pair. Every
// field is read and mutated only by that owning core, always from inside a
// restartable critical section keyed on that core - see spec.md 4.3.
type Manager struct {
	head *slab.Slab
	tail *slab.Slab

	cache    []uint64 // addresses, LIFO, cache[0:cacheLen] live
	cacheLen int
}

// New builds a Manager whose free cache holds up to depth recently-freed
// addresses before it starts deferring to the slab's cross-core bitmap.
func New(depth int) *Manager {
	return &Manager{
		cache: make([]uint64, depth),
	}
}

// Depth returns the configured free-cache capacity.
func (m *Manager) Depth() int {
	return len(m.cache)
}

// TryPop returns a recently-freed address from the cache, if any. Commit
// point: the decrement of cacheLen.
func (m *Manager) TryPop() (addr uint64, ok bool) {
	if m.cacheLen == 0 {
		return 0, false
	}
	m.cacheLen--
	return m.cache[m.cacheLen], true
}

// TryPush stores addr in the cache if there is room. Commit point: the
// increment of cacheLen.
func (m *Manager) TryPush(addr uint64) (pushed bool) {
	if m.cacheLen == len(m.cache) {
		return false
	}
	m.cache[m.cacheLen] = addr
	m.cacheLen++
	return true
}

// Head returns the slab currently at the front of this manager's list, or
// nil if the list is empty.
func (m *Manager) Head() *slab.Slab {
	return m.head
}

// AdvanceHead unlinks the current head, replacing it with head.Next, but
// only if head still matches the manager's current head - this is the
// restartable-sequence equality check described in spec.md 4.3, standing in
// for a hardware CAS. It reports false (without effect) if the head has
// already changed under the caller, signalling a retry.
func (m *Manager) AdvanceHead(expected *slab.Slab) (advanced bool) {
	if m.head != expected {
		return false
	}
	m.head = expected.Next
	if m.head == nil {
		m.tail = nil
	}
	return true
}

// PushFront publishes s onto this manager's list. Despite the name (kept to
// match spec.md's vocabulary for this operation) this implementation
// appends to the tail, preserving FIFO rotation among non-full slabs - one
// of the two list disciplines spec.md 4.3 leaves to the implementer; see
// SPEC_FULL.md's Open Questions for the rationale.
func (m *Manager) PushFront(s *slab.Slab) {
	s.Next = nil
	if m.head == nil {
		m.head = s
		m.tail = s
		return
	}
	m.tail.Next = s
	m.tail = s
}
