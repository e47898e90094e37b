// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package sizeclass holds the compile-time table mapping requested
// allocation sizes onto the fixed slot sizes served by the allocator, and
// the per-class geometry (capacity, bit-group count, metadata size) derived
// from a configured slab size.
package sizeclass

import (
	"fmt"

	"github.com/fmstephe/flib/fmath"
)

// bitsPerGroup is the width of one allocation-bitmap word. A slab's
// available/freed bitmaps are built from words of this width, addressed by a
// single 64-bit summary word - so a slab can never host more than
// bitsPerGroup*bitsPerGroup slots.
const bitsPerGroup = 64

// Sizes is the reference table of supported slot sizes, smallest to
// largest: 8, 16, 24, 32, then multiples of 16 up to 256, matching the
// progression in the original size-class table.
var Sizes = []uint64{
	8, 16, 24, 32,
	48, 64, 80, 96, 112, 128, 144, 160, 176, 192, 208, 224, 240, 256,
}

// Class describes the geometry of one size class. Every class in a Table
// shares the same SlabSize - every slab, whatever size class it serves,
// occupies the same fixed footprint and is aligned to it, so that a single
// bump cursor and a single "address AND ~(slabSize-1)" mask work for the
// whole arena. Capacity (and therefore metadata size) varies per class to
// make the best use of that fixed footprint.
type Class struct {
	Index      int
	ObjectSize uint64

	SlabSize     uint64
	Capacity     uint64
	NumGroups    uint64
	MetadataSize uint64
}

// Table is the full set of classes sharing one slab footprint.
type Table struct {
	classes  []Class
	slabSize uint64
}

// NewTable builds the size-class table for the given requested slab size.
// The slab size is rounded up to a power of two.
func NewTable(requestedSlabSize uint64) Table {
	slabSize := uint64(fmath.NxtPowerOfTwo(int64(requestedSlabSize)))

	classes := make([]Class, len(Sizes))
	for i, objectSize := range Sizes {
		classes[i] = newClass(i, objectSize, slabSize)
	}

	return Table{classes: classes, slabSize: slabSize}
}

// newClass fits as many objectSize slots as possible into slabSize once the
// fixed slab header (sized by the resulting bit-group count) is accounted
// for. The header size depends on the group count, which depends on
// capacity, which depends on the header size - two passes converge because
// the header is always a tiny fraction of a real slab.
func newClass(index int, objectSize, slabSize uint64) Class {
	capacity := slabSize / objectSize
	if capacity == 0 {
		capacity = 1
	}

	var meta uint64
	for i := 0; i < 2; i++ {
		numGroups := (capacity + bitsPerGroup - 1) / bitsPerGroup
		meta = metadataSize(numGroups)

		available := slabSize
		if meta < available {
			available -= meta
		} else {
			available = objectSize
		}

		newCapacity := available / objectSize
		if newCapacity == 0 {
			newCapacity = 1
		}
		capacity = newCapacity
	}

	numGroups := (capacity + bitsPerGroup - 1) / bitsPerGroup
	if numGroups > bitsPerGroup {
		numGroups = bitsPerGroup
		capacity = numGroups * bitsPerGroup
	}

	return Class{
		Index:        index,
		ObjectSize:   objectSize,
		SlabSize:     slabSize,
		Capacity:     capacity,
		NumGroups:    numGroups,
		MetadataSize: meta,
	}
}

// metadataSize is the size, in bytes, of the fixed slab header: object size,
// next pointer, owner-local summary word, owner-local group words, freed
// summary word, freed group words and owner-state word.
func metadataSize(numGroups uint64) uint64 {
	const fixedWords = 5 // objectSize, next, availSummary, freedSummary, ownerState
	return (fixedWords + 2*numGroups) * 8
}

// NumClasses returns the number of size classes in the table.
func (t Table) NumClasses() int {
	return len(t.classes)
}

// Classes returns the full ordered list of classes.
func (t Table) Classes() []Class {
	return t.classes
}

// SlabSize is the fixed per-slab footprint shared by every class in the
// table.
func (t Table) SlabSize() uint64 {
	return t.slabSize
}

// ClassFor returns the class able to satisfy a request of byteCount bytes.
func (t Table) ClassFor(byteCount uint64) (Class, error) {
	for _, c := range t.classes {
		if byteCount <= c.ObjectSize {
			return c, nil
		}
	}
	return Class{}, fmt.Errorf("requested size %d exceeds largest size class %d", byteCount, t.classes[len(t.classes)-1].ObjectSize)
}

// Class looks up a class by its index.
func (t Table) Class(idx int) Class {
	return t.classes[idx]
}
