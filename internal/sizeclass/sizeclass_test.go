// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.
package sizeclass

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTable_SlabSizeRoundsToPowerOfTwo(t *testing.T) {
	for _, tc := range []struct {
		requested uint64
		want      uint64
	}{
		{1, 1},
		{2, 2},
		{3, 4},
		{32768, 32768},
		{32769, 65536},
	} {
		table := NewTable(tc.requested)
		assert.Equal(t, tc.want, table.SlabSize(), "requested %d", tc.requested)
	}
}

func TestNewTable_EveryClassSharesOneSlabSize(t *testing.T) {
	table := NewTable(32768)
	for _, c := range table.Classes() {
		assert.Equal(t, table.SlabSize(), c.SlabSize)
	}
}

func TestNewClass_GeometryIsConsistent(t *testing.T) {
	table := NewTable(32768)
	for _, c := range table.Classes() {
		t.Run(fmt.Sprintf("objectSize=%d", c.ObjectSize), func(t *testing.T) {
			// Every slot plus the header must fit inside the slab.
			require.LessOrEqual(t, c.Capacity*c.ObjectSize+c.MetadataSize, c.SlabSize)
			// The slab must hold at least one slot.
			require.Greater(t, c.Capacity, uint64(0))
			// NumGroups must be enough 64-bit words to cover capacity.
			require.GreaterOrEqual(t, c.NumGroups*bitsPerGroup, c.Capacity)
			require.LessOrEqual(t, c.NumGroups, uint64(bitsPerGroup))
		})
	}
}

func TestTable_ClassFor(t *testing.T) {
	table := NewTable(32768)

	for _, tc := range []struct {
		byteCount uint64
		wantSize  uint64
	}{
		{0, 8},
		{1, 8},
		{8, 8},
		{9, 16},
		{32, 32},
		{33, 48},
		{256, 256},
	} {
		class, err := table.ClassFor(tc.byteCount)
		require.NoError(t, err)
		assert.Equal(t, tc.wantSize, class.ObjectSize, "byteCount %d", tc.byteCount)
	}
}

func TestTable_ClassFor_ExceedsLargestClass(t *testing.T) {
	table := NewTable(32768)
	_, err := table.ClassFor(257)
	assert.Error(t, err)
}

func TestTable_Class_IndexedLookupMatchesClasses(t *testing.T) {
	table := NewTable(32768)
	for i, c := range table.Classes() {
		assert.Equal(t, c, table.Class(i))
	}
}

func TestNewTable_NumClassesMatchesSizesTable(t *testing.T) {
	table := NewTable(32768)
	assert.Equal(t, len(Sizes), table.NumClasses())
}
