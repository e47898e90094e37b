// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package cpulocal stands in for a hardware restartable-sequence facility.
//
// The allocator's per-core structures (slab-manager lists, free caches,
// owner-local slab bitmaps) are only ever safe to mutate if the mutating
// goroutine does not migrate to another logical CPU mid-update. Linux
// rseq(2) gives C/C++ allocators a cheap, lock-free way to detect that
// migration and retry. Go has no portable binding to rseq, and none of this
// module's dependencies provide one, so this package emulates the same
// contract with a per-CPU mutex: a critical section locks its starting
// CPU's slot, runs, and - because the lock is held for its whole body -
// migration can no longer be observed mid-section. This sacrifices the
// "zero synchronization on the common path" property the original assembly
// had when two threads land on the same CPU at once, but it preserves every
// correctness guarantee the allocator's algorithms rely on.
package cpulocal

import (
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// NumCPU is the number of logical CPU slots the allocator partitions its
// per-(size class, core) state across. It is read once at package init,
// mirroring the original's compile-time NPROCS constant.
var NumCPU = runtime.NumCPU()

// locks is one mutex per logical CPU slot. A goroutine pinned to CPU i
// only ever contends with another goroutine that is, at that instant, also
// scheduled on CPU i.
var locks = make([]sync.Mutex, NumCPU)

// CurrentCPU reads the logical CPU the calling OS thread is presently
// scheduled on. If the syscall fails, or reports a CPU outside
// [0, NumCPU), this falls back to CPU 0, which degrades the allocator to
// single-core behaviour but remains correct.
func CurrentCPU() int {
	cpu, err := unix.SchedGetcpu()
	if err != nil || cpu < 0 || cpu >= NumCPU {
		return 0
	}
	return cpu
}

// Section runs fn as a restartable critical section keyed on the calling
// goroutine's current CPU. fn is handed the CPU it was entered on; if fn
// returns retry=true the section is re-entered (migration is assumed to
// have invalidated whatever fn observed) up to a small bound, after which it
// is entered one final time and whatever it returns is accepted - this
// mirrors the "bounded-retry" liveness assumption on real rseq hardware,
// where migrations this tight in a loop are vanishingly unlikely.
//
// fn must not block, sleep, or acquire any lock other than through the
// primitives in this package - the section is held under a real mutex, so
// doing so could stall every other goroutine pinned to the same CPU slot.
func Section[R any](fn func(startCPU int) (result R, retry bool)) R {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	const maxAttempts = 64
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cpu := CurrentCPU()
		locks[cpu].Lock()
		result, retryNeeded := fn(cpu)
		locks[cpu].Unlock()
		if !retryNeeded {
			return result
		}
	}

	// Bounded-retry assumption violated (pathological scheduler
	// behaviour); run once more and accept whatever comes back rather
	// than loop forever.
	cpu := CurrentCPU()
	locks[cpu].Lock()
	result, _ := fn(cpu)
	locks[cpu].Unlock()
	return result
}
