// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shm

import (
	"errors"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/shmipc"
)

// errRegionExhausted is raised via shmipc.Abort when a segment's layout
// overruns the region reserved for it at creation time — always a sizing
// bug in the caller that computed the segment size, never a recoverable
// runtime condition.
var errRegionExhausted = errors.New("shm: bump allocator region exhausted")

// BumpAllocator is a monotonic, never-freeing offset allocator over a
// segment's data region, used to lay out a service's fixed set of
// relocatable structures (registries, dynamic config header, connection
// queues) once at segment-creation time. It is not a general-purpose
// allocator: nothing is ever freed back to it, matching the original's
// static, build-time-sized shared-memory layout (spec §9 "Relocatable data
// structures").
type BumpAllocator struct {
	base   unsafe.Pointer
	size   uintptr
	offset atomix.Uintptr
}

// NewBumpAllocator creates an allocator over the size bytes starting at
// base. fresh must be true for exactly the participant that creates the
// segment; later openers pass fresh=false and must request allocations in
// the exact same order to reconstruct the same layout.
func NewBumpAllocator(base unsafe.Pointer, size uintptr, fresh bool) *BumpAllocator {
	a := &BumpAllocator{base: base, size: size}
	if fresh {
		a.offset.StoreRelaxed(0)
	}
	return a
}

// Alloc reserves n bytes aligned to align (which must be a power of two)
// and returns a pointer to them plus their offset from base. Panics if the
// region is exhausted: a layout overrun is a configuration bug, not a
// recoverable runtime condition.
func (a *BumpAllocator) Alloc(n uintptr, align uintptr) (unsafe.Pointer, uintptr) {
	for {
		cur := a.offset.LoadAcquire()
		aligned := (cur + align - 1) &^ (align - 1)
		next := aligned + n
		if next > a.size {
			shmipc.Abort(errRegionExhausted)
		}
		if a.offset.CompareAndSwapAcqRel(cur, next) {
			return unsafe.Add(a.base, aligned), aligned
		}
	}
}

// AtOffset returns a pointer into the segment at the given byte offset,
// for reconstructing a structure an earlier Alloc call placed there.
func (a *BumpAllocator) AtOffset(offset uintptr) unsafe.Pointer {
	return unsafe.Add(a.base, offset)
}

// Used returns the number of bytes allocated so far.
func (a *BumpAllocator) Used() uintptr {
	return a.offset.LoadAcquire()
}

// Remaining returns the number of bytes left in the region.
func (a *BumpAllocator) Remaining() uintptr {
	return a.size - a.Used()
}
