// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shm

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/shmipc"
)

// RelocatablePointer stores a signed byte distance from its own address to
// a pointee, instead of an absolute address, so the same bytes remain valid
// no matter which virtual address a process mapped the containing segment
// at (spec §9 "Relocatable data structures"). Its zero value is
// uninitialized; Init must run exactly once before Get is used.
//
// This mirrors the original's RelocatablePointer<T> one-shot
// Init/uninitialized-access contract, adapted to Go's lack of
// placement-new: Init computes and stores the offset at the moment both
// this pointer's own address and the pointee's address are known.
type RelocatablePointer struct {
	distance atomix.Int64
	init     atomix.Bool
}

// Init sets p to point at target. Panics if called twice: a relocatable
// pointer is meant to be placed by exactly one writer at structure-creation
// time, matching the original's double-init abort policy (spec §7).
func (p *RelocatablePointer) Init(target unsafe.Pointer) {
	if !p.init.CompareAndSwapAcqRel(false, true) {
		shmipc.Abort(shmipc.ErrDoubleInit)
	}
	self := unsafe.Pointer(p)
	p.distance.StoreRelease(int64(uintptr(target)) - int64(uintptr(self)))
}

// Get returns the pointee's address in this process's address space.
// Panics if Init has not yet run.
func (p *RelocatablePointer) Get() unsafe.Pointer {
	if !p.init.LoadAcquire() {
		shmipc.Abort(shmipc.ErrNotInitialized)
	}
	self := int64(uintptr(unsafe.Pointer(p)))
	return unsafe.Pointer(uintptr(self + p.distance.LoadAcquire()))
}

// IsInitialized reports whether Init has run.
func (p *RelocatablePointer) IsInitialized() bool {
	return p.init.LoadAcquire()
}
