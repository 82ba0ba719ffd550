// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmipc

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// UniqueIndexSet is a bounded free list of integer indices in [0, N) usable
// concurrently from multiple threads, and — when placed over shared memory
// with NewUniqueIndexSetAt — from multiple processes.
//
// Internally a Treiber-style stack of next-free links. The head pointer and
// a generation counter are packed into a single 64-bit word so a single CAS
// advances both, closing the classic ABA window: two Acquire/Release cycles
// that return the same index cannot be confused with a single one because
// the generation always differs.
//
// Layout is relocation-safe: NewUniqueIndexSetAt takes a raw pointer to the
// packed head word and the cell array rather than owning Go memory, so two
// processes mapping the same shared-memory segment at different virtual
// addresses can each build their own UniqueIndexSet header pointing at the
// same underlying head and cells.
type UniqueIndexSet struct {
	head     *atomix.Uint64 // packed: generation<<32 | (index+1), 0 == empty
	next     []uint32
	capacity uint32
}

const uniqueSetEmpty = 0

// NewUniqueIndexSet creates a process-local free list over [0, capacity).
// All indices start free.
func NewUniqueIndexSet(capacity int) *UniqueIndexSet {
	if capacity <= 0 || capacity > 1<<31 {
		panic("shmipc: UniqueIndexSet capacity out of range")
	}
	s := &UniqueIndexSet{
		head:     new(atomix.Uint64),
		next:     make([]uint32, capacity),
		capacity: uint32(capacity),
	}
	s.initChain()
	return s
}

// NewUniqueIndexSetAt builds a UniqueIndexSet whose head word and cell array
// live at ptr, which must reference UniqueIndexSetCellsSize(capacity) bytes
// (the 8-byte packed head word followed by one uint32 per cell) of memory
// already reserved for exclusive use by this set, e.g. memory returned by a
// shared-memory allocator's Init step. Exactly one participant across all
// processes must call this with fresh=true, to run initChain once; later
// openers use fresh=false to attach to the already-initialized chain.
func NewUniqueIndexSetAt(ptr unsafe.Pointer, capacity int, fresh bool) *UniqueIndexSet {
	if capacity <= 0 || capacity > 1<<31 {
		panic("shmipc: UniqueIndexSet capacity out of range")
	}
	s := &UniqueIndexSet{
		head:     (*atomix.Uint64)(ptr),
		next:     unsafe.Slice((*uint32)(unsafe.Add(ptr, unsafe.Sizeof(atomix.Uint64{}))), capacity),
		capacity: uint32(capacity),
	}
	if fresh {
		s.initChain()
	}
	return s
}

// UniqueIndexSetCellsSize returns the number of bytes NewUniqueIndexSetAt
// needs for a set of the given capacity: the packed head word plus the cells.
func UniqueIndexSetCellsSize(capacity int) uintptr {
	return unsafe.Sizeof(atomix.Uint64{}) + uintptr(capacity)*unsafe.Sizeof(uint32(0))
}

func (s *UniqueIndexSet) initChain() {
	for i := uint32(0); i < s.capacity; i++ {
		if i+1 < s.capacity {
			s.next[i] = i + 1 + 1 // next[i] stores (nextIndex+1); 0 means end
		} else {
			s.next[i] = 0
		}
	}
	s.head.StoreRelaxed(pack(0, 0+1))
}

func pack(generation uint32, indexPlus1 uint32) uint64 {
	return uint64(generation)<<32 | uint64(indexPlus1)
}

func unpack(word uint64) (generation uint32, indexPlus1 uint32) {
	return uint32(word >> 32), uint32(word)
}

// Acquire removes and returns a free index. Wait-free on the success path:
// at most one CAS retry loop, no blocking. Returns (0, false) if the set is
// exhausted.
func (s *UniqueIndexSet) Acquire() (index int, ok bool) {
	var sw spin.Wait
	for {
		word := s.head.LoadAcquire()
		gen, idxPlus1 := unpack(word)
		if idxPlus1 == uniqueSetEmpty {
			return 0, false
		}
		idx := idxPlus1 - 1
		nextPlus1 := s.next[idx]
		newWord := pack(gen+1, nextPlus1)
		if s.head.CompareAndSwapAcqRel(word, newWord) {
			return int(idx), true
		}
		sw.Once()
	}
}

// Release returns index to the free list. Lock-free: a CAS retry loop with
// no upper bound, but every failed attempt is due to a concurrent
// Acquire/Release making progress elsewhere.
//
// Release must only be called with an index previously returned by Acquire
// and not yet released; releasing an index twice corrupts the free list
// (the caller, not UniqueIndexSet, owns that invariant — the same contract
// as a free-list allocator's free()).
func (s *UniqueIndexSet) Release(index int) {
	if index < 0 || uint32(index) >= s.capacity {
		panic("shmipc: UniqueIndexSet.Release: index out of range")
	}
	var sw spin.Wait
	for {
		word := s.head.LoadAcquire()
		gen, idxPlus1 := unpack(word)
		s.next[index] = idxPlus1
		newWord := pack(gen+1, uint32(index)+1)
		if s.head.CompareAndSwapAcqRel(word, newWord) {
			return
		}
		sw.Once()
	}
}

// Cap returns the set's capacity.
func (s *UniqueIndexSet) Cap() int {
	return int(s.capacity)
}
