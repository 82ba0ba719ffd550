// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shm

import (
	"unsafe"

	"code.hybscloud.com/shmipc"
)

// PoolAllocator is a fixed-bucket free-list allocator over a segment's
// sample-payload region: every bucket is bucketSize bytes (a type's size
// rounded up to its alignment, spec §3 "Data segment"), and buckets are
// addressed by byte offset from base, never by pointer, so the pool can be
// shared across processes mapping the segment at different addresses.
//
// The free list itself is a shmipc.UniqueIndexSet indexing bucket slots;
// PoolAllocator only adds the slot-index-to-byte-offset translation on top.
type PoolAllocator struct {
	free       *shmipc.UniqueIndexSet
	base       unsafe.Pointer
	bucketSize uintptr
	capacity   int
}

// NewPoolAllocator creates a process-local pool of capacity buckets, each
// bucketSize bytes, backed by freshly allocated memory.
func NewPoolAllocator(capacity int, bucketSize uintptr) *PoolAllocator {
	buf := make([]byte, uintptr(capacity)*bucketSize)
	return &PoolAllocator{
		free:       shmipc.NewUniqueIndexSet(capacity),
		base:       unsafe.Pointer(&buf[0]),
		bucketSize: bucketSize,
		capacity:   capacity,
	}
}

// NewPoolAllocatorAt builds a pool whose free-list cells live at freeListPtr
// (shmipc.UniqueIndexSetCellsSize(capacity) bytes) and whose buckets live at
// dataPtr (capacity*bucketSize bytes), e.g. the buckets of a publisher's
// data segment. fresh must be true for exactly the participant that
// initializes the free list.
func NewPoolAllocatorAt(freeListPtr, dataPtr unsafe.Pointer, capacity int, bucketSize uintptr, fresh bool) *PoolAllocator {
	return &PoolAllocator{
		free:       shmipc.NewUniqueIndexSetAt(freeListPtr, capacity, fresh),
		base:       dataPtr,
		bucketSize: bucketSize,
		capacity:   capacity,
	}
}

// PoolAllocatorLayout returns the byte sizes NewPoolAllocatorAt needs for
// its free-list cells and its bucket data, respectively.
func PoolAllocatorLayout(capacity int, bucketSize uintptr) (freeListSize, dataSize uintptr) {
	return shmipc.UniqueIndexSetCellsSize(capacity), uintptr(capacity) * bucketSize
}

// Get acquires a free bucket and returns its slot index, pointer, and byte
// offset from base. Returns ok=false if the pool is exhausted.
func (p *PoolAllocator) Get() (slot int, ptr unsafe.Pointer, offset uintptr, ok bool) {
	slot, ok = p.free.Acquire()
	if !ok {
		return 0, nil, 0, false
	}
	offset = uintptr(slot) * p.bucketSize
	return slot, unsafe.Add(p.base, offset), offset, true
}

// Put returns the bucket at slot to the pool.
func (p *PoolAllocator) Put(slot int) {
	p.free.Release(slot)
}

// AtOffset returns a pointer to the bucket at the given byte offset, for
// resolving an offset read off a connection's index queue into an address
// in this process's mapping of the segment.
func (p *PoolAllocator) AtOffset(offset uintptr) unsafe.Pointer {
	return unsafe.Add(p.base, offset)
}

// SlotOf returns the bucket slot index for a given byte offset.
func (p *PoolAllocator) SlotOf(offset uintptr) int {
	return int(offset / p.bucketSize)
}

// Cap returns the pool's bucket count.
func (p *PoolAllocator) Cap() int { return p.capacity }

// BucketSize returns the size in bytes of each bucket.
func (p *PoolAllocator) BucketSize() uintptr { return p.bucketSize }

// AlignUp rounds n up to the nearest multiple of align, which must be a
// power of two. Used to derive a publish-subscribe service's bucket size
// from its static config's type_size/type_alignment (spec §3 "Data
// segment").
func AlignUp(n, align uintptr) uintptr {
	if align == 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}
