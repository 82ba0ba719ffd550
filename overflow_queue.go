// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmipc

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// SafelyOverflowingIndexQueue is a bounded SPSC queue of uint64 offsets that
// never blocks the producer: when full, Push atomically evicts and returns
// the oldest element instead of failing (spec §4.2). It physically holds
// capacity+1 slots so the evict-on-full step is race-free against a
// concurrent Pop.
//
// Ported from the original's
// elkodon_bb_lock_free::spsc::safely_overflowing_index_queue, restated with
// code.hybscloud.com/atomix's explicit-ordering API and
// code.hybscloud.com/spin's CAS backoff in place of std::sync::atomic.
type SafelyOverflowingIndexQueue struct {
	*overflowQueueControl
	buffer   []uint64 // capacity+1 slots
	capacity uint64
}

// overflowQueueControl holds a SafelyOverflowingIndexQueue's cursors and
// token flags. NewSafelyOverflowingIndexQueueAt places it at ptr, ahead of
// the ring buffer, so every view built over the same memory shares them.
type overflowQueueControl struct {
	_           padShmipc
	write       atomix.Uint64 // producer cursor, monotonic
	_           padShmipc
	read        atomix.Uint64 // consumer cursor, monotonic; also advanced by Push on overflow
	_           padShmipc
	hasProducer atomix.Bool
	hasConsumer atomix.Bool
}

// NewSafelyOverflowingIndexQueue creates a process-local queue.
func NewSafelyOverflowingIndexQueue(capacity int) *SafelyOverflowingIndexQueue {
	if capacity < 1 {
		panic("shmipc: SafelyOverflowingIndexQueue capacity must be >= 1")
	}
	q := &SafelyOverflowingIndexQueue{
		overflowQueueControl: new(overflowQueueControl),
		buffer:               make([]uint64, capacity+1),
		capacity:             uint64(capacity),
	}
	q.hasProducer.StoreRelaxed(true)
	q.hasConsumer.StoreRelaxed(true)
	return q
}

// NewSafelyOverflowingIndexQueueAt builds a queue whose cursors, token flags
// and ring buffer live at ptr (SafelyOverflowingIndexQueueBufferSize(capacity)
// bytes), for placement in a shared-memory connection.
func NewSafelyOverflowingIndexQueueAt(ptr unsafe.Pointer, capacity int, fresh bool) *SafelyOverflowingIndexQueue {
	if capacity < 1 {
		panic("shmipc: SafelyOverflowingIndexQueue capacity must be >= 1")
	}
	q := &SafelyOverflowingIndexQueue{
		overflowQueueControl: (*overflowQueueControl)(ptr),
		buffer:               unsafe.Slice((*uint64)(unsafe.Add(ptr, unsafe.Sizeof(overflowQueueControl{}))), capacity+1),
		capacity:             uint64(capacity),
	}
	if fresh {
		q.hasProducer.StoreRelaxed(true)
		q.hasConsumer.StoreRelaxed(true)
	}
	return q
}

// SafelyOverflowingIndexQueueBufferSize returns the bytes
// NewSafelyOverflowingIndexQueueAt needs for the given capacity.
func SafelyOverflowingIndexQueueBufferSize(capacity int) uintptr {
	return unsafe.Sizeof(overflowQueueControl{}) + uintptr(capacity+1)*unsafe.Sizeof(uint64(0))
}

// Cap returns the queue's capacity (not counting the extra overflow slot).
func (q *SafelyOverflowingIndexQueue) Cap() int { return int(q.capacity) }

// SafelyOverflowingIndexQueueProducer is the producer token.
type SafelyOverflowingIndexQueueProducer struct {
	q *SafelyOverflowingIndexQueue
}

// SafelyOverflowingIndexQueueConsumer is the consumer token.
type SafelyOverflowingIndexQueueConsumer struct {
	q *SafelyOverflowingIndexQueue
}

// AcquireProducer claims the single producer token.
func (q *SafelyOverflowingIndexQueue) AcquireProducer() (*SafelyOverflowingIndexQueueProducer, error) {
	if !q.hasProducer.CompareAndSwapAcqRel(true, false) {
		return nil, ErrAlreadyAcquired
	}
	return &SafelyOverflowingIndexQueueProducer{q: q}, nil
}

// AcquireConsumer claims the single consumer token.
func (q *SafelyOverflowingIndexQueue) AcquireConsumer() (*SafelyOverflowingIndexQueueConsumer, error) {
	if !q.hasConsumer.CompareAndSwapAcqRel(true, false) {
		return nil, ErrAlreadyAcquired
	}
	return &SafelyOverflowingIndexQueueConsumer{q: q}, nil
}

// Release returns the producer token.
func (p *SafelyOverflowingIndexQueueProducer) Release() { p.q.hasProducer.StoreRelease(true) }

// Release returns the consumer token.
func (c *SafelyOverflowingIndexQueueConsumer) Release() { c.q.hasConsumer.StoreRelease(true) }

func (q *SafelyOverflowingIndexQueue) at(position uint64) uint64 {
	return position % (q.capacity + 1)
}

// Push adds offset to the queue. If the queue was full, the oldest offset is
// evicted and returned as (evicted, true); otherwise returns (0, false).
//
// Must not be called concurrently by more than one goroutine — callers hold
// the SafelyOverflowingIndexQueueProducer token to enforce this.
func (p *SafelyOverflowingIndexQueueProducer) Push(offset uint64) (evicted uint64, didEvict bool) {
	q := p.q
	write := q.write.LoadRelaxed()
	read := q.read.LoadRelaxed()
	wasFull := write == read+q.capacity

	q.buffer[q.at(write)] = offset
	q.write.StoreRelease(write + 1)

	if !wasFull {
		return 0, false
	}
	if q.read.CompareAndSwapAcqRel(read, read+1) {
		return q.buffer[q.at(read)], true
	}
	return 0, false
}

// Pop removes and returns the oldest offset. Returns (0, ErrWouldBlock) if
// empty. Uses a CAS loop on the read cursor because Push can also advance it
// concurrently on overflow.
func (c *SafelyOverflowingIndexQueueConsumer) Pop() (uint64, error) {
	q := c.q
	var sw spin.Wait
	read := q.read.LoadRelaxed()
	if read == q.write.LoadAcquire() {
		return 0, ErrWouldBlock
	}
	for {
		value := q.buffer[q.at(read)]
		if q.read.CompareAndSwapAcqRel(read, read+1) {
			return value, nil
		}
		read = q.read.LoadRelaxed()
		sw.Once()
	}
}

// Len returns an advisory length.
func (q *SafelyOverflowingIndexQueue) Len() int {
	w, r := q.write.LoadAcquire(), q.read.LoadAcquire()
	return int(w - r)
}

// IsEmpty reports an advisory emptiness.
func (q *SafelyOverflowingIndexQueue) IsEmpty() bool { return q.Len() <= 0 }

// IsFull reports an advisory fullness.
func (q *SafelyOverflowingIndexQueue) IsFull() bool { return q.Len() >= int(q.capacity) }
