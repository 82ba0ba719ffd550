// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmipc

import (
	"unsafe"

	"code.hybscloud.com/atomix"
)

// IndexQueue is a bounded single-producer single-consumer queue of uint64
// offsets, the wire representation of a shared-memory pointer (spec §4.2,
// "plain SPSC").
//
// Capacity is fixed at construction and is NOT rounded to a power of two —
// unlike code.hybscloud.com/lfq's generic queues, IndexQueue uses the
// producer/consumer cursors modulo capacity directly (Lamport ring buffer
// without the mask trick), because connection capacities
// (subscriber_max_buffer_size + subscriber_max_borrowed_samples) are
// small, QoS-chosen values with no reason to waste memory rounding up.
//
// Exactly one producer and one consumer may operate on an IndexQueue at a
// time; AcquireProducer/AcquireConsumer enforce this with a CAS-guarded
// token, matching the acquire_producer/acquire_consumer contract of the
// original's spsc::index_queue.
type IndexQueue struct {
	*indexQueueControl
	buffer   []uint64
	capacity uint64
}

// indexQueueControl holds an IndexQueue's cursors and token flags.
// NewIndexQueueAt places it at ptr, ahead of the ring buffer, so every view
// built over the same memory shares them.
type indexQueueControl struct {
	_           padShmipc
	head        atomix.Uint64 // consumer cursor
	_           padShmipc
	tail        atomix.Uint64 // producer cursor
	_           padShmipc
	hasProducer atomix.Bool
	hasConsumer atomix.Bool
}

type padShmipc [64]byte

// NewIndexQueue creates a process-local IndexQueue of the given capacity.
func NewIndexQueue(capacity int) *IndexQueue {
	if capacity < 1 {
		panic("shmipc: IndexQueue capacity must be >= 1")
	}
	q := &IndexQueue{indexQueueControl: new(indexQueueControl), buffer: make([]uint64, capacity), capacity: uint64(capacity)}
	q.hasProducer.StoreRelaxed(true)
	q.hasConsumer.StoreRelaxed(true)
	return q
}

// NewIndexQueueAt builds an IndexQueue whose cursors, token flags and ring
// buffer live at ptr (IndexQueueBufferSize(capacity) bytes), for placement
// inside a shared-memory connection object. fresh must be true for exactly
// one participant (the one that creates the connection); later openers pass
// fresh=false.
func NewIndexQueueAt(ptr unsafe.Pointer, capacity int, fresh bool) *IndexQueue {
	if capacity < 1 {
		panic("shmipc: IndexQueue capacity must be >= 1")
	}
	q := &IndexQueue{
		indexQueueControl: (*indexQueueControl)(ptr),
		buffer:            unsafe.Slice((*uint64)(unsafe.Add(ptr, unsafe.Sizeof(indexQueueControl{}))), capacity),
		capacity:          uint64(capacity),
	}
	if fresh {
		q.hasProducer.StoreRelaxed(true)
		q.hasConsumer.StoreRelaxed(true)
	}
	return q
}

// IndexQueueBufferSize returns the number of bytes NewIndexQueueAt needs for
// the control block and the ring buffer of the given capacity.
func IndexQueueBufferSize(capacity int) uintptr {
	return unsafe.Sizeof(indexQueueControl{}) + uintptr(capacity)*unsafe.Sizeof(uint64(0))
}

// Cap returns the queue's capacity.
func (q *IndexQueue) Cap() int { return int(q.capacity) }

// IndexQueueProducer is the producer-side token of an IndexQueue.
type IndexQueueProducer struct {
	q *IndexQueue
}

// IndexQueueConsumer is the consumer-side token of an IndexQueue.
type IndexQueueConsumer struct {
	q *IndexQueue
}

// AcquireProducer claims the single producer token. Returns
// ErrAlreadyAcquired if another producer already holds it.
func (q *IndexQueue) AcquireProducer() (*IndexQueueProducer, error) {
	if !q.hasProducer.CompareAndSwapAcqRel(true, false) {
		return nil, ErrAlreadyAcquired
	}
	return &IndexQueueProducer{q: q}, nil
}

// AcquireConsumer claims the single consumer token. Returns
// ErrAlreadyAcquired if another consumer already holds it.
func (q *IndexQueue) AcquireConsumer() (*IndexQueueConsumer, error) {
	if !q.hasConsumer.CompareAndSwapAcqRel(true, false) {
		return nil, ErrAlreadyAcquired
	}
	return &IndexQueueConsumer{q: q}, nil
}

// Release returns the producer token, allowing a later AcquireProducer to
// succeed. Call when the publisher side of a connection is torn down.
func (p *IndexQueueProducer) Release() {
	p.q.hasProducer.StoreRelease(true)
}

// Release returns the consumer token.
func (c *IndexQueueConsumer) Release() {
	c.q.hasConsumer.StoreRelease(true)
}

// Push appends offset to the queue. Returns ErrWouldBlock if full.
func (p *IndexQueueProducer) Push(offset uint64) error {
	q := p.q
	tail := q.tail.LoadRelaxed()
	head := q.head.LoadAcquire()
	if tail-head >= q.capacity {
		return ErrWouldBlock
	}
	q.buffer[tail%q.capacity] = offset
	q.tail.StoreRelease(tail + 1)
	return nil
}

// Pop removes and returns the oldest offset. Returns (0, ErrWouldBlock) if
// empty.
func (c *IndexQueueConsumer) Pop() (uint64, error) {
	q := c.q
	head := q.head.LoadRelaxed()
	tail := q.tail.LoadAcquire()
	if head >= tail {
		return 0, ErrWouldBlock
	}
	v := q.buffer[head%q.capacity]
	q.head.StoreRelease(head + 1)
	return v, nil
}

// Len returns an advisory (possibly stale under concurrency) length.
func (q *IndexQueue) Len() int {
	tail := q.tail.LoadAcquire()
	head := q.head.LoadAcquire()
	return int(tail - head)
}

// IsEmpty reports an advisory emptiness.
func (q *IndexQueue) IsEmpty() bool { return q.Len() <= 0 }

// IsFull reports an advisory fullness.
func (q *IndexQueue) IsFull() bool { return q.Len() >= int(q.capacity) }
