// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"unsafe"

	"code.hybscloud.com/shmipc"
	"code.hybscloud.com/shmipc/internal/shm"
)

// OverflowMode selects which of spec §4.6's two submission-queue-full
// policies a connection uses, chosen per service by the QoS option
// enable_safe_overflow.
type OverflowMode int

const (
	// OverflowDisabled fails Push when the submission queue is full; the
	// publisher drops the sample for this subscriber and the slot stays
	// loaned until the subscriber eventually drains the queue.
	OverflowDisabled OverflowMode = iota
	// OverflowEnabled evicts and returns the oldest queued offset on a full
	// Push so the publisher can reclaim it immediately.
	OverflowEnabled
)

// Connection is the shared-memory object backing one publisher-subscriber
// pair (spec §4.6, C6): a submission queue of offsets running
// publisher→subscriber and a retrieve queue running the reverse direction
// once the subscriber is done borrowing a sample. Both queues share one
// capacity, `subscriber_buffer_size + subscriber_max_borrowed_samples`.
type Connection struct {
	segment *shm.Segment
	mode    OverflowMode

	submissionPlain    *shmipc.IndexQueue
	submissionOverflow *shmipc.SafelyOverflowingIndexQueue
	retrieve           *shmipc.IndexQueue
}

// ConnectionName derives the shared-memory object name spec §4.3 assigns
// connections: "pubid_subid".
func ConnectionName(publisher, subscriber shmipc.PortID) string {
	return fmt.Sprintf("%s_%s", publisher.String(), subscriber.String())
}

func connectionSegmentSize(capacity int, mode OverflowMode) int {
	var submissionSize uintptr
	if mode == OverflowEnabled {
		submissionSize = shmipc.SafelyOverflowingIndexQueueBufferSize(capacity)
	} else {
		submissionSize = shmipc.IndexQueueBufferSize(capacity)
	}
	retrieveSize := shmipc.IndexQueueBufferSize(capacity)
	return int(submissionSize + retrieveSize)
}

// CreateConnection creates the named connection segment, sized and
// initialized for capacity and mode. Called by whichever of the publisher
// or subscriber performs reconciliation first (spec §4.6: "created by the
// first participant").
func CreateConnection(directory, name string, capacity int, mode OverflowMode) (*Connection, error) {
	seg, err := shm.Create(directory, name, connectionSegmentSize(capacity, mode))
	if err != nil {
		return nil, fmt.Errorf("transport: create connection %s: %w", name, err)
	}
	return newConnection(seg, capacity, mode, true), nil
}

// OpenConnection opens an existing connection segment without
// re-initializing its queues.
func OpenConnection(directory, name string, capacity int, mode OverflowMode) (*Connection, error) {
	seg, err := shm.Open(directory, name, connectionSegmentSize(capacity, mode))
	if err != nil {
		return nil, fmt.Errorf("transport: open connection %s: %w", name, err)
	}
	return newConnection(seg, capacity, mode, false), nil
}

func newConnection(seg *shm.Segment, capacity int, mode OverflowMode, fresh bool) *Connection {
	base := unsafe.Pointer(&seg.Bytes()[0])
	c := &Connection{segment: seg, mode: mode}

	var submissionSize uintptr
	if mode == OverflowEnabled {
		c.submissionOverflow = shmipc.NewSafelyOverflowingIndexQueueAt(base, capacity, fresh)
		submissionSize = shmipc.SafelyOverflowingIndexQueueBufferSize(capacity)
	} else {
		c.submissionPlain = shmipc.NewIndexQueueAt(base, capacity, fresh)
		submissionSize = shmipc.IndexQueueBufferSize(capacity)
	}
	c.retrieve = shmipc.NewIndexQueueAt(unsafe.Add(base, submissionSize), capacity, fresh)
	return c
}

// Close unmaps the connection's segment. Callers unlink the name once the
// last of publisher/subscriber has dropped (spec §6: connections are
// "removed on last drop").
func (c *Connection) Close() error { return c.segment.Close() }

// UnlinkConnection removes a connection's backing segment file.
func UnlinkConnection(directory, name string) error { return shm.Unlink(directory, name) }

// Capacity returns the connection's queue capacity.
func (c *Connection) Capacity() int {
	if c.mode == OverflowEnabled {
		return c.submissionOverflow.Cap()
	}
	return c.submissionPlain.Cap()
}

// Mode reports the connection's overflow mode.
func (c *Connection) Mode() OverflowMode { return c.mode }

// SubmissionProducer is the publisher-side handle onto the submission
// queue, abstracting over the two overflow modes of spec §4.6.
type SubmissionProducer struct {
	plain    *shmipc.IndexQueueProducer
	overflow *shmipc.SafelyOverflowingIndexQueueProducer
}

// AcquireSubmissionProducer claims the publisher's single producer token on
// the submission queue.
func (c *Connection) AcquireSubmissionProducer() (*SubmissionProducer, error) {
	if c.mode == OverflowEnabled {
		p, err := c.submissionOverflow.AcquireProducer()
		if err != nil {
			return nil, err
		}
		return &SubmissionProducer{overflow: p}, nil
	}
	p, err := c.submissionPlain.AcquireProducer()
	if err != nil {
		return nil, err
	}
	return &SubmissionProducer{plain: p}, nil
}

// Push submits offset. In OverflowDisabled mode a full queue returns
// ErrWouldBlock — the caller drops the sample for this subscriber per spec
// §4.6's table. In OverflowEnabled mode the oldest offset is evicted and
// returned (didEvict=true) so the publisher can reclaim it immediately.
func (p *SubmissionProducer) Push(offset uint64) (evicted uint64, didEvict bool, err error) {
	if p.overflow != nil {
		evicted, didEvict = p.overflow.Push(offset)
		return evicted, didEvict, nil
	}
	err = p.plain.Push(offset)
	return 0, false, err
}

// Release returns the submission producer token.
func (p *SubmissionProducer) Release() {
	if p.overflow != nil {
		p.overflow.Release()
		return
	}
	p.plain.Release()
}

// SubmissionConsumer is the subscriber-side handle onto the submission
// queue.
type SubmissionConsumer struct {
	plain    *shmipc.IndexQueueConsumer
	overflow *shmipc.SafelyOverflowingIndexQueueConsumer
}

// AcquireSubmissionConsumer claims the subscriber's single consumer token.
func (c *Connection) AcquireSubmissionConsumer() (*SubmissionConsumer, error) {
	if c.mode == OverflowEnabled {
		cons, err := c.submissionOverflow.AcquireConsumer()
		if err != nil {
			return nil, err
		}
		return &SubmissionConsumer{overflow: cons}, nil
	}
	cons, err := c.submissionPlain.AcquireConsumer()
	if err != nil {
		return nil, err
	}
	return &SubmissionConsumer{plain: cons}, nil
}

// Pop removes and returns the oldest submitted offset. Returns
// ErrWouldBlock if empty.
func (c *SubmissionConsumer) Pop() (uint64, error) {
	if c.overflow != nil {
		return c.overflow.Pop()
	}
	return c.plain.Pop()
}

// Release returns the submission consumer token.
func (c *SubmissionConsumer) Release() {
	if c.overflow != nil {
		c.overflow.Release()
		return
	}
	c.plain.Release()
}

// AcquireRetrieveProducer claims the subscriber's producer token on the
// retrieve queue: the subscriber pushes an offset back once done borrowing
// the sample it names.
func (c *Connection) AcquireRetrieveProducer() (*shmipc.IndexQueueProducer, error) {
	return c.retrieve.AcquireProducer()
}

// AcquireRetrieveConsumer claims the publisher's consumer token on the
// retrieve queue, used during reclaim to return buckets to the pool
// allocator.
func (c *Connection) AcquireRetrieveConsumer() (*shmipc.IndexQueueConsumer, error) {
	return c.retrieve.AcquireConsumer()
}
