// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package port

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"unsafe"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/shmipc"
	"code.hybscloud.com/shmipc/internal/shm"
	"code.hybscloud.com/shmipc/service"
	"code.hybscloud.com/shmipc/storage"
	"code.hybscloud.com/shmipc/transport"
)

// subConn is the subscriber-side state of one incoming connection: the
// shared-memory connection object, this side's two token handles, and a
// read-only mapping of the publisher's data segment for offset-to-pointer
// translation. A subscriber never allocates from the publisher's pool, so
// no shm.PoolAllocator is reconstructed here — only unsafe.Add against the
// segment's base is needed (spec §6 "Data segment").
type subConn struct {
	name             string
	conn             *transport.Connection
	consumer         *transport.SubmissionConsumer
	retrieveProducer *shmipc.IndexQueueProducer
	dataSeg          *shm.Segment
	base             unsafe.Pointer
}

// Subscriber is C8's subscriber port: reconciles against the publisher
// registry, polls each connected publisher's submission queue round-robin,
// and enforces subscriber_max_borrowed_samples against outstanding Sample
// handles (spec §4.4.2).
type Subscriber struct {
	id   shmipc.PortID
	svc  *service.PubSubService
	dirs storage.Directories

	bucketSize  uintptr
	capacity    int
	mode        transport.OverflowMode
	maxBorrowed int
	borrowed    int
	cursor      int

	publishers *shmipc.ContainerState
	rec        *reconciler[*subConn]

	onConnectionFailure func(shmipc.PortID, error) DegradationAction

	guard  *shmipc.RegistryGuard
	closed bool
}

// SubscriberOptions configures a Subscriber at construction.
type SubscriberOptions struct {
	ConnectionCapacity           int
	SubscriberMaxBorrowedSamples int

	// OnConnectionFailure is the subscriber's degradation callback (spec
	// §4.4.2 "an optional degradation callback"), invoked once per peer
	// whose connection could not be (re)established during reconciliation.
	// Its return value selects whether that failure is silently skipped
	// (Ignore), logged (Warn), or escalated to ErrReconciliationFailed
	// (Fail). Nil defaults to Warn for every failing peer (spec §4.4 "(or
	// warn and skip)").
	OnConnectionFailure func(shmipc.PortID, error) DegradationAction
}

// NewSubscriber constructs a subscriber for svc, following the same
// lifecycle ordering as NewPublisher: build local state, reconcile once,
// then register last.
func NewSubscriber(svc *service.PubSubService, opts SubscriberOptions) (*Subscriber, error) {
	id := shmipc.NewPortID()
	dirs := svc.Directories()

	align := svc.QoS().TypeAlignment
	if align == 0 {
		align = 1
	}
	bucketSize := shm.AlignUp(uintptr(svc.QoS().TypeSize), uintptr(align))

	mode := transport.OverflowDisabled
	if svc.QoS().EnableSafeOverflow {
		mode = transport.OverflowEnabled
	}

	s := &Subscriber{
		id:                  id,
		svc:                 svc,
		dirs:                dirs,
		bucketSize:          bucketSize,
		capacity:            opts.ConnectionCapacity,
		mode:                mode,
		maxBorrowed:         opts.SubscriberMaxBorrowedSamples,
		cursor:              -1,
		onConnectionFailure: opts.OnConnectionFailure,
	}
	s.publishers = svc.DynamicConfig().PubSub.Publishers.State()
	s.rec = newReconciler(s.publishers, s.openPeer, s.closePeer)

	if err := s.UpdateConnections(); err != nil {
		return nil, err
	}

	guard, err := svc.DynamicConfig().PubSub.Subscribers.Insert(id)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("port: register subscriber %s: %w", id, err)
	}
	s.guard = guard

	return s, nil
}

// ID returns this subscriber's port id.
func (s *Subscriber) ID() shmipc.PortID { return s.id }

func (s *Subscriber) openPeer(_ int, publisherID shmipc.PortID) (*subConn, error) {
	name := transport.ConnectionName(publisherID, s.id)
	conn, err := transport.CreateConnection(s.dirs.PathHint, name, s.capacity, s.mode)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			conn, err = transport.OpenConnection(s.dirs.PathHint, name, s.capacity, s.mode)
		}
		if err != nil {
			return nil, err
		}
	}
	consumer, err := conn.AcquireSubmissionConsumer()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	retrieveProducer, err := conn.AcquireRetrieveProducer()
	if err != nil {
		consumer.Release()
		_ = conn.Close()
		return nil, err
	}

	dataName := publisherID.String() + dataSegmentSuffix
	var dataSeg *shm.Segment
	var lastErr error
	backoff := iox.Backoff{}
	for attempt := 0; attempt < 5; attempt++ {
		dataSeg, lastErr = shm.Open(s.dirs.PathHint, dataName, 0)
		if lastErr == nil {
			break
		}
		backoff.Wait()
	}
	if lastErr != nil {
		retrieveProducer.Release()
		consumer.Release()
		_ = conn.Close()
		return nil, fmt.Errorf("port: open data segment for publisher %s: %w", publisherID, lastErr)
	}

	return &subConn{
		name:             name,
		conn:             conn,
		consumer:         consumer,
		retrieveProducer: retrieveProducer,
		dataSeg:          dataSeg,
		base:             unsafe.Pointer(&dataSeg.Bytes()[0]),
	}, nil
}

func (s *Subscriber) closePeer(_ int, pc *subConn) {
	pc.consumer.Release()
	pc.retrieveProducer.Release()
	_ = pc.dataSeg.Close()
	_ = pc.conn.Close()
}

// UpdateConnections runs reconciliation against the current publisher set,
// invoking the subscriber's degradation callback (if any) for each peer
// whose connection could not be (re)established (spec §4.4.2).
func (s *Subscriber) UpdateConnections() error {
	return s.rec.update(fmt.Sprintf("subscriber:%s", s.id), func(slot int, id shmipc.PortID, err error) DegradationAction {
		if s.onConnectionFailure != nil {
			return s.onConnectionFailure(id, err)
		}
		return Warn
	})
}

// Receive polls connected publishers round-robin for the next available
// sample. Returns ErrNoSample if none are pending, or
// ErrExceedsMaxBorrowedSamples if the caller is already holding the
// configured maximum of unreleased Samples (spec §4.4.2, §7).
func (s *Subscriber) Receive() (*Sample, error) {
	if err := s.UpdateConnections(); err != nil {
		return nil, err
	}
	if s.maxBorrowed > 0 && s.borrowed >= s.maxBorrowed {
		return nil, ErrExceedsMaxBorrowedSamples
	}

	peers := s.rec.connections()
	if len(peers) == 0 {
		return nil, ErrNoSample
	}
	slots := make([]int, 0, len(peers))
	for slot := range peers {
		slots = append(slots, slot)
	}
	sort.Ints(slots)

	start := sort.Search(len(slots), func(i int) bool { return slots[i] > s.cursor })
	if start == len(slots) {
		start = 0
	}

	for i := 0; i < len(slots); i++ {
		idx := (start + i) % len(slots)
		slot := slots[idx]
		pc := peers[slot]
		offset, err := pc.consumer.Pop()
		if err != nil {
			continue
		}
		s.cursor = slot
		s.borrowed++
		return &Sample{
			sub:    s,
			peer:   pc,
			offset: offset,
			data:   unsafe.Slice((*byte)(unsafe.Add(pc.base, offset)), s.bucketSize),
		}, nil
	}
	return nil, ErrNoSample
}

// Close tears the subscriber down: removes it from the subscriber
// registry and closes every open connection.
func (s *Subscriber) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.guard != nil {
		s.guard.Release()
	}
	for slot, pc := range s.rec.connections() {
		s.closePeer(slot, pc)
	}
	return nil
}
