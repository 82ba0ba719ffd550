// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package port

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"github.com/sirupsen/logrus"

	"code.hybscloud.com/shmipc"
	"code.hybscloud.com/shmipc/internal/shm"
	"code.hybscloud.com/shmipc/service"
	"code.hybscloud.com/shmipc/storage"
	"code.hybscloud.com/shmipc/transport"
)

// dataSegmentSuffix names a publisher's data segment, the shared-memory
// object a publisher's pool allocator lives in and every connected
// subscriber maps read-only-by-convention (spec §6 "Data segment... keyed
// by publisher id").
const dataSegmentSuffix = ".shmipc_data"

// pubConn is the publisher-side state of one outgoing connection: the
// shared-memory connection object plus the two token handles this side of
// an SPSC pair holds (spec §4.6: producer on submission, consumer on
// retrieve).
type pubConn struct {
	name     string
	conn     *transport.Connection
	producer *transport.SubmissionProducer
	retrieve *shmipc.IndexQueueConsumer
}

type historyEntry struct {
	slot   int
	offset uint64
}

// Publisher is C8's publisher port: owns a pool-allocated data segment,
// fans samples out to every currently reconciled subscriber connection,
// and replays buffered history to newly joined subscribers (spec §4.4.1,
// SPEC_FULL.md §12 "History replay on connect").
type Publisher struct {
	id   shmipc.PortID
	svc  *service.PubSubService
	dirs storage.Directories

	dataSeg    *shm.Segment
	pool       *shm.PoolAllocator
	bucketSize uintptr
	refs       []int

	capacity int
	mode     transport.OverflowMode

	subscribers *shmipc.ContainerState
	rec         *reconciler[*pubConn]

	history      []historyEntry
	historyCap   int
	historyCount int
	historyNext  int

	guard  *shmipc.RegistryGuard
	closed bool
}

// PublisherOptions configures a Publisher at construction, the
// capacity-sizing fields spec §3's static config leaves to the service
// builder rather than the port itself.
type PublisherOptions struct {
	PoolCapacity       int
	ConnectionCapacity int
	HistorySize        int
}

// NewPublisher constructs a publisher for svc, following spec §4.4's port
// lifecycle: mint an id, build local structures, reconcile once against
// the current subscriber set, then register in the dynamic config last so
// no subscriber observes a half-initialized publisher.
func NewPublisher(svc *service.PubSubService, opts PublisherOptions) (*Publisher, error) {
	id := shmipc.NewPortID()
	dirs := svc.Directories()

	align := svc.QoS().TypeAlignment
	if align == 0 {
		align = 1
	}
	bucketSize := shm.AlignUp(uintptr(svc.QoS().TypeSize), uintptr(align))
	dataName := id.String() + dataSegmentSuffix
	seg, err := shm.Create(dirs.PathHint, dataName, int(bucketSize)*opts.PoolCapacity)
	if err != nil {
		return nil, fmt.Errorf("port: create data segment for publisher %s: %w", id, err)
	}

	freeList := make([]byte, shmipc.UniqueIndexSetCellsSize(opts.PoolCapacity))
	pool := shm.NewPoolAllocatorAt(unsafe.Pointer(&freeList[0]), unsafe.Pointer(&seg.Bytes()[0]), opts.PoolCapacity, bucketSize, true)

	mode := transport.OverflowDisabled
	if svc.QoS().EnableSafeOverflow {
		mode = transport.OverflowEnabled
	}

	p := &Publisher{
		id:         id,
		svc:        svc,
		dirs:       dirs,
		dataSeg:    seg,
		pool:       pool,
		bucketSize: bucketSize,
		refs:       make([]int, opts.PoolCapacity),
		capacity:   opts.ConnectionCapacity,
		mode:       mode,
		historyCap: opts.HistorySize,
		history:    make([]historyEntry, opts.HistorySize),
	}
	p.subscribers = svc.DynamicConfig().PubSub.Subscribers.State()
	p.rec = newReconciler(p.subscribers, p.openPeer, p.closePeer)

	if err := p.UpdateConnections(); err != nil {
		logrus.WithField("publisher", id.String()).Warnf("port: initial reconciliation: %v", err)
	}

	guard, err := svc.DynamicConfig().PubSub.Publishers.Insert(id)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("port: register publisher %s: %w", id, err)
	}
	p.guard = guard

	return p, nil
}

// ID returns this publisher's port id.
func (p *Publisher) ID() shmipc.PortID { return p.id }

func (p *Publisher) openPeer(_ int, subscriberID shmipc.PortID) (*pubConn, error) {
	name := transport.ConnectionName(p.id, subscriberID)
	conn, err := transport.CreateConnection(p.dirs.PathHint, name, p.capacity, p.mode)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			conn, err = transport.OpenConnection(p.dirs.PathHint, name, p.capacity, p.mode)
		}
		if err != nil {
			return nil, err
		}
	}
	producer, err := conn.AcquireSubmissionProducer()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	retrieve, err := conn.AcquireRetrieveConsumer()
	if err != nil {
		producer.Release()
		_ = conn.Close()
		return nil, err
	}
	pc := &pubConn{name: name, conn: conn, producer: producer, retrieve: retrieve}
	p.replayHistory(pc)
	return pc, nil
}

func (p *Publisher) closePeer(_ int, pc *pubConn) {
	p.drainRetrieve(pc)
	pc.producer.Release()
	pc.retrieve.Release()
	_ = pc.conn.Close()
	_ = transport.UnlinkConnection(p.dirs.PathHint, pc.name)
}

// UpdateConnections runs reconciliation against the current subscriber set
// (spec §4.4.1 "update_connections").
func (p *Publisher) UpdateConnections() error {
	return p.rec.update(fmt.Sprintf("publisher:%s", p.id), func(slot int, id shmipc.PortID, err error) DegradationAction {
		return Warn
	})
}

func (p *Publisher) drainRetrieve(pc *pubConn) {
	for {
		offset, err := pc.retrieve.Pop()
		if err != nil {
			return
		}
		p.decRef(p.pool.SlotOf(uintptr(offset)))
	}
}

// reclaim drains every connection's retrieve queue, per spec §4.4.1 "on
// every operation the publisher first drains each retrieve queue".
func (p *Publisher) reclaim() {
	for _, pc := range p.rec.connections() {
		p.drainRetrieve(pc)
	}
}

func (p *Publisher) incRef(slot int) { p.refs[slot]++ }

func (p *Publisher) decRef(slot int) {
	if p.refs[slot] > 0 {
		p.refs[slot]--
	}
	if p.refs[slot] == 0 {
		p.pool.Put(slot)
	}
}

func (p *Publisher) recordHistory(slot int, offset uint64) {
	if p.historyCap == 0 {
		return
	}
	if p.historyCount == p.historyCap {
		oldest := p.history[p.historyNext]
		p.decRef(oldest.slot)
	} else {
		p.historyCount++
	}
	p.history[p.historyNext] = historyEntry{slot: slot, offset: offset}
	p.incRef(slot)
	p.historyNext = (p.historyNext + 1) % p.historyCap
}

func (p *Publisher) replayHistory(pc *pubConn) {
	if p.historyCount == 0 {
		return
	}
	start := (p.historyNext - p.historyCount + p.historyCap) % p.historyCap
	for i := 0; i < p.historyCount; i++ {
		e := p.history[(start+i)%p.historyCap]
		evicted, didEvict, err := pc.producer.Push(e.offset)
		if err != nil {
			continue
		}
		p.incRef(e.slot)
		if didEvict {
			p.decRef(p.pool.SlotOf(uintptr(evicted)))
		}
	}
}

// LoanedSample is a writable bucket reserved from the publisher's pool,
// returned by Loan. Write into Payload, then either Send it or Discard it
// (spec §4.4.1 "loan").
type LoanedSample struct {
	slot   int
	offset uintptr
	data   []byte
}

// Payload returns the loaned bucket's bytes.
func (s *LoanedSample) Payload() []byte { return s.data }

// Loan reserves one bucket from the publisher's data segment pool. Returns
// ErrOutOfMemory if the pool is exhausted.
func (p *Publisher) Loan() (*LoanedSample, error) {
	p.reclaim()
	slot, ptr, offset, ok := p.pool.Get()
	if !ok {
		return nil, ErrOutOfMemory
	}
	data := unsafe.Slice((*byte)(ptr), p.bucketSize)
	return &LoanedSample{slot: slot, offset: offset, data: data}, nil
}

// Discard releases a loaned sample without sending it.
func (p *Publisher) Discard(s *LoanedSample) {
	p.pool.Put(s.slot)
}

// Send publishes s to every currently reconciled subscriber, returning the
// number that accepted it (spec §4.4.1 "send"). A connection whose
// submission queue is full drops the sample for that subscriber (non-fatal,
// logged at warn) unless safe overflow is enabled, in which case the
// oldest queued offset is evicted and reclaimed immediately.
func (p *Publisher) Send(s *LoanedSample) (int, error) {
	if err := p.UpdateConnections(); err != nil {
		logrus.WithField("publisher", p.id.String()).Warnf("port: %v", err)
	}
	p.reclaim()

	sent := 0
	offset := uint64(s.offset)
	for _, pc := range p.rec.connections() {
		evicted, didEvict, err := pc.producer.Push(offset)
		if err != nil {
			logrus.WithFields(logrus.Fields{"publisher": p.id.String(), "connection": pc.name}).
				Warnf("port: dropping sample for subscriber: %v", err)
			continue
		}
		sent++
		p.incRef(s.slot)
		if didEvict {
			p.decRef(p.pool.SlotOf(uintptr(evicted)))
		}
	}

	p.recordHistory(s.slot, offset)
	if sent == 0 && p.historyCap == 0 {
		p.pool.Put(s.slot)
	}
	return sent, nil
}

// SendCopy loans a bucket, copies data into it, and sends it in one call
// (spec §4.4.1 "send_copy").
func (p *Publisher) SendCopy(data []byte) (int, error) {
	s, err := p.Loan()
	if err != nil {
		return 0, err
	}
	n := copy(s.Payload(), data)
	if n < len(data) {
		p.Discard(s)
		return 0, fmt.Errorf("port: payload %d bytes exceeds bucket size %d", len(data), p.bucketSize)
	}
	return p.Send(s)
}

// Close tears the publisher down: removes it from the publisher registry,
// closes and unlinks every open connection, then unmaps and unlinks its
// data segment (spec §6 "Data segment... removed on publisher drop").
func (p *Publisher) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.guard != nil {
		p.guard.Release()
	}
	for slot, pc := range p.rec.connections() {
		p.closePeer(slot, pc)
	}
	if err := p.dataSeg.Close(); err != nil {
		return err
	}
	return shm.Unlink(p.dirs.PathHint, p.id.String()+dataSegmentSuffix)
}
