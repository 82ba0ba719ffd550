// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package storage

import (
	"errors"
	"fmt"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/shmipc"
	"code.hybscloud.com/shmipc/internal/shm"
)

// refcountDestroyed is the sentinel reference-count value meaning "marked
// for destruction": any concurrent IncrementReferenceCounter observes it
// and fails instead of racing a remove (spec §4.3 Drop, §9 "Reference
// counting with destruction sentinel", §5 "one-way transition").
const refcountDestroyed = ^uint64(0)

// ErrMarkedForDestruction is returned by IncrementReferenceCounter once the
// dynamic config has been marked for destruction by a concurrent Drop.
var ErrMarkedForDestruction = errors.New("storage: dynamic config marked for destruction")

// DynamicConfig is the shared-memory control block every port of a service
// maps: a CAS reference counter guarding the segment's lifetime, plus one
// or two shmipc.Registry instances (publishers+subscribers for PubSub,
// notifiers+listeners for Event).
//
// Grounded on spec §4.3/§9 and the original's
// elkodon/src/service/dynamic_config, generalized from two Rust enum
// variants (PublishSubscribe/Event) to two Go constructors sharing one
// reference-counting header.
type DynamicConfig struct {
	segment *shm.Segment
	refs    *atomix.Uint64 // lives inside segment.Bytes()

	PubSub *PubSubRegistries
	Event  *EventRegistries
}

// PubSubRegistries holds the publisher and subscriber membership sets of a
// PubSub service's dynamic config (spec §4.1, §4.4).
type PubSubRegistries struct {
	Publishers  *shmipc.Registry
	Subscribers *shmipc.Registry
}

// EventRegistries holds the notifier and listener membership sets of an
// Event service's dynamic config.
type EventRegistries struct {
	Notifiers *shmipc.Registry
	Listeners *shmipc.Registry
}

const refcountHeaderSize = 8 // one atomix.Uint64

// DynamicConfigSuffix distinguishes a service's dynamic-config segment name
// from its static-config file name even though both derive from the same
// service id (spec §6: "same hash + distinct suffix").
const DynamicConfigSuffix = ".shmipc_dynamic"

// DynamicConfigName derives the shared-memory object name for a service id.
func DynamicConfigName(id string) string {
	return id + DynamicConfigSuffix
}

// RemoveDynamicConfig removes a dynamic-config segment's backing file,
// mirroring Remove for the static config side. Call only once
// DecrementReferenceCounter has reported shouldDestroy=true.
func RemoveDynamicConfig(directory, id string) error {
	return shm.Unlink(directory, DynamicConfigName(id))
}

// CreatePubSubDynamicConfig creates and maps a fresh dynamic-config segment
// sized for a PubSub service's publisher/subscriber registries, with the
// reference counter initialized to 1 (the creator's own reference).
func CreatePubSubDynamicConfig(directory, name string, maxPublishers, maxSubscribers int) (*DynamicConfig, error) {
	size := uintptr(refcountHeaderSize) +
		shmipc.UniqueIndexSetCellsSize(maxPublishers) + registryArraysSize(maxPublishers) +
		shmipc.UniqueIndexSetCellsSize(maxSubscribers) + registryArraysSize(maxSubscribers)

	seg, err := shm.Create(directory, name, int(size))
	if err != nil {
		return nil, fmt.Errorf("storage: create dynamic config %s: %w", name, err)
	}

	dc := newDynamicConfig(seg)
	dc.refs.StoreRelease(1)

	offset := uintptr(refcountHeaderSize)
	pubFreePtr, pubBodyPtr, pubBodySize := layoutRegistry(seg, offset, maxPublishers)
	dc.PubSub = &PubSubRegistries{}
	dc.PubSub.Publishers = shmipc.NewRegistryAt(pubFreePtr, pubBodyPtr, maxPublishers, true)
	offset += shmipc.UniqueIndexSetCellsSize(maxPublishers) + pubBodySize

	subFreePtr, subBodyPtr, _ := layoutRegistry(seg, offset, maxSubscribers)
	dc.PubSub.Subscribers = shmipc.NewRegistryAt(subFreePtr, subBodyPtr, maxSubscribers, true)

	return dc, nil
}

// CreateEventDynamicConfig is CreatePubSubDynamicConfig's Event counterpart.
func CreateEventDynamicConfig(directory, name string, maxNotifiers, maxListeners int) (*DynamicConfig, error) {
	size := uintptr(refcountHeaderSize) +
		shmipc.UniqueIndexSetCellsSize(maxNotifiers) + registryArraysSize(maxNotifiers) +
		shmipc.UniqueIndexSetCellsSize(maxListeners) + registryArraysSize(maxListeners)

	seg, err := shm.Create(directory, name, int(size))
	if err != nil {
		return nil, fmt.Errorf("storage: create dynamic config %s: %w", name, err)
	}

	dc := newDynamicConfig(seg)
	dc.refs.StoreRelease(1)

	offset := uintptr(refcountHeaderSize)
	notifyFreePtr, notifyBodyPtr, notifyBodySize := layoutRegistry(seg, offset, maxNotifiers)
	dc.Event = &EventRegistries{}
	dc.Event.Notifiers = shmipc.NewRegistryAt(notifyFreePtr, notifyBodyPtr, maxNotifiers, true)
	offset += shmipc.UniqueIndexSetCellsSize(maxNotifiers) + notifyBodySize

	listenFreePtr, listenBodyPtr, _ := layoutRegistry(seg, offset, maxListeners)
	dc.Event.Listeners = shmipc.NewRegistryAt(listenFreePtr, listenBodyPtr, maxListeners, true)

	return dc, nil
}

// OpenPubSubDynamicConfig opens an existing PubSub dynamic-config segment
// and attaches to its registries without re-initializing them, then
// increments the reference counter (spec §4.3 Open step 3).
func OpenPubSubDynamicConfig(directory, name string, maxPublishers, maxSubscribers int) (*DynamicConfig, error) {
	size := uintptr(refcountHeaderSize) +
		shmipc.UniqueIndexSetCellsSize(maxPublishers) + registryArraysSize(maxPublishers) +
		shmipc.UniqueIndexSetCellsSize(maxSubscribers) + registryArraysSize(maxSubscribers)

	seg, err := shm.Open(directory, name, int(size))
	if err != nil {
		return nil, fmt.Errorf("storage: open dynamic config %s: %w", name, err)
	}
	dc := newDynamicConfig(seg)

	offset := uintptr(refcountHeaderSize)
	pubFreePtr, pubBodyPtr, pubBodySize := layoutRegistry(seg, offset, maxPublishers)
	dc.PubSub = &PubSubRegistries{}
	dc.PubSub.Publishers = shmipc.NewRegistryAt(pubFreePtr, pubBodyPtr, maxPublishers, false)
	offset += shmipc.UniqueIndexSetCellsSize(maxPublishers) + pubBodySize

	subFreePtr, subBodyPtr, _ := layoutRegistry(seg, offset, maxSubscribers)
	dc.PubSub.Subscribers = shmipc.NewRegistryAt(subFreePtr, subBodyPtr, maxSubscribers, false)

	if err := dc.IncrementReferenceCounter(); err != nil {
		_ = seg.Close()
		return nil, err
	}
	return dc, nil
}

// OpenEventDynamicConfig is OpenPubSubDynamicConfig's Event counterpart.
func OpenEventDynamicConfig(directory, name string, maxNotifiers, maxListeners int) (*DynamicConfig, error) {
	size := uintptr(refcountHeaderSize) +
		shmipc.UniqueIndexSetCellsSize(maxNotifiers) + registryArraysSize(maxNotifiers) +
		shmipc.UniqueIndexSetCellsSize(maxListeners) + registryArraysSize(maxListeners)

	seg, err := shm.Open(directory, name, int(size))
	if err != nil {
		return nil, fmt.Errorf("storage: open dynamic config %s: %w", name, err)
	}
	dc := newDynamicConfig(seg)

	offset := uintptr(refcountHeaderSize)
	notifyFreePtr, notifyBodyPtr, notifyBodySize := layoutRegistry(seg, offset, maxNotifiers)
	dc.Event = &EventRegistries{}
	dc.Event.Notifiers = shmipc.NewRegistryAt(notifyFreePtr, notifyBodyPtr, maxNotifiers, false)
	offset += shmipc.UniqueIndexSetCellsSize(maxNotifiers) + notifyBodySize

	listenFreePtr, listenBodyPtr, _ := layoutRegistry(seg, offset, maxListeners)
	dc.Event.Listeners = shmipc.NewRegistryAt(listenFreePtr, listenBodyPtr, maxListeners, false)

	if err := dc.IncrementReferenceCounter(); err != nil {
		_ = seg.Close()
		return nil, err
	}
	return dc, nil
}

func newDynamicConfig(seg *shm.Segment) *DynamicConfig {
	refs := (*atomix.Uint64)(unsafe.Pointer(&seg.Bytes()[0]))
	return &DynamicConfig{segment: seg, refs: refs}
}

func registryArraysSize(capacity int) uintptr {
	// shmipc.RegistryBodySize accounts for the ids+states arrays the
	// registry body needs beyond its UniqueIndexSet free list.
	return shmipc.RegistryBodySize(capacity)
}

func layoutRegistry(seg *shm.Segment, offset uintptr, capacity int) (freeListPtr, bodyPtr unsafe.Pointer, bodySize uintptr) {
	base := unsafe.Pointer(&seg.Bytes()[0])
	freeListPtr = unsafe.Add(base, offset)
	bodyPtr = unsafe.Add(base, offset+shmipc.UniqueIndexSetCellsSize(capacity))
	bodySize = shmipc.RegistryBodySize(capacity)
	return
}

// IncrementReferenceCounter adds one reference, failing with
// ErrMarkedForDestruction if a concurrent Drop already set the destruction
// sentinel (spec §4.3 Open step 3, §5 "sentinel value implements a one-way
// transition").
func (dc *DynamicConfig) IncrementReferenceCounter() error {
	for {
		cur := dc.refs.LoadAcquire()
		if cur == refcountDestroyed {
			return ErrMarkedForDestruction
		}
		if dc.refs.CompareAndSwapAcqRel(cur, cur+1) {
			return nil
		}
	}
}

// DecrementReferenceCounter removes one reference. If it reaches zero, this
// call atomically transitions the counter to the destruction sentinel and
// returns shouldDestroy=true: the caller is then responsible for removing
// both the static config file and this dynamic-config segment (spec §4.3
// Drop).
func (dc *DynamicConfig) DecrementReferenceCounter() (shouldDestroy bool) {
	for {
		cur := dc.refs.LoadAcquire()
		if cur == 0 || cur == refcountDestroyed {
			return false
		}
		if cur == 1 {
			if dc.refs.CompareAndSwapAcqRel(cur, refcountDestroyed) {
				return true
			}
			continue
		}
		if dc.refs.CompareAndSwapAcqRel(cur, cur-1) {
			return false
		}
	}
}

// Close unmaps the dynamic-config segment without affecting the reference
// count (callers must DecrementReferenceCounter first).
func (dc *DynamicConfig) Close() error {
	return dc.segment.Close()
}

// ErrUnderlyingResourcesCorrupted is returned by RetryOpen once all of its
// attempts have failed with ErrMarkedForDestruction or ErrIsLocked.
var ErrUnderlyingResourcesCorrupted = errors.New("storage: underlying resources corrupted")

// RetryOpen runs open (a caller-supplied attempt) with bounded exponential
// backoff, retrying only on ErrMarkedForDestruction or ErrIsLocked and
// translating exhaustion into ErrUnderlyingResourcesCorrupted. The service
// package's attempts re-open only the dynamic config: its static config is
// read once before RetryOpen and is not re-read between attempts.
func RetryOpen(attempts int, open func() (*DynamicConfig, error)) (*DynamicConfig, error) {
	var backoff iox.Backoff
	var lastErr error
	for i := 0; i < attempts; i++ {
		dc, err := open()
		if err == nil {
			return dc, nil
		}
		if !errors.Is(err, ErrMarkedForDestruction) && !errors.Is(err, ErrIsLocked) {
			return nil, err
		}
		lastErr = err
		backoff.Wait()
	}
	return nil, fmt.Errorf("%w: last error: %v", ErrUnderlyingResourcesCorrupted, lastErr)
}
