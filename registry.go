// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmipc

import (
	"unsafe"

	"code.hybscloud.com/atomix"
)

// slotState values for a Registry slot, published with release-store and
// observed with acquire-load (spec §5 "Memory ordering": "Registry
// insertions are finalized by a release-store of the slot-state byte").
const (
	slotFree uint64 = iota
	slotInserting
	slotInserted
)

// RegisteredID is the payload a Registry slot carries: a port identity plus
// the registry-local slot index it occupies, handed back so the caller can
// address its own per-peer table (publisher/subscriber connection tables)
// by slot rather than by a linear scan for the matching id.
type RegisteredID struct {
	ID   PortID
	Slot int
}

// Registry is a bounded, concurrently-mutated set of registered port ids —
// the backing store for the publisher/subscriber/notifier/listener
// membership lists a service's dynamic config carries (spec §3 "Registry
// (C1)"). Mutation goes through a free-list UniqueIndexSet; iteration goes
// through a ContainerState snapshot cursor that detects, but never blocks
// on, a concurrent writer.
//
// Registry is relocation-safe: NewRegistryAt places it over shared memory
// so every field a reader or writer touches — including the generation
// counter — lives in the mapped segment rather than in process-local
// memory, letting two processes mapping the segment at different addresses
// observe each other's mutations.
type Registry struct {
	free       *UniqueIndexSet
	ids        []PortID
	states     []atomix.Uint64
	generation *atomix.Uint64
	capacity   int
}

// NewRegistry creates a process-local Registry of the given capacity.
func NewRegistry(capacity int) *Registry {
	r := &Registry{
		free:     NewUniqueIndexSet(capacity),
		ids:      make([]PortID, capacity),
		states:   make([]atomix.Uint64, capacity),
		capacity: capacity,
	}
	r.generation = new(atomix.Uint64)
	return r
}

// RegistryBodySize returns the number of bytes NewRegistryAt needs for its
// body (generation counter + state array + id array) for the given
// capacity, not counting the UniqueIndexSet free-list cells placed
// separately at freeListPtr.
func RegistryBodySize(capacity int) uintptr {
	var gen atomix.Uint64
	var st atomix.Uint64
	var id PortID
	return unsafe.Sizeof(gen) + uintptr(capacity)*unsafe.Sizeof(st) + uintptr(capacity)*unsafe.Sizeof(id)
}

// NewRegistryAt builds a Registry whose free list lives at freeListPtr
// (UniqueIndexSetCellsSize(capacity) bytes) and whose body (generation
// counter, state array, id array) lives at bodyPtr (RegistryBodySize(capacity)
// bytes), for placement inside a service's dynamic-config segment. fresh
// must be true for exactly the participant that creates the segment.
func NewRegistryAt(freeListPtr, bodyPtr unsafe.Pointer, capacity int, fresh bool) *Registry {
	generation := (*atomix.Uint64)(bodyPtr)
	statesPtr := unsafe.Add(bodyPtr, unsafe.Sizeof(atomix.Uint64{}))
	states := unsafe.Slice((*atomix.Uint64)(statesPtr), capacity)
	idsPtr := unsafe.Add(statesPtr, uintptr(capacity)*unsafe.Sizeof(atomix.Uint64{}))
	ids := unsafe.Slice((*PortID)(idsPtr), capacity)

	r := &Registry{
		free:       NewUniqueIndexSetAt(freeListPtr, capacity, fresh),
		ids:        ids,
		states:     states,
		generation: generation,
		capacity:   capacity,
	}
	if fresh {
		generation.StoreRelaxed(0)
		for i := range states {
			states[i].StoreRelaxed(slotFree)
		}
	}
	return r
}

// Cap returns the registry's capacity.
func (r *Registry) Cap() int { return r.capacity }

// RegistryGuard removes its id from the registry when Release is called,
// matching spec §4.4's "the guard's drop removes the id from the registry".
type RegistryGuard struct {
	r    *Registry
	slot int
}

// Insert reserves a free slot and publishes id into it. Returns
// ErrWouldBlock if the registry is at capacity. There is no dedicated
// exceeds-max-supported error: the port constructors return this
// ErrWouldBlock wrapped as "port: register <kind> <id>: ...".
func (r *Registry) Insert(id PortID) (*RegistryGuard, error) {
	slot, ok := r.free.Acquire()
	if !ok {
		return nil, ErrWouldBlock
	}
	r.states[slot].StoreRelaxed(slotInserting)
	r.ids[slot] = id
	r.states[slot].StoreRelease(slotInserted)
	r.generation.AddAcqRel(1)
	return &RegistryGuard{r: r, slot: slot}, nil
}

// Release removes the guarded id from the registry. Idempotent only once:
// calling Release twice on the same guard corrupts the free list, the same
// contract UniqueIndexSet.Release carries.
func (g *RegistryGuard) Release() {
	g.r.states[g.slot].StoreRelease(slotFree)
	g.r.generation.AddAcqRel(1)
	g.r.free.Release(g.slot)
}

// Slot returns the registry slot index this guard occupies.
func (g *RegistryGuard) Slot() int { return g.slot }

// ForceRelease frees slot without going through its original
// RegistryGuard, for a garbage collector reclaiming entries whose owning
// process no longer exists (spec Design Notes "Unique port ids" stale-file
// sweep). Calling this on a slot whose owner is still alive corrupts that
// owner's view of its own registration; callers must confirm liveness
// first.
func (r *Registry) ForceRelease(slot int) {
	r.states[slot].StoreRelease(slotFree)
	r.generation.AddAcqRel(1)
	r.free.Release(slot)
}

// ContainerState is a reader's cursor over a Registry's membership. Update
// reports whether the registry has changed since the cursor's last
// observation; callers use this to decide whether to re-walk Snapshot.
type ContainerState struct {
	r          *Registry
	lastSeenAt uint64
	seenOnce   bool
}

// State returns a fresh cursor for r, initially reporting a change on its
// first Update call so the first reconciliation pass always runs.
func (r *Registry) State() *ContainerState {
	return &ContainerState{r: r}
}

// Update reports whether the registry's membership may have changed since
// the cursor last called Update or Snapshot. It never blocks and never
// tears: it compares generation counters, so a writer racing with Update can
// at worst cause one extra (harmless) reconciliation pass.
func (s *ContainerState) Update() bool {
	gen := s.r.generation.LoadAcquire()
	changed := !s.seenOnce || gen != s.lastSeenAt
	s.lastSeenAt = gen
	s.seenOnce = true
	return changed
}

// Snapshot retries until it observes a membership view whose generation did
// not change during the walk, then invokes visit(slot, id) once per occupied
// slot in slot order. The retry makes Snapshot non-tearing without taking a
// lock: at worst a concurrent writer causes one extra retry.
func (s *ContainerState) Snapshot(visit func(slot int, id PortID)) {
	r := s.r
	for {
		before := r.generation.LoadAcquire()
		type occupied struct {
			slot int
			id   PortID
		}
		var items []occupied
		for slot := 0; slot < r.capacity; slot++ {
			if r.states[slot].LoadAcquire() == slotInserted {
				items = append(items, occupied{slot: slot, id: r.ids[slot]})
			}
		}
		after := r.generation.LoadAcquire()
		if before == after {
			for _, it := range items {
				visit(it.slot, it.id)
			}
			s.lastSeenAt = after
			s.seenOnce = true
			return
		}
	}
}
