// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package shmipc provides the lock-free building blocks shared by the
// publish-subscribe and event messaging patterns implemented in the
// code.hybscloud.com/shmipc/service, code.hybscloud.com/shmipc/port, and
// code.hybscloud.com/shmipc/transport packages: a bounded unique-index
// free-list, an SPSC index queue pair (plain and safely-overflowing), a
// registry of live port ids with snapshot semantics, and the identity types
// (ServiceName, ServiceID, PortID) used to name shared-memory artifacts.
//
// # Lock-free primitives
//
// UniqueIndexSet is a bounded free list of integer indices usable from
// multiple threads and, since its memory can live in shared memory, from
// multiple processes:
//
//	set := shmipc.NewUniqueIndexSet(64)
//	idx, ok := set.Acquire()
//	if ok {
//	    defer set.Release(idx)
//	}
//
// IndexQueue and SafelyOverflowingIndexQueue carry byte offsets (not values)
// between exactly one producer and one consumer, enforced by runtime token
// acquisition rather than by construction:
//
//	q := shmipc.NewIndexQueue(128)
//	p, _ := q.AcquireProducer()
//	c, _ := q.AcquireConsumer()
//	_ = p.Push(4096)
//	off, err := c.Pop()
//
// Registry tracks a bounded set of registered ids (publisher/subscriber/
// notifier/listener identities) with a ContainerState snapshot cursor that
// lets readers detect membership changes without locking.
//
// # Dependencies
//
// This package uses code.hybscloud.com/atomix for atomics with explicit
// memory ordering and code.hybscloud.com/spin for CPU-pause backoff in CAS
// retry loops, for ecosystem consistency with code.hybscloud.com/lfq.
package shmipc
