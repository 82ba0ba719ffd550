// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmipc_test

import (
	"sync"
	"testing"
	"unsafe"

	"code.hybscloud.com/shmipc"
)

func TestUniqueIndexSetAcquireReleaseExhaustion(t *testing.T) {
	s := shmipc.NewUniqueIndexSet(4)
	if s.Cap() != 4 {
		t.Fatalf("Cap: got %d, want 4", s.Cap())
	}

	seen := map[int]bool{}
	for i := 0; i < 4; i++ {
		idx, ok := s.Acquire()
		if !ok {
			t.Fatalf("Acquire(%d): exhausted early", i)
		}
		if seen[idx] {
			t.Fatalf("Acquire(%d): index %d returned twice", i, idx)
		}
		seen[idx] = true
	}

	if _, ok := s.Acquire(); ok {
		t.Fatal("Acquire on exhausted set: expected ok=false")
	}

	s.Release(2)
	idx, ok := s.Acquire()
	if !ok || idx != 2 {
		t.Fatalf("Acquire after Release(2): got (%d, %v), want (2, true)", idx, ok)
	}
}

func TestUniqueIndexSetReleaseOutOfRangePanics(t *testing.T) {
	s := shmipc.NewUniqueIndexSet(4)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for out-of-range Release")
		}
	}()
	s.Release(99)
}

func TestUniqueIndexSetConcurrentAcquireRelease(t *testing.T) {
	const capacity = 64
	s := shmipc.NewUniqueIndexSet(capacity)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				idx, ok := s.Acquire()
				if !ok {
					continue
				}
				s.Release(idx)
			}
		}()
	}
	wg.Wait()

	count := 0
	for {
		if _, ok := s.Acquire(); !ok {
			break
		}
		count++
	}
	if count != capacity {
		t.Fatalf("after stress: acquired %d indices, want %d (set corrupted)", count, capacity)
	}
}

func TestUniqueIndexSetAt(t *testing.T) {
	const capacity = 8
	buf := make([]byte, shmipc.UniqueIndexSetCellsSize(capacity))
	a := shmipc.NewUniqueIndexSetAt(unsafe.Pointer(&buf[0]), capacity, true)
	b := shmipc.NewUniqueIndexSetAt(unsafe.Pointer(&buf[0]), capacity, false)

	// a and b share the same backing cells, so an index acquired through a
	// must not be handed out again by b until a releases it.
	acquired := map[int]bool{}
	for i := 0; i < capacity; i++ {
		var idx int
		var ok bool
		if i%2 == 0 {
			idx, ok = a.Acquire()
		} else {
			idx, ok = b.Acquire()
		}
		if !ok {
			t.Fatalf("Acquire(%d): exhausted early", i)
		}
		if acquired[idx] {
			t.Fatalf("Acquire(%d): index %d returned twice across a/b", i, idx)
		}
		acquired[idx] = true
	}
	if _, ok := a.Acquire(); ok {
		t.Fatal("Acquire on exhausted shared set: expected ok=false")
	}
}

func TestUniqueIndexSetPanicOnBadCapacity(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for capacity <= 0")
		}
	}()
	shmipc.NewUniqueIndexSet(0)
}
