// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shm_test

import (
	"testing"

	"code.hybscloud.com/shmipc/internal/shm"
)

func TestPoolAllocatorGetPut(t *testing.T) {
	const capacity = 4
	const bucketSize = 32
	p := shm.NewPoolAllocator(capacity, bucketSize)
	if p.Cap() != capacity {
		t.Fatalf("Cap: got %d, want %d", p.Cap(), capacity)
	}

	var firstOffset uintptr
	for i := 0; i < capacity; i++ {
		slot, ptr, offset, ok := p.Get()
		if !ok {
			t.Fatalf("Get(%d): exhausted early", i)
		}
		if ptr == nil {
			t.Fatalf("Get(%d): nil pointer", i)
		}
		if p.SlotOf(offset) != slot {
			t.Fatalf("SlotOf(%d): got %d, want %d", offset, p.SlotOf(offset), slot)
		}
		if i == 0 {
			firstOffset = offset
		}
	}

	if _, _, _, ok := p.Get(); ok {
		t.Fatal("Get on exhausted pool: expected ok=false")
	}

	p.Put(p.SlotOf(firstOffset))
	if _, _, _, ok := p.Get(); !ok {
		t.Fatal("Get after Put: expected ok=true")
	}
}

func TestPoolAllocatorBucketsDoNotOverlap(t *testing.T) {
	const capacity = 8
	const bucketSize = 16
	p := shm.NewPoolAllocator(capacity, bucketSize)

	seen := map[uintptr]bool{}
	for i := 0; i < capacity; i++ {
		_, _, offset, ok := p.Get()
		if !ok {
			t.Fatalf("Get(%d): exhausted", i)
		}
		if seen[offset] {
			t.Fatalf("Get(%d): offset %d reused while still live", i, offset)
		}
		seen[offset] = true
		if offset%bucketSize != 0 {
			t.Fatalf("Get(%d): offset %d not bucket-aligned", i, offset)
		}
	}
}
