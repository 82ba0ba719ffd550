// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shm_test

import (
	"testing"
	"unsafe"

	"code.hybscloud.com/shmipc/internal/shm"
)

func TestBumpAllocatorSequentialAlloc(t *testing.T) {
	buf := make([]byte, 256)
	a := shm.NewBumpAllocator(unsafe.Pointer(&buf[0]), uintptr(len(buf)), true)

	_, off1 := a.Alloc(8, 8)
	_, off2 := a.Alloc(16, 8)
	if off1 != 0 {
		t.Fatalf("first alloc offset: got %d, want 0", off1)
	}
	if off2 != 8 {
		t.Fatalf("second alloc offset: got %d, want 8", off2)
	}
	if a.Used() != 24 {
		t.Fatalf("Used: got %d, want 24", a.Used())
	}
}

func TestBumpAllocatorAlignment(t *testing.T) {
	buf := make([]byte, 256)
	a := shm.NewBumpAllocator(unsafe.Pointer(&buf[0]), uintptr(len(buf)), true)

	a.Alloc(3, 1) // offset 0, size 3
	_, off := a.Alloc(8, 8)
	if off%8 != 0 {
		t.Fatalf("aligned offset %d not a multiple of 8", off)
	}
}

func TestBumpAllocatorExhaustionPanics(t *testing.T) {
	buf := make([]byte, 16)
	a := shm.NewBumpAllocator(unsafe.Pointer(&buf[0]), uintptr(len(buf)), true)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on region exhaustion")
		}
	}()
	a.Alloc(32, 8)
}

func TestBumpAllocatorAtOffsetRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	a := shm.NewBumpAllocator(unsafe.Pointer(&buf[0]), uintptr(len(buf)), true)

	ptr, off := a.Alloc(8, 8)
	if a.AtOffset(off) != ptr {
		t.Fatalf("AtOffset(%d): got %p, want %p", off, a.AtOffset(off), ptr)
	}
}
