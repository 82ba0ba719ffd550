// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shm_test

import (
	"testing"
	"unsafe"

	"code.hybscloud.com/shmipc/internal/shm"
)

func TestRelocatablePointerInitGet(t *testing.T) {
	var p shm.RelocatablePointer
	target := int64(42)

	p.Init(unsafe.Pointer(&target))

	got := (*int64)(p.Get())
	if *got != 42 {
		t.Fatalf("Get: got %d, want 42", *got)
	}
}

func TestRelocatablePointerDoubleInitPanics(t *testing.T) {
	var p shm.RelocatablePointer
	var a, b int

	p.Init(unsafe.Pointer(&a))

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on double Init")
		}
	}()
	p.Init(unsafe.Pointer(&b))
}

func TestRelocatablePointerGetBeforeInitPanics(t *testing.T) {
	var p shm.RelocatablePointer
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on Get before Init")
		}
	}()
	p.Get()
}

func TestRelocatablePointerSurvivesRelocation(t *testing.T) {
	// Simulate two "processes" mapping the same bytes at different base
	// addresses: build the struct containing the pointer and its pointee in
	// one contiguous buffer, then reinterpret that buffer through a second,
	// independently allocated copy at a different address.
	type block struct {
		ptr   shm.RelocatablePointer
		value int64
	}

	buf := make([]byte, unsafe.Sizeof(block{}))
	b := (*block)(unsafe.Pointer(&buf[0]))
	b.value = 7
	b.ptr.Init(unsafe.Pointer(&b.value))

	copyBuf := make([]byte, len(buf))
	copy(copyBuf, buf)
	relocated := (*block)(unsafe.Pointer(&copyBuf[0]))

	got := (*int64)(relocated.ptr.Get())
	if *got != 7 {
		t.Fatalf("after relocation: got %d, want 7", *got)
	}
}
