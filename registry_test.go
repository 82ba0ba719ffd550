// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmipc_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/shmipc"
)

func TestRegistryInsertRelease(t *testing.T) {
	r := shmipc.NewRegistry(4)
	if r.Cap() != 4 {
		t.Fatalf("Cap: got %d, want 4", r.Cap())
	}

	id := shmipc.NewPortID()
	guard, err := r.Insert(id)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	var found shmipc.PortID
	count := 0
	r.State().Snapshot(func(slot int, got shmipc.PortID) {
		count++
		found = got
	})
	if count != 1 {
		t.Fatalf("Snapshot: saw %d entries, want 1", count)
	}
	if found != id {
		t.Fatalf("Snapshot: got %v, want %v", found, id)
	}

	guard.Release()

	count = 0
	r.State().Snapshot(func(slot int, id shmipc.PortID) { count++ })
	if count != 0 {
		t.Fatalf("Snapshot after Release: saw %d entries, want 0", count)
	}
}

func TestRegistryFullReturnsWouldBlock(t *testing.T) {
	r := shmipc.NewRegistry(2)
	if _, err := r.Insert(shmipc.NewPortID()); err != nil {
		t.Fatalf("Insert 1: %v", err)
	}
	if _, err := r.Insert(shmipc.NewPortID()); err != nil {
		t.Fatalf("Insert 2: %v", err)
	}
	if _, err := r.Insert(shmipc.NewPortID()); !errors.Is(err, shmipc.ErrWouldBlock) {
		t.Fatalf("Insert on full registry: got %v, want ErrWouldBlock", err)
	}
}

func TestContainerStateUpdateDetectsChange(t *testing.T) {
	r := shmipc.NewRegistry(4)
	state := r.State()

	if !state.Update() {
		t.Fatal("first Update: expected true (no prior observation)")
	}
	if state.Update() {
		t.Fatal("second Update with no change: expected false")
	}

	guard, err := r.Insert(shmipc.NewPortID())
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !state.Update() {
		t.Fatal("Update after Insert: expected true")
	}
	if state.Update() {
		t.Fatal("Update with no further change: expected false")
	}

	guard.Release()
	if !state.Update() {
		t.Fatal("Update after Release: expected true")
	}
}

func TestRegistrySlotReuseAfterRelease(t *testing.T) {
	r := shmipc.NewRegistry(1)
	guard, err := r.Insert(shmipc.NewPortID())
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	slot := guard.Slot()
	guard.Release()

	guard2, err := r.Insert(shmipc.NewPortID())
	if err != nil {
		t.Fatalf("Insert after release: %v", err)
	}
	if guard2.Slot() != slot {
		t.Fatalf("slot: got %d, want reused slot %d", guard2.Slot(), slot)
	}
}
