// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmipc_test

import (
	"testing"
	"unsafe"

	"code.hybscloud.com/shmipc"
)

func TestRegistryAtSharedAcrossTwoHeaders(t *testing.T) {
	const capacity = 4
	freeBuf := make([]byte, shmipc.UniqueIndexSetCellsSize(capacity))
	bodyBuf := make([]byte, shmipc.RegistryBodySize(capacity))

	writer := shmipc.NewRegistryAt(unsafe.Pointer(&freeBuf[0]), unsafe.Pointer(&bodyBuf[0]), capacity, true)
	reader := shmipc.NewRegistryAt(unsafe.Pointer(&freeBuf[0]), unsafe.Pointer(&bodyBuf[0]), capacity, false)

	readerState := reader.State()
	if !readerState.Update() {
		t.Fatal("first Update: expected true")
	}

	id := shmipc.NewPortID()
	if _, err := writer.Insert(id); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if !readerState.Update() {
		t.Fatal("reader Update after writer Insert: expected true (shared generation counter)")
	}

	var found shmipc.PortID
	count := 0
	readerState.Snapshot(func(slot int, got shmipc.PortID) {
		count++
		found = got
	})
	if count != 1 || found != id {
		t.Fatalf("reader Snapshot: got count=%d id=%v, want count=1 id=%v", count, found, id)
	}
}
