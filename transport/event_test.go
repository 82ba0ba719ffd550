// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"code.hybscloud.com/shmipc/transport"
)

func TestEventChannelNotifyTryWait(t *testing.T) {
	dir := t.TempDir()

	listener, err := transport.ListenEventChannel(dir, "listener1")
	if err != nil {
		t.Fatalf("ListenEventChannel: %v", err)
	}
	defer listener.Close()

	notifier, err := transport.DialEventChannel(dir, "listener1")
	if err != nil {
		t.Fatalf("DialEventChannel: %v", err)
	}
	defer notifier.Close()

	if err := notifier.Notify(7); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	id, ok, err := listener.TimedWait(time.Second)
	if err != nil {
		t.Fatalf("TimedWait: %v", err)
	}
	if !ok || id != 7 {
		t.Fatalf("TimedWait: got (id=%d, ok=%v), want (7, true)", id, ok)
	}

	_, ok, err = listener.TryWait()
	if err != nil {
		t.Fatalf("TryWait on empty channel: %v", err)
	}
	if ok {
		t.Fatal("TryWait on empty channel: expected ok=false")
	}
}

func TestEventChannelFIFOPerWriter(t *testing.T) {
	dir := t.TempDir()

	listener, err := transport.ListenEventChannel(dir, "listener2")
	if err != nil {
		t.Fatalf("ListenEventChannel: %v", err)
	}
	defer listener.Close()

	notifier, err := transport.DialEventChannel(dir, "listener2")
	if err != nil {
		t.Fatalf("DialEventChannel: %v", err)
	}
	defer notifier.Close()

	for _, id := range []uint64{1, 2, 3} {
		if err := notifier.Notify(id); err != nil {
			t.Fatalf("Notify(%d): %v", id, err)
		}
	}

	for _, want := range []uint64{1, 2, 3} {
		got, ok, err := listener.TimedWait(time.Second)
		if err != nil || !ok {
			t.Fatalf("TimedWait: got (%d, %v, %v), want (%d, true, nil)", got, ok, err, want)
		}
		if got != want {
			t.Fatalf("TimedWait order: got %d, want %d", got, want)
		}
	}
}

func TestListenEventChannelAlreadyExists(t *testing.T) {
	dir := t.TempDir()

	listener, err := transport.ListenEventChannel(dir, "dup")
	if err != nil {
		t.Fatalf("first ListenEventChannel: %v", err)
	}
	defer listener.Close()

	if _, err := transport.ListenEventChannel(dir, "dup"); !errors.Is(err, os.ErrExist) {
		t.Fatalf("second ListenEventChannel: got %v, want os.ErrExist", err)
	}
}

func TestEventChannelUnlink(t *testing.T) {
	dir := t.TempDir()

	listener, err := transport.ListenEventChannel(dir, "unlinkme")
	if err != nil {
		t.Fatalf("ListenEventChannel: %v", err)
	}
	if err := listener.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := transport.UnlinkEventChannel(dir, "unlinkme"); err != nil {
		t.Fatalf("UnlinkEventChannel: %v", err)
	}
	if err := transport.UnlinkEventChannel(dir, "unlinkme"); err != nil {
		t.Fatalf("UnlinkEventChannel missing: %v", err)
	}

	if _, err := transport.ListenEventChannel(dir, "unlinkme"); err != nil {
		t.Fatalf("ListenEventChannel after unlink: %v", err)
	}
}
