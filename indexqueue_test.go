// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmipc_test

import (
	"errors"
	"sync"
	"testing"
	"unsafe"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/shmipc"
)

func TestIndexQueueBasic(t *testing.T) {
	q := shmipc.NewIndexQueue(4)
	if q.Cap() != 4 {
		t.Fatalf("Cap: got %d, want 4", q.Cap())
	}

	prod, err := q.AcquireProducer()
	if err != nil {
		t.Fatalf("AcquireProducer: %v", err)
	}
	cons, err := q.AcquireConsumer()
	if err != nil {
		t.Fatalf("AcquireConsumer: %v", err)
	}

	for i := 0; i < 4; i++ {
		if err := prod.Push(uint64(i + 100)); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}

	if err := prod.Push(999); !errors.Is(err, shmipc.ErrWouldBlock) {
		t.Fatalf("Push on full: got %v, want ErrWouldBlock", err)
	}

	for i := 0; i < 4; i++ {
		v, err := cons.Pop()
		if err != nil {
			t.Fatalf("Pop(%d): %v", i, err)
		}
		if v != uint64(i+100) {
			t.Fatalf("Pop(%d): got %d, want %d", i, v, i+100)
		}
	}

	if _, err := cons.Pop(); !errors.Is(err, shmipc.ErrWouldBlock) {
		t.Fatalf("Pop on empty: got %v, want ErrWouldBlock", err)
	}
}

func TestIndexQueueDoubleAcquireFails(t *testing.T) {
	q := shmipc.NewIndexQueue(4)
	if _, err := q.AcquireProducer(); err != nil {
		t.Fatalf("first AcquireProducer: %v", err)
	}
	if _, err := q.AcquireProducer(); !errors.Is(err, shmipc.ErrAlreadyAcquired) {
		t.Fatalf("second AcquireProducer: got %v, want ErrAlreadyAcquired", err)
	}
}

func TestIndexQueueReleaseAllowsReacquire(t *testing.T) {
	q := shmipc.NewIndexQueue(4)
	prod, err := q.AcquireProducer()
	if err != nil {
		t.Fatalf("AcquireProducer: %v", err)
	}
	prod.Release()
	if _, err := q.AcquireProducer(); err != nil {
		t.Fatalf("AcquireProducer after Release: %v", err)
	}
}

func TestIndexQueueAt(t *testing.T) {
	const capacity = 8
	buf := make([]byte, shmipc.IndexQueueBufferSize(capacity))
	producerSide := shmipc.NewIndexQueueAt(unsafe.Pointer(&buf[0]), capacity, true)
	consumerSide := shmipc.NewIndexQueueAt(unsafe.Pointer(&buf[0]), capacity, false)

	prod, err := producerSide.AcquireProducer()
	if err != nil {
		t.Fatalf("AcquireProducer: %v", err)
	}
	cons, err := consumerSide.AcquireConsumer()
	if err != nil {
		t.Fatalf("AcquireConsumer: %v", err)
	}

	if err := prod.Push(42); err != nil {
		t.Fatalf("Push: %v", err)
	}
	v, err := cons.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if v != 42 {
		t.Fatalf("got %d, want 42", v)
	}
}

func TestIndexQueueWraparound(t *testing.T) {
	q := shmipc.NewIndexQueue(4)
	prod, _ := q.AcquireProducer()
	cons, _ := q.AcquireConsumer()

	for cycle := 0; cycle < 1000; cycle++ {
		for i := 0; i < 4; i++ {
			v := uint64(cycle*100 + i)
			if err := prod.Push(v); err != nil {
				t.Fatalf("cycle %d: Push(%d): %v", cycle, i, err)
			}
		}
		for i := 0; i < 4; i++ {
			v, err := cons.Pop()
			if err != nil {
				t.Fatalf("cycle %d: Pop(%d): %v", cycle, i, err)
			}
			want := uint64(cycle*100 + i)
			if v != want {
				t.Fatalf("cycle %d: got %d, want %d", cycle, v, want)
			}
		}
	}
}

func TestIndexQueueConcurrentSPSC(t *testing.T) {
	const itemCount = 100000
	q := shmipc.NewIndexQueue(64)
	prod, _ := q.AcquireProducer()
	cons, _ := q.AcquireConsumer()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		backoff := iox.Backoff{}
		for i := 0; i < itemCount; i++ {
			for prod.Push(uint64(i + 1)) != nil {
				backoff.Wait()
			}
			backoff.Reset()
		}
	}()

	var consumeErr error
	go func() {
		defer wg.Done()
		backoff := iox.Backoff{}
		expected := uint64(1)
		for expected <= itemCount {
			v, err := cons.Pop()
			if err != nil {
				backoff.Wait()
				continue
			}
			if v != expected {
				consumeErr = errors.New("FIFO violation")
				return
			}
			expected++
			backoff.Reset()
		}
	}()

	wg.Wait()
	if consumeErr != nil {
		t.Fatal(consumeErr)
	}
}

func TestIndexQueuePanicOnZeroCapacity(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for capacity < 1")
		}
	}()
	shmipc.NewIndexQueue(0)
}
