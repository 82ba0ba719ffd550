// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/shmipc"
	"code.hybscloud.com/shmipc/transport"
)

func TestConnectionPlainSubmissionRoundTrip(t *testing.T) {
	dir := t.TempDir()

	pubSide, err := transport.CreateConnection(dir, "conn1", 2, transport.OverflowDisabled)
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	defer pubSide.Close()

	subSide, err := transport.OpenConnection(dir, "conn1", 2, transport.OverflowDisabled)
	if err != nil {
		t.Fatalf("OpenConnection: %v", err)
	}
	defer subSide.Close()

	producer, err := pubSide.AcquireSubmissionProducer()
	if err != nil {
		t.Fatalf("AcquireSubmissionProducer: %v", err)
	}
	consumer, err := subSide.AcquireSubmissionConsumer()
	if err != nil {
		t.Fatalf("AcquireSubmissionConsumer: %v", err)
	}

	if _, _, err := producer.Push(10); err != nil {
		t.Fatalf("Push(10): %v", err)
	}
	if _, _, err := producer.Push(20); err != nil {
		t.Fatalf("Push(20): %v", err)
	}
	if _, _, err := producer.Push(30); !errors.Is(err, shmipc.ErrWouldBlock) {
		t.Fatalf("Push(30) on full queue: got %v, want ErrWouldBlock", err)
	}

	v, err := consumer.Pop()
	if err != nil || v != 10 {
		t.Fatalf("Pop: got (%d, %v), want (10, nil)", v, err)
	}
	v, err = consumer.Pop()
	if err != nil || v != 20 {
		t.Fatalf("Pop: got (%d, %v), want (20, nil)", v, err)
	}
	if _, err := consumer.Pop(); !errors.Is(err, shmipc.ErrWouldBlock) {
		t.Fatalf("Pop on empty queue: got %v, want ErrWouldBlock", err)
	}
}

func TestConnectionOverflowEvictsOldest(t *testing.T) {
	dir := t.TempDir()

	conn, err := transport.CreateConnection(dir, "conn2", 2, transport.OverflowEnabled)
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	defer conn.Close()

	producer, err := conn.AcquireSubmissionProducer()
	if err != nil {
		t.Fatalf("AcquireSubmissionProducer: %v", err)
	}
	consumer, err := conn.AcquireSubmissionConsumer()
	if err != nil {
		t.Fatalf("AcquireSubmissionConsumer: %v", err)
	}

	if _, didEvict, _ := producer.Push(1); didEvict {
		t.Fatal("Push(1) on empty queue: unexpected eviction")
	}
	if _, didEvict, _ := producer.Push(2); didEvict {
		t.Fatal("Push(2) on non-full queue: unexpected eviction")
	}
	evicted, didEvict, err := producer.Push(3)
	if err != nil {
		t.Fatalf("Push(3): %v", err)
	}
	if !didEvict || evicted != 1 {
		t.Fatalf("Push(3) on full queue: got (evicted=%d, didEvict=%v), want (1, true)", evicted, didEvict)
	}

	v, err := consumer.Pop()
	if err != nil || v != 2 {
		t.Fatalf("Pop: got (%d, %v), want (2, nil)", v, err)
	}
	v, err = consumer.Pop()
	if err != nil || v != 3 {
		t.Fatalf("Pop: got (%d, %v), want (3, nil)", v, err)
	}
}

func TestConnectionRetrieveQueueIndependentOfSubmission(t *testing.T) {
	dir := t.TempDir()

	conn, err := transport.CreateConnection(dir, "conn3", 4, transport.OverflowDisabled)
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	defer conn.Close()

	retProducer, err := conn.AcquireRetrieveProducer()
	if err != nil {
		t.Fatalf("AcquireRetrieveProducer: %v", err)
	}
	retConsumer, err := conn.AcquireRetrieveConsumer()
	if err != nil {
		t.Fatalf("AcquireRetrieveConsumer: %v", err)
	}

	if err := retProducer.Push(99); err != nil {
		t.Fatalf("retrieve Push: %v", err)
	}
	v, err := retConsumer.Pop()
	if err != nil || v != 99 {
		t.Fatalf("retrieve Pop: got (%d, %v), want (99, nil)", v, err)
	}
}

func TestConnectionSecondProducerAcquireFails(t *testing.T) {
	dir := t.TempDir()

	conn, err := transport.CreateConnection(dir, "conn4", 2, transport.OverflowDisabled)
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	defer conn.Close()

	if _, err := conn.AcquireSubmissionProducer(); err != nil {
		t.Fatalf("first AcquireSubmissionProducer: %v", err)
	}
	if _, err := conn.AcquireSubmissionProducer(); !errors.Is(err, shmipc.ErrAlreadyAcquired) {
		t.Fatalf("second AcquireSubmissionProducer: got %v, want ErrAlreadyAcquired", err)
	}
}

func TestConnectionNameDerivation(t *testing.T) {
	pub := shmipc.NewPortID()
	sub := shmipc.NewPortID()
	name := transport.ConnectionName(pub, sub)
	want := pub.String() + "_" + sub.String()
	if name != want {
		t.Fatalf("ConnectionName: got %q, want %q", name, want)
	}
}
