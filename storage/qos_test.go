// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package storage_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/shmipc/storage"
)

func TestQoSMarshalUnmarshalRoundTrip(t *testing.T) {
	want := storage.QoS{
		Pattern:                      storage.PubSub,
		TypeName:                     "uint64",
		TypeSize:                     8,
		TypeAlignment:                8,
		MaxPublishers:                1,
		MaxSubscribers:               4,
		HistorySize:                  2,
		SubscriberBufferSize:         16,
		SubscriberMaxBorrowedSamples: 4,
		EnableSafeOverflow:           true,
	}

	data, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := storage.UnmarshalQoS(data)
	if err != nil {
		t.Fatalf("UnmarshalQoS: %v", err)
	}
	if got != want {
		t.Fatalf("round trip: got %+v, want %+v", got, want)
	}
}

func TestQoSSatisfiesCapacity(t *testing.T) {
	existing := storage.QoS{Pattern: storage.PubSub, MaxSubscribers: 2}

	if err := existing.Satisfies(storage.QoS{Pattern: storage.PubSub, MaxSubscribers: 3}); !errors.Is(err, storage.ErrQoSInsufficientCapacity) {
		t.Fatalf("Satisfies(want 3 of 2): got %v, want ErrQoSInsufficientCapacity", err)
	}
	if err := existing.Satisfies(storage.QoS{Pattern: storage.PubSub, MaxSubscribers: 1}); err != nil {
		t.Fatalf("Satisfies(want 1 of 2): %v", err)
	}
}

func TestQoSSatisfiesPatternMismatch(t *testing.T) {
	existing := storage.QoS{Pattern: storage.PubSub}
	if err := existing.Satisfies(storage.QoS{Pattern: storage.Event}); !errors.Is(err, storage.ErrQoSTypeMismatch) {
		t.Fatalf("Satisfies(pattern mismatch): got %v, want ErrQoSTypeMismatch", err)
	}
}

func TestQoSSatisfiesTypeNameMismatch(t *testing.T) {
	existing := storage.QoS{Pattern: storage.PubSub, TypeName: "uint64"}
	if err := existing.Satisfies(storage.QoS{Pattern: storage.PubSub, TypeName: "uint32"}); !errors.Is(err, storage.ErrQoSTypeMismatch) {
		t.Fatalf("Satisfies(type mismatch): got %v, want ErrQoSTypeMismatch", err)
	}
}

func TestQoSSatisfiesTypeSizeAlignmentMismatch(t *testing.T) {
	existing := storage.QoS{Pattern: storage.PubSub, TypeName: "u", TypeSize: 4, TypeAlignment: 4}
	if err := existing.Satisfies(storage.QoS{Pattern: storage.PubSub, TypeName: "u", TypeSize: 8, TypeAlignment: 8}); !errors.Is(err, storage.ErrQoSTypeMismatch) {
		t.Fatalf("Satisfies(size/alignment mismatch, same name): got %v, want ErrQoSTypeMismatch", err)
	}
	if err := existing.Satisfies(storage.QoS{Pattern: storage.PubSub, TypeName: "u", TypeSize: 4, TypeAlignment: 8}); !errors.Is(err, storage.ErrQoSTypeMismatch) {
		t.Fatalf("Satisfies(alignment-only mismatch): got %v, want ErrQoSTypeMismatch", err)
	}
}

func TestQoSSatisfiesNoMinimumRequested(t *testing.T) {
	existing := storage.QoS{Pattern: storage.Event, MaxListeners: 4, MaxNotifiers: 1}
	if err := existing.Satisfies(storage.QoS{Pattern: storage.Event}); err != nil {
		t.Fatalf("Satisfies with no requested minima: %v", err)
	}
}
