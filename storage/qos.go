// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package storage implements C3/C4: the static-config file (immutable,
// owner-write-only-then-owner-read-only commit protocol) and the
// dynamic-config shared-memory control block (reference-counted registries)
// a shmipc service is built from.
package storage

import (
	"errors"
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// Pattern identifies which of the two messaging patterns a service's
// static config describes (spec §4.3).
type Pattern string

const (
	PubSub Pattern = "pubsub"
	Event  Pattern = "event"
)

// QoS is the full set of recognized static-config fields (spec §3, §6).
// Only the fields relevant to Pattern are meaningful; the rest are the zero
// value and ignored, mirroring the original's "unknown/irrelevant keys are
// ignored" forward-compatibility rule.
type QoS struct {
	Pattern Pattern `toml:"pattern"`

	// PubSub fields.
	TypeName                     string `toml:"type_name,omitempty"`
	TypeSize                     uint64 `toml:"type_size,omitempty"`
	TypeAlignment                uint64 `toml:"type_alignment,omitempty"`
	MaxPublishers                int    `toml:"max_publishers,omitempty"`
	MaxSubscribers               int    `toml:"max_subscribers,omitempty"`
	HistorySize                  int    `toml:"history_size,omitempty"`
	SubscriberBufferSize         int    `toml:"subscriber_buffer_size,omitempty"`
	SubscriberMaxBorrowedSamples int    `toml:"subscriber_max_borrowed_samples,omitempty"`
	EnableSafeOverflow           bool   `toml:"enable_safe_overflow,omitempty"`

	// Event fields.
	MaxNotifiers    int    `toml:"max_notifiers,omitempty"`
	MaxListeners    int    `toml:"max_listeners,omitempty"`
	EventIDMaxValue uint64 `toml:"event_id_max_value,omitempty"`
}

// ErrQoSTypeMismatch is returned by Satisfies when a PubSub open request's
// type identity does not match the service's static config.
var ErrQoSTypeMismatch = errors.New("storage: type identity mismatch")

// ErrQoSInsufficientCapacity is returned by Satisfies when the existing
// service's capacities fall below the opener's requested minima.
var ErrQoSInsufficientCapacity = errors.New("storage: does not support requested capacity")

// Satisfies reports whether the existing QoS (q, read from a service's
// static config) meets or exceeds the minima requested by want, per spec
// §4.3 step 2 ("compare recognized QoS fields to the opener's requested
// minima"). want's zero-valued numeric fields are treated as "no minimum".
func (q QoS) Satisfies(want QoS) error {
	if q.Pattern != want.Pattern {
		return fmt.Errorf("%w: service is %s, requested %s", ErrQoSTypeMismatch, q.Pattern, want.Pattern)
	}
	if q.Pattern == PubSub && want.TypeName != "" && q.TypeName != want.TypeName {
		return fmt.Errorf("%w: service carries %q, requested %q", ErrQoSTypeMismatch, q.TypeName, want.TypeName)
	}
	if q.Pattern == PubSub && want.TypeSize != 0 && q.TypeSize != want.TypeSize {
		return fmt.Errorf("%w: service carries size %d, requested %d", ErrQoSTypeMismatch, q.TypeSize, want.TypeSize)
	}
	if q.Pattern == PubSub && want.TypeAlignment != 0 && q.TypeAlignment != want.TypeAlignment {
		return fmt.Errorf("%w: service carries alignment %d, requested %d", ErrQoSTypeMismatch, q.TypeAlignment, want.TypeAlignment)
	}
	checks := []struct {
		name string
		have int
		want int
	}{
		{"max_publishers", q.MaxPublishers, want.MaxPublishers},
		{"max_subscribers", q.MaxSubscribers, want.MaxSubscribers},
		{"subscriber_buffer_size", q.SubscriberBufferSize, want.SubscriberBufferSize},
		{"subscriber_max_borrowed_samples", q.SubscriberMaxBorrowedSamples, want.SubscriberMaxBorrowedSamples},
		{"history_size", q.HistorySize, want.HistorySize},
		{"max_notifiers", q.MaxNotifiers, want.MaxNotifiers},
		{"max_listeners", q.MaxListeners, want.MaxListeners},
	}
	for _, c := range checks {
		if c.want > c.have {
			return fmt.Errorf("%w: %s supports %d, requested %d", ErrQoSInsufficientCapacity, c.name, c.have, c.want)
		}
	}
	return nil
}

// Marshal encodes q as TOML (spec §6 "self-describing key/value text form").
func (q QoS) Marshal() ([]byte, error) {
	return toml.Marshal(q)
}

// UnmarshalQoS decodes a static config file's bytes into a QoS. Unknown
// keys are silently ignored by go-toml/v2's default decode behavior,
// matching the forward-compatibility rule of spec §6.
func UnmarshalQoS(data []byte) (QoS, error) {
	var q QoS
	if err := toml.Unmarshal(data, &q); err != nil {
		return QoS{}, fmt.Errorf("storage: decode static config: %w", err)
	}
	return q, nil
}
