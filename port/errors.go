// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package port implements C8/C9: the publisher, subscriber, notifier, and
// listener port types, their registration in a service's dynamic config,
// per-peer connection reconciliation, and the borrowed sample handle.
//
// Method names (Loan, Send, SendCopy, Receive, Notify, TryWait, TimedWait,
// BlockingWait) follow eclipse-iceoryx-iceoryx2/iceoryx2-go's
// pubsub.go/event.go naming, adapted from its cgo PortFactory split to a
// single constructor per port type built directly on this module's
// storage/transport packages.
package port

import "errors"

// DegradationAction is a subscriber's choice of how to treat a peer whose
// connection could not be (re)established during reconciliation (spec
// §4.4 "degradation callback").
type DegradationAction int

const (
	// Ignore silently skips the failing peer.
	Ignore DegradationAction = iota
	// Warn logs the failure and skips the peer.
	Warn
	// Fail surfaces the failure to the caller of UpdateConnections/Receive.
	Fail
)

var (
	// ErrOutOfMemory is returned by Loan when the publisher's data segment
	// pool is exhausted (spec §4.4.1).
	ErrOutOfMemory = errors.New("port: publisher data segment exhausted")

	// ErrExceedsMaxBorrowedSamples is returned by Receive when the
	// subscriber is already holding subscriber_max_borrowed_samples
	// samples (spec §4.4.2, §7 "quota violation... must be reported to the
	// caller").
	ErrExceedsMaxBorrowedSamples = errors.New("port: exceeds max borrowed samples")

	// ErrNoSample is returned by Receive when no connection currently has
	// a pending offset.
	ErrNoSample = errors.New("port: no sample available")

	// ErrReconciliationFailed is returned by NewSubscriber and by
	// Subscriber.UpdateConnections/Receive when the subscriber's degradation
	// callback selected Fail for at least one peer (spec §7
	// "ConnectionFailure::OnlyPartialUpdate").
	ErrReconciliationFailed = errors.New("port: reconciliation failed for at least one peer")

	// ErrNoListenersReached is returned by Notify when no channel accepted
	// the notification; not itself treated as failure by callers that only
	// care about best-effort delivery.
	ErrNoListenersReached = errors.New("port: no listener reachable")
)
