// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package service implements the create/open/open-or-create lifecycle of
// spec §4.3 (C7): a named, QoS-matched, reference-counted binding of one
// messaging pattern, built on storage's static/dynamic config primitives.
//
// Naming and builder shape are grounded on
// eclipse-iceoryx-iceoryx2/iceoryx2-go's ServiceBuilder/PortFactory split
// (Service.PublishSubscribe()/Event() -> builder -> Create/Open/OpenOrCreate),
// adapted from a cgo binding to pure Go.
package service

import "errors"

// Error kinds spec §7 distinguishes as ordinary typed failures, not
// invariant violations.
var (
	// ErrAlreadyExists mirrors storage.ErrAlreadyExists at the service
	// level (spec §4.3 Create step 1).
	ErrAlreadyExists = errors.New("service: already exists")
	// ErrDoesNotExist mirrors storage.ErrDoesNotExist.
	ErrDoesNotExist = errors.New("service: does not exist")
	// ErrIsLocked mirrors storage.ErrIsLocked: a concurrent Create has not
	// yet committed its static config.
	ErrIsLocked = errors.New("service: is locked")
	// ErrWrongPattern is returned when opening a service by the wrong
	// builder (e.g. PublishSubscribe() against an Event service).
	ErrWrongPattern = errors.New("service: requested pattern does not match existing service")
	// ErrPayloadTypeMismatch is DoesNotSupportRequestedType spec §7 names
	// for PubSub type-identity mismatches on Open.
	ErrPayloadTypeMismatch = errors.New("service: payload type does not match existing service")
	// ErrInsufficientCapacity wraps storage.ErrQoSInsufficientCapacity at
	// the service level: spec §7's "DoesNotSupportRequestedAmountOf*"
	// family, collapsed to one sentinel since Go errors carry their own
	// message rather than a field-specific enum variant.
	ErrInsufficientCapacity = errors.New("service: existing service does not support requested capacity")
	// ErrOpenOrCreateExhausted is returned when OpenOrCreate's bounded
	// retry loop (spec §4.3 "loop back to open... bounded retry with
	// backoff, then fail") never converges.
	ErrOpenOrCreateExhausted = errors.New("service: open-or-create retries exhausted")
)
